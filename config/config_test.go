package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.InterestInterval)
	assert.True(t, cfg.InterestEnabled)
	assert.Equal(t, "5", cfg.DefaultAnnualRate.String())
	assert.Equal(t, "Asia/Shanghai", cfg.DefaultTimezone)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INTEREST_INTERVAL", "30m")
	t.Setenv("INTEREST_ENABLED", "false")
	t.Setenv("DEFAULT_ANNUAL_RATE", "3.5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.InterestInterval)
	assert.False(t, cfg.InterestEnabled)
	assert.Equal(t, "3.5", cfg.DefaultAnnualRate.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = "not-a-port" }},
		{"port out of range", func(c *Config) { c.Port = "70000" }},
		{"zero rate", func(c *Config) { c.DefaultAnnualRate = c.DefaultAnnualRate.Sub(c.DefaultAnnualRate) }},
		{"unknown timezone", func(c *Config) { c.DefaultTimezone = "Mars/Olympus" }},
		{"interval too short", func(c *Config) { c.InterestInterval = time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
