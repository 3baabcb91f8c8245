// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds everything the server needs at startup. Interest
// settings live in the store; the defaults here only seed a fresh
// database.
type Config struct {
	Port   string
	DBPath string

	// Background settlement
	InterestInterval time.Duration
	InterestEnabled  bool

	// Seeds for a fresh database
	DefaultAnnualRate decimal.Decimal
	DefaultTimezone   string

	AllowedOrigins []string
}

func Load() *Config {
	return &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./data/allowance.db"),

		InterestInterval: getEnvDuration("INTEREST_INTERVAL", 1*time.Hour),
		InterestEnabled:  getEnv("INTEREST_ENABLED", "true") == "true",

		DefaultAnnualRate: getEnvDecimal("DEFAULT_ANNUAL_RATE", decimal.NewFromInt(5)),
		DefaultTimezone:   getEnv("DEFAULT_TIMEZONE", "Asia/Shanghai"),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
	}
}

// Validate reports configuration problems before the server starts.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if !c.DefaultAnnualRate.IsPositive() {
		return fmt.Errorf("default annual rate %s must be positive", c.DefaultAnnualRate)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", c.DefaultTimezone, err)
	}
	if c.InterestInterval < time.Minute {
		return fmt.Errorf("interest interval %s too short", c.InterestInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
