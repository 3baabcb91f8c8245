/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the allowance ledger server: configuration,
  storage, engine, interest scheduler, HTTP router, graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Open the SQLite store, seed settings on first run
  3. Wire engine, settler, handlers, router
  4. Start the background interest scheduler
  5. Serve HTTP until SIGINT/SIGTERM, then drain

ENVIRONMENT:
  PORT                 HTTP port (default 8080)
  DB_PATH              SQLite path, ":memory:" for ephemeral
  INTEREST_INTERVAL    settlement check interval (default 1h)
  INTEREST_ENABLED     "false" disables the background scheduler
  DEFAULT_ANNUAL_RATE  seed rate for a fresh database (percent)
  DEFAULT_TIMEZONE     seed IANA timezone for a fresh database
  ALLOWED_ORIGINS      comma-separated CORS origins
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sprout/allowance-ledger/api"
	"github.com/sprout/allowance-ledger/config"
	"github.com/sprout/allowance-ledger/interest"
	"github.com/sprout/allowance-ledger/ledger"
	"github.com/sprout/allowance-ledger/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if err := seedSettings(ctx, store, cfg); err != nil {
		log.Error("failed to seed settings", "err", err)
		os.Exit(1)
	}

	engine := ledger.NewEngine(store)
	settler := interest.NewSettler(engine, log)
	handler := api.NewHandler(engine, settler, log)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	scheduler := api.NewInterestScheduler(settler, log)
	scheduler.CheckInterval = cfg.InterestInterval
	scheduler.Enabled = cfg.InterestEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "err", err)
	}
	log.Info("server stopped")
}

// seedSettings writes the default interest settings on first run so
// settlement can start without manual setup.
func seedSettings(ctx context.Context, store *sqlite.Store, cfg *config.Config) error {
	_, err := store.GetSettings(ctx)
	if err == nil {
		return nil
	}
	if !ledger.IsNotFound(err) {
		return err
	}
	return store.SaveSettings(ctx, ledger.Settings{
		AnnualRate: cfg.DefaultAnnualRate,
		Timezone:   cfg.DefaultTimezone,
	})
}
