/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee engine server: invoice generation, payment
  reconciliation and the overdue sweep over a SQLite store.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, FEE_ENGINE_* environment)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Create API handler and optionally seed a demo scenario
  5. Start the overdue scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     dotenv file to read before the environment (default: .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (FEE_ENGINE_SHUTDOWN_TIMEOUT)
  3. Stop the overdue scheduler
  4. Close database connection

EXAMPLES:
  # Run with file database
  FEE_ENGINE_DB_PATH=./data/fees.db ./server

  # In-memory database seeded with a demo school
  FEE_ENGINE_DB_PATH=":memory:" FEE_ENGINE_SEED_SCENARIO=partial-payments ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, logger)
	handler.Overdue.Interval = cfg.OverdueInterval
	handler.Overdue.Enabled = cfg.OverdueEnabled

	if cfg.SeedScenario != "" {
		if err := handler.LoadScenarioByID(context.Background(), cfg.SeedScenario); err != nil {
			return fmt.Errorf("seed scenario %s: %w", cfg.SeedScenario, err)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	handler.Overdue.Start()
	defer handler.Overdue.Stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("seed_scenario", cfg.SeedScenario))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
