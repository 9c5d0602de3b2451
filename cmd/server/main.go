/*
main.go - Ledger Store and engine server entry point

PURPOSE:
  Serves the SQLite Ledger Store and the credit allocation engine over
  HTTP. Handles configuration, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load config (defaults, TOML file, .env, environment, flags)
  2. Build the logrus logger
  3. Initialize SQLite store, optionally seeding a demo scenario
  4. Register Prometheus metrics
  5. Start the intent reconciliation scheduler
  6. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config    TOML config file (optional)
  -port      HTTP server port (overrides config)
  -db        SQLite database path (overrides config)
             Use ":memory:" for in-memory database
  -scenario  Demo scenario to load at startup (resets the database)

ENVIRONMENT:
  CREDIT_PORT, CREDIT_DB, CREDIT_SCENARIO, CREDIT_DETAIL_CONCURRENCY,
  CREDIT_RECONCILE_INTERVAL, LOG_LEVEL, LOG_FORMAT, LOG_FILE.
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection

EXAMPLES:
  ./server -db=":memory:" -scenario=jane-two-sales
  ./server -config=/etc/credit.toml

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/iclas/credit-engine/api"
	"github.com/iclas/credit-engine/config"
	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "TOML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	scenario := flag.String("scenario", "", "Demo scenario to load at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *scenario != "" {
		cfg.Server.Scenario = *scenario
	}

	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if cfg.Server.Scenario != "" {
		if err := api.LoadScenarioByID(context.Background(), store, cfg.Server.Scenario, time.Now()); err != nil {
			return err
		}
		log.WithField("scenario", cfg.Server.Scenario).Info("scenario loaded")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := credit.NewMetrics(registry)

	// Initialize handler
	handler := api.NewHandler(store, log, metrics)
	handler.DetailConcurrency = cfg.Engine.DetailConcurrency

	// Background reconciliation of stale allocation intents
	scheduler := api.NewIntentScheduler(store, log)
	scheduler.CheckInterval = cfg.Engine.ReconcileInterval
	scheduler.Grace = cfg.Engine.IntentGrace
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       registry,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr": fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
			"db":   cfg.Server.DBPath,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return err
	}

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
