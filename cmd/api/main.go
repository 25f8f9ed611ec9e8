// Command api is the Scoracle Sim service: the HTTP read API plus the
// background workers that keep the simulation moving (outcome publication,
// settlement, notification dispatch).
//
// Usage:
//
//	scoracle-api
//	API_PORT=8080 scoracle-api

// @title Scoracle Sim API
// @version 1.0.0
// @description Read API over the simulated match schedule: the current and upcoming matches, lookups by index or id, and published outcomes.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Scoracle
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/scoracle-sim/internal/api"
	"github.com/albapepper/scoracle-sim/internal/api/handler"
	"github.com/albapepper/scoracle-sim/internal/app"
	"github.com/albapepper/scoracle-sim/internal/cache"
	"github.com/albapepper/scoracle-sim/internal/config"
	"github.com/albapepper/scoracle-sim/internal/db"
	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/listener"
	"github.com/albapepper/scoracle-sim/internal/maintenance"
	"github.com/albapepper/scoracle-sim/internal/metrics"
	"github.com/albapepper/scoracle-sim/internal/notifications"
	"github.com/albapepper/scoracle-sim/internal/schedule"

	_ "github.com/albapepper/scoracle-sim/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	leagues, err := league.LoadFile(cfg.LeaguesFile)
	if err != nil {
		logger.Error("Failed to load leagues", "file", cfg.LeaguesFile, "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// A missing or invalid schedule is fatal: nothing can be resolved without it.
	sched, err := schedule.Load(ctx, schedule.NewPGStore(pool.Pool))
	if err != nil {
		logger.Error("Schedule configuration unavailable (run `scoracle-ingest schedule set`)", "error", err)
		os.Exit(1)
	}
	logger.Info("Schedule loaded",
		"interval_minutes", sched.IntervalMinutes, "version", sched.Version, "timezone", sched.TimezoneLabel)

	comps, err := app.NewPostgres(cfg, pool, leagues, logger)
	if err != nil {
		logger.Error("Failed to wire components", "error", err)
		os.Exit(1)
	}
	defer comps.Close()

	if err := comps.BuildMatches(ctx, logger); err != nil {
		logger.Error("Failed to build match pool", "error", err)
		os.Exit(1)
	}

	metrics.Register()

	// Settlement reconciler, woken early by LISTEN/NOTIFY on new outcomes
	reconciler := comps.Reconciler(cfg, logger)
	go reconciler.Run(ctx)
	go listener.Start(ctx, cfg.DatabaseURL, func(string) { reconciler.Wake() }, logger)

	// Notification dispatch worker
	go notifications.StartWorker(ctx, comps.Outbox, comps.Sender, nil, logger)

	// Maintenance tickers (outcome publication, fixture horizon, outbox cleanup)
	tasks := comps.Tasks()
	mcfg := maintenance.DefaultConfig()
	mcfg.PublishInterval = cfg.PublishInterval
	mcfg.Retention = cfg.NotifyRetention
	tasks.PublishOutcomes(ctx, logger)
	go maintenance.Start(ctx, tasks, mcfg, logger)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled, cfg.CacheMaxEntries)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled, "max_entries", cfg.CacheMaxEntries)

	// Create router
	router := api.NewRouter(handler.Deps{
		Schedule: comps.Schedule,
		Matches:  comps.Matches,
		Outcomes: comps.Outcomes,
		DB:       pool,
		Cache:    appCache,
	}, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Scoracle Sim API",
			"addr", addr,
			"environment", cfg.Environment,
			"leagues", len(leagues))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
