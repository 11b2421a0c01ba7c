/**
 * @description
 * This is the main entry point for the scheduler binary.
 * It is a non-HTTP, long-running process that periodically triggers the
 * registration service's pending-status sync pass over its cron endpoint.
 * The database connection is only used for a cheap pre-check that skips
 * trigger calls when nothing is pending.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brysonmccleary/covecrm-registration-service/internal/config"
	"github.com/brysonmccleary/covecrm-registration-service/internal/scheduler"
	"github.com/brysonmccleary/covecrm-registration-service/internal/store"
	"github.com/brysonmccleary/covecrm-registration-service/pkg/syncclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.SyncServiceURL) == "" {
		logger.Error("SYNC_SERVICE_URL must be configured")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.CronSecret) == "" {
		logger.Error("CRON_SECRET must be configured")
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection for the pending-profile pre-check
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Initialize dependencies
	repository := store.NewRepository(dbpool)
	trigger := syncclient.NewClient(cfg.SyncServiceURL, cfg.CronSecret)
	jobs := scheduler.NewJobs(repository, trigger, logger)
	sched := scheduler.NewScheduler(jobs, logger, cfg)

	// Start the cron scheduler in the background
	sched.Start()
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Stop the scheduler
	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := sched.Stop()
	<-stopCtx.Done() // Wait for scheduler to fully stop
	logger.Info("scheduler stopped gracefully")
}
