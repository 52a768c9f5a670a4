package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/bioviews/pkg/analytics"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/views"
)

var (
	dbURL         = flag.String("db-url", getEnv("BIOVIEWS_POSTGRES_URL", "postgres://localhost/bioviews?sslmode=disable"), "PostgreSQL connection URL")
	schedule      = flag.String("schedule", getEnv("BIOVIEWS_RETENTION_SCHEDULE", "0 3 * * *"), "Cron schedule for the purge (default: 03:00 UTC daily)")
	retentionDays = flag.Int("retention-days", getEnvInt("BIOVIEWS_RETENTION_DAYS", 365), "Days of view history to keep (0 disables purging)")
	runOnce       = flag.Bool("run-once", false, "Purge once and exit")
	logLevel      = flag.String("log-level", getEnv("BIOVIEWS_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := observability.NewLogger(observability.ParseLogLevel(*logLevel), os.Stdout).
		WithComponent("bioviews-retention")

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("Failed to ping database")
		os.Exit(1)
	}

	retention := analytics.NewRetention(views.NewPostgresStore(db, nil), *retentionDays, logger, nil)

	if *runOnce {
		purged, err := retention.Run(context.Background())
		if err != nil {
			logger.WithError(err).Error("Retention run failed")
			os.Exit(1)
		}
		logger.WithField("purged", purged).Info("Retention run completed")
		return
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := retention.Schedule(c, *schedule); err != nil {
		logger.WithError(err).Error("Failed to schedule retention")
		os.Exit(1)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule":       *schedule,
		"retention_days": *retentionDays,
	}).Info("bioviews retention job started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	logger.Info("Retention job stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
