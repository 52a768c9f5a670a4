package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/bioviews/pkg/analytics"
	"github.com/platinummonkey/bioviews/pkg/api"
	"github.com/platinummonkey/bioviews/pkg/config"
	"github.com/platinummonkey/bioviews/pkg/dedup"
	"github.com/platinummonkey/bioviews/pkg/middleware"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/presence"
	"github.com/platinummonkey/bioviews/pkg/storage"
	"github.com/platinummonkey/bioviews/pkg/storage/postgres"
	"github.com/platinummonkey/bioviews/pkg/views"
)

const redisPrefix = "bioviews"

// store is what the server needs from a storage backend.
type store interface {
	views.ViewStore
	views.CountStore
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("bioviews server stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		if providers != nil {
			otelMetrics, err := observability.NewOTelMetrics()
			if err != nil {
				return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
			}
			metrics.MirrorToOTel(otelMetrics)
		}
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Connected to Redis")
	}

	st, db, closeStore, err := openStore(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	counts := views.NewCachedCounter(st, cfg.Storage.CountCacheSize, cfg.Storage.CountCacheTTL, metrics)
	hasher := views.NewIPHasher(cfg.Tracking.IPHashSecret)
	recorder := views.NewRecorder(st, counts, views.RecorderOptions{
		Hasher:  hasher,
		Timeout: cfg.Tracking.RecordTimeout,
		Atomic:  cfg.Tracking.AtomicWrites,
		Logger:  logger,
		Metrics: metrics,
	})
	analyticsService := analytics.NewService(st, counts, analytics.Options{
		RecentLimit:    cfg.Analytics.RecentLimit,
		WindowDays:     cfg.Analytics.WindowDays,
		WindowMaxRows:  cfg.Analytics.WindowMaxRows,
		CacheSizeBytes: cfg.Analytics.CacheSizeBytes,
		CacheTTL:       cfg.Analytics.CacheTTL,
		Logger:         logger,
		Metrics:        metrics,
	})

	hub := newHub(cfg, redisClient, logger, metrics)

	opts := api.Options{
		Recorder:          recorder,
		Counts:            counts,
		Analytics:         analyticsService,
		Hub:               hub,
		Cooldown:          cfg.Tracking.Cooldown,
		Hasher:            hasher,
		Identity:          middleware.NewIdentityMiddleware(cfg.Auth.JWTSecret, logger),
		TrustClientViewer: cfg.Auth.TrustClientViewer,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		DefaultLocation:   cfg.Location(),
		KeepAlive:         cfg.Presence.KeepAlive,
		Logger:            logger,
		Metrics:           metrics,
	}
	if cfg.Tracking.ServerCooldown {
		opts.Cooldowns = dedup.NewRedisStore(redisClient, cfg.Tracking.Cooldown, logger)
		logger.Info("Server-side cooldown enabled")
	}
	if cfg.RateLimit.Enabled {
		rl := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.WindowDuration,
			BurstSize:         cfg.RateLimit.BurstSize,
		}
		opts.RateLimit = rl
		if redisClient != nil {
			opts.Limiter = middleware.NewDistributedRateLimiter(redisClient, rl, redisPrefix+":ratelimit")
		} else {
			limiter := middleware.NewRateLimiter(rl)
			limiter.StartCleanup(ctx, 5*time.Minute)
			opts.Limiter = limiter
		}
	}

	server := api.NewServer(opts)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc("presence", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error {
		return closeStore()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting bioviews API server")
		return serve(httpServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health and metrics server")
		return serve(healthServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("bioviews server stopped")
	return nil
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// openStore connects the configured backend. db is nil for the memory backend.
func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (store, *sql.DB, func() error, error) {
	seeds, err := config.ParseSeedProfiles(cfg.Storage.SeedProfiles)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.Storage.Type == "memory" {
		mem := views.NewMemoryStore()
		for id, n := range seeds {
			mem.AddProfile(id, n)
		}
		logger.WithField("profiles", len(seeds)).Warn("Using in-memory storage; views are lost on restart")
		return mem, nil, func() error { return nil }, nil
	}

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: cfg.Storage.PostgresReplicaURLs,
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	cm.StartMaintenance(ctx, 30*time.Second, metrics)

	pg := views.NewPostgresStore(cm.Primary(), cm.Replica())
	if cfg.Storage.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			cm.Close()
			return nil, nil, nil, err
		}
	}
	for id, n := range seeds {
		if err := pg.EnsureProfile(ctx, id, n); err != nil {
			cm.Close()
			return nil, nil, nil, err
		}
	}
	logger.Info("Connected to PostgreSQL")
	return pg, cm.Primary(), cm.Close, nil
}

func newHub(cfg *config.Config, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *presence.Hub {
	var registry presence.Registry = presence.NewMemoryRegistry()
	if redisClient != nil {
		registry = presence.NewRedisRegistry(redisClient, redisPrefix+":presence")
	}

	opts := presence.HubOptions{
		LivenessTTL:      cfg.Presence.LivenessTTL,
		SyncInterval:     cfg.Presence.SyncInterval,
		SubscriberBuffer: cfg.Presence.SubscriberBuffer,
		Obfuscator:       presence.NewKeyObfuscator(cfg.Presence.KeySecret),
		Logger:           logger,
		Metrics:          metrics,
	}
	if cfg.Presence.Backplane == "redis" {
		opts.Backplane = presence.NewRedisBackplane(redisClient, redisPrefix+":presence", logger)
	}
	return presence.NewHub(registry, opts)
}
