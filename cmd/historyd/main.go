package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/wallet-history/internal/config"
	"github.com/emperorhan/wallet-history/internal/metrics"
	"github.com/emperorhan/wallet-history/internal/pipeline"
	"github.com/emperorhan/wallet-history/internal/server"
	"github.com/emperorhan/wallet-history/internal/source/subscan"
	"github.com/emperorhan/wallet-history/internal/store"
	"github.com/emperorhan/wallet-history/internal/store/memory"
	"github.com/emperorhan/wallet-history/internal/store/postgres"
	redisstore "github.com/emperorhan/wallet-history/internal/store/redis"
	"github.com/emperorhan/wallet-history/internal/tracing"
)

const (
	serviceName         = "wallet-history"
	dbPoolStatsInterval = 15 * time.Second
	retryBackoffInitial = 500 * time.Millisecond
	retryBackoffMax     = 5 * time.Second
)

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         prometheus.Gauge
	inUse        prometheus.Gauge
	idle         prometheus.Gauge
	waitCount    prometheus.Gauge
	waitDuration prometheus.Gauge
}

func collectDBPoolStats(db dbStatsProvider, gauges dbPoolStatsGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.Set(float64(stats.OpenConnections))
	gauges.inUse.Set(float64(stats.InUse))
	gauges.idle.Set(float64(stats.Idle))
	gauges.waitCount.Set(float64(stats.WaitCount))
	gauges.waitDuration.Set(stats.WaitDuration.Seconds())
	return nil
}

func runDBPoolStatsPump(ctx context.Context, db dbStatsProvider, interval time.Duration, logger *slog.Logger) error {
	gauges := dbPoolStatsGauges{
		open:         metrics.DBPoolOpen,
		inUse:        metrics.DBPoolInUse,
		idle:         metrics.DBPoolIdle,
		waitCount:    metrics.DBPoolWaitCount,
		waitDuration: metrics.DBPoolWaitDurationSeconds,
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := collectDBPoolStats(db, gauges); err != nil {
		logger.Warn("failed to collect initial db pool stats", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := collectDBPoolStats(db, gauges); err != nil {
				logger.Warn("failed to collect db pool stats", "error", err)
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// historyBackend is the selected cache plus what shutdown and the pool
// stats pump need from it.
type historyBackend struct {
	cache store.HistoryCache
	db    dbStatsProvider
	close func() error
}

func openHistoryCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*historyBackend, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		rs, err := redisstore.NewStore(ctx, cfg.Redis.URL, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		logger.Info("history cache backend", "backend", "redis")
		return &historyBackend{cache: store.NewInstrumented(rs, config.CacheBackendRedis), close: rs.Close}, nil

	case config.CacheBackendPostgres:
		db, err := postgres.New(ctx, postgres.Config{
			URL:                cfg.DB.URL,
			MaxOpenConns:       cfg.DB.MaxOpenConns,
			MaxIdleConns:       cfg.DB.MaxIdleConns,
			ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
			StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres cache: %w", err)
		}
		migrations := postgres.Migrations()
		if cfg.DB.MigrationsDir != "" {
			migrations = os.DirFS(cfg.DB.MigrationsDir)
		}
		if err := db.RunMigrations(ctx, migrations); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres cache: %w", err)
		}
		logger.Info("history cache backend", "backend", "postgres")
		repo := postgres.NewHistoryCacheRepo(db)
		return &historyBackend{
			cache: store.NewInstrumented(repo, config.CacheBackendPostgres),
			db:    db.DB,
			close: db.Close,
		}, nil

	default:
		logger.Info("history cache backend", "backend", "memory", "capacity", cfg.Cache.MemoryCapacity)
		ms := memory.New(cfg.Cache.MemoryCapacity, cfg.Cache.TTL)
		return &historyBackend{
			cache: store.NewInstrumented(ms, config.CacheBackendMemory),
			close: func() error { return nil },
		}, nil
	}
}

func newSubscanClient(cfg *config.Config, logger *slog.Logger) *subscan.Client {
	return subscan.NewClient(cfg.Chains.List(), logger,
		subscan.WithAPIKey(cfg.Subscan.APIKey),
		subscan.WithHTTPClient(&http.Client{Timeout: cfg.Subscan.Timeout}),
		subscan.WithRateLimit(cfg.Subscan.RPS, cfg.Subscan.Burst),
		subscan.WithRetry(cfg.Subscan.MaxAttempts, retryBackoffInitial, retryBackoffMax),
		subscan.WithGovernanceModule(cfg.Subscan.GovernanceModule),
	)
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	chains := cfg.Chains.List()
	logger.Info("starting wallet-history",
		"port", cfg.Server.Port,
		"chains", len(chains),
		"cache_backend", cfg.Cache.Backend,
		"page_size", cfg.History.PageSize,
		"max_page_cap", cfg.History.MaxPageCap,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: serviceName,
		Endpoint:    tracingEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openHistoryCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open history cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.close(); err != nil {
			logger.Warn("history cache close error", "error", err)
		}
	}()

	client := newSubscanClient(cfg, logger)
	registry := server.NewRegistry(ctx, client, client, backend.cache, cfg.Chains, server.RegistryConfig{
		Session: pipeline.Config{
			PageSize:         cfg.History.PageSize,
			MaxPageCap:       cfg.History.MaxPageCap,
			MaxCachedRecords: cfg.History.MaxCachedRecords,
			Location:         cfg.History.Location,
		},
		IdleTTL:  cfg.Session.IdleTTL,
		Capacity: cfg.Session.Capacity,
	}, logger)

	limiter := server.NewRateLimitMiddleware(logger)
	defer limiter.Stop()
	api := server.NewServer(registry, logger, server.WithRateLimit(limiter))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.Port, api.Handler(), cfg.Server.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		return registry.Run(gCtx, time.Minute)
	})
	if backend.db != nil {
		g.Go(func() error {
			return runDBPoolStatsPump(gCtx, backend.db, dbPoolStatsInterval, logger)
		})
	}
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("wallet-history exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("wallet-history shut down gracefully")
}
