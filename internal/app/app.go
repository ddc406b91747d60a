// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/api"
	"github.com/kberan/marksmith/internal/clock/system"
	"github.com/kberan/marksmith/internal/config"
	"github.com/kberan/marksmith/internal/enrich"
	"github.com/kberan/marksmith/internal/id/uuid"
	"github.com/kberan/marksmith/internal/metrics"
	"github.com/kberan/marksmith/internal/metricscache"
	"github.com/kberan/marksmith/internal/policy/ratelimit"
	"github.com/kberan/marksmith/internal/stats"
	"github.com/kberan/marksmith/internal/storage"
	"github.com/kberan/marksmith/internal/storage/postgres"
)

// App holds the shared, long-lived services for the enrichment service. It is
// initialized once at startup and handed to the server and pipeline.
type App struct {
	logger   *zap.Logger
	provider storage.Provider
	pool     *enrich.Pool
	stats    *stats.Service
	server   *api.Server
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Provider exposes the configured storage provider.
func (a *App) Provider() storage.Provider { return a.provider }

// Pool returns the enrichment worker pool.
func (a *App) Pool() *enrich.Pool { return a.pool }

// Stats returns the cached statistics service.
func (a *App) Stats() *stats.Service { return a.stats }

// Server returns the wired HTTP server.
func (a *App) Server() *api.Server { return a.server }

// New builds the service graph from configuration. It fails fast when any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("initializing services",
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.Bool("enrichment_enabled", cfg.Enrichment.Enabled),
	)
	metrics.Init()

	provider, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	idGen := uuid.New()

	fetcher := enrich.NewHTTPFetcher(enrich.FetcherConfig{
		UserAgent:    cfg.Enrichment.UserAgent,
		ProbeTimeout: cfg.Enrichment.ProbeTimeout(),
		FetchTimeout: cfg.Enrichment.FetchTimeout(),
	}, logger.Named("fetcher"))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultQPS:   cfg.Enrichment.DomainQPS,
		DefaultBurst: 1,
	})

	cache := metricscache.New(clock, logger.Named("cache"))
	statsSvc := stats.NewService(provider.Bookmarks(), cache)

	pool := enrich.NewPool(
		provider.Bookmarks(),
		provider.Queue(),
		fetcher,
		limiter,
		clock,
		cache,
		enrich.PoolConfig{
			BatchSize:     cfg.Enrichment.BatchSize,
			Concurrency:   cfg.Enrichment.Concurrency,
			Freshness:     cfg.Enrichment.FreshnessWindow(),
			DispatchPause: cfg.Enrichment.DispatchPause(),
		},
		logger.Named("pool"),
	)

	server := api.NewServer(
		provider.Bookmarks(),
		provider.Queue(),
		pool,
		statsSvc,
		idGen,
		clock,
		cfg,
		logger.Named("api"),
	)

	return &App{
		logger:   logger,
		provider: provider,
		pool:     pool,
		stats:    statsSvc,
		server:   server,
	}, nil
}

// Close releases held resources.
func (a *App) Close() error {
	if err := a.provider.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Provider, error) {
	if cfg.Storage.Provider == "postgres" {
		logger.Info("connecting to postgres")
		p, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: int32(cfg.Storage.Postgres.MaxOpenConns),
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres: %w", err)
		}
		return p, nil
	}
	p, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	return p, nil
}
