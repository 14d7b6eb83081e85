// Package app wires the lookup stack from configuration. Both the HTTP
// server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"slab-scout/internal/cache"
	"slab-scout/internal/config"
	"slab-scout/internal/domain"
	"slab-scout/internal/metrics"
	"slab-scout/internal/provider"
	"slab-scout/internal/scoring"
	"slab-scout/internal/service"

	"go.opentelemetry.io/otel/trace"
)

var newRedisClientFunc = cache.NewRedisClient

type Components struct {
	Lookup *service.LookupService
	Store  cache.Store
	// Close releases backend connections.
	Close func()
}

// NewStore returns the configured cache backend.
func NewStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.CacheBackend != config.CacheBackendRedis {
		slog.Info("using in-memory lookup cache")
		return cache.NewMemoryStore(), func() {}, nil
	}

	client, err := newRedisClientFunc(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using redis lookup cache")
	return cache.NewRedisStore(client, ""), func() { _ = client.Close() }, nil
}

// Build assembles the clients, scorer, cache and orchestrator.
func Build(ctx context.Context, cfg *config.Config, tracer trace.Tracer, m *metrics.Metrics) (*Components, error) {
	store, closeStore, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	upstreamTimeout := time.Duration(cfg.UpstreamTimeoutSecs) * time.Second
	httpClient := &http.Client{Timeout: upstreamTimeout}

	psa := provider.NewPSAClient(tracer, cfg.PSABaseURL, cfg.PSAAPIToken,
		provider.WithPSAHTTPClient(httpClient),
		provider.WithPSAMetrics(m),
	)

	var market service.MarketDataProvider
	if cfg.MarketDataEnabled() {
		tokens := provider.NewTokenManager(tracer, cfg.EbayClientID, cfg.EbayClientSecret,
			cfg.EbayTokenURL, []string{provider.EbayScope}, httpClient)
		market = provider.NewEbayClient(tracer, cfg.EbayBaseURL, tokens,
			provider.WithEbayHTTPClient(httpClient),
			provider.WithEbayMarketplace(cfg.EbayMarketplaceID),
			provider.WithEbaySearchLimit(cfg.EbaySearchLimit),
			provider.WithEbayRateLimiter(provider.NewRateLimiterPerSecond(cfg.EbayRateLimitPerSec)),
			provider.WithEbayMetrics(m),
		)
	}

	lookup := service.NewLookupService(tracer, psa, market, scoring.NewScorer(domain.Grader), store,
		service.WithLookupMetrics(m),
		service.WithCacheTTL(time.Duration(cfg.CacheTTLHours)*time.Hour),
		service.WithTimeouts(
			time.Duration(cfg.LookupTimeoutSecs)*time.Second,
			time.Duration(cfg.MarketTimeoutSecs)*time.Second,
		),
	)

	return &Components{Lookup: lookup, Store: store, Close: closeStore}, nil
}
