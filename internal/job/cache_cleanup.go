package job

import (
	"context"
	"log/slog"
	"time"

	"slab-scout/internal/cache"
	"slab-scout/internal/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultCleanupInterval = time.Hour

// Sweeper is the part of the cache the janitor drives.
type Sweeper interface {
	Cleanup(ctx context.Context) (int, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

// CacheJanitor periodically removes expired cache entries. It is the only
// proactive eviction path; reads evict lazily.
type CacheJanitor struct {
	tracer   trace.Tracer
	store    Sweeper
	metrics  *metrics.Metrics
	interval time.Duration
}

func NewCacheJanitor(tracer trace.Tracer, store Sweeper, m *metrics.Metrics, intervalMins int) *CacheJanitor {
	interval := time.Duration(intervalMins) * time.Minute
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &CacheJanitor{
		tracer:   tracer,
		store:    store,
		metrics:  m,
		interval: interval,
	}
}

// Start blocks until ctx is cancelled.
func (j *CacheJanitor) Start(ctx context.Context) {
	slog.Info("cache janitor starting", "interval", j.interval)
	j.pollLoop(ctx, j.interval, j.Sweep)
	slog.Info("cache janitor stopped")
}

func (j *CacheJanitor) pollLoop(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				slog.Error("cache sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one cleanup pass.
func (j *CacheJanitor) Sweep(ctx context.Context) error {
	ctx, span := j.tracer.Start(ctx, "cache-janitor.sweep")
	defer span.End()

	removed, err := j.store.Cleanup(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	stats, err := j.store.Stats(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	j.metrics.CacheSwept(removed, stats.Total)
	span.SetAttributes(
		attribute.Int("cache.removed", removed),
		attribute.Int("cache.remaining", stats.Total),
	)
	if removed > 0 {
		slog.Info("cache sweep", "removed", removed, "remaining", stats.Total)
	}
	return nil
}
