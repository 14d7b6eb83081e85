package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"slab-scout/internal/cache"
	"slab-scout/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func TestNewCacheJanitorInterval(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	if j := NewCacheJanitor(tracer, cache.NewMemoryStore(), nil, 5); j.interval != 5*time.Minute {
		t.Fatalf("expected 5m interval, got %v", j.interval)
	}
	if j := NewCacheJanitor(tracer, cache.NewMemoryStore(), nil, 0); j.interval != time.Hour {
		t.Fatalf("expected hourly default, got %v", j.interval)
	}
}

func TestCacheJanitorSweepRemovesExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore(cache.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_ = store.Set(ctx, "old", []byte("1"), time.Minute)
	_ = store.Set(ctx, "fresh", []byte("2"), time.Hour)
	now = now.Add(2 * time.Minute)

	m := metrics.New(prometheus.NewRegistry())
	j := NewCacheJanitor(trace.NewNoopTracerProvider().Tracer("test"), store, m, 60)
	if err := j.Sweep(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, _ := store.Stats(ctx)
	if stats.Total != 1 || stats.Expired != 0 {
		t.Fatalf("unexpected stats after sweep: %+v", stats)
	}
	if got := testutil.ToFloat64(m.CacheEntriesSwept); got != 1 {
		t.Fatalf("expected 1 swept entry recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheEntries); got != 1 {
		t.Fatalf("expected 1 remaining entry recorded, got %v", got)
	}
}

func TestCacheJanitorSweepError(t *testing.T) {
	j := NewCacheJanitor(trace.NewNoopTracerProvider().Tracer("test"), &stubSweeper{err: errors.New("redis down")}, nil, 60)
	if err := j.Sweep(context.Background()); err == nil {
		t.Fatal("expected sweep error")
	}
}

func TestCacheJanitorStart(t *testing.T) {
	t.Parallel()

	stub := &stubSweeper{}
	j := NewCacheJanitor(trace.NewNoopTracerProvider().Tracer("test"), stub, nil, 60)
	j.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	eventually(t, func() bool { return stub.calls.Load() > 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type stubSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *stubSweeper) Cleanup(ctx context.Context) (int, error) {
	s.calls.Add(1)
	return 0, s.err
}

func (s *stubSweeper) Stats(ctx context.Context) (cache.Stats, error) {
	return cache.Stats{Backend: "stub"}, nil
}
