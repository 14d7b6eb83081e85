package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisClientWithCustomAddr(t *testing.T) {
	origNewClient := newRedisClient
	origPing := pingRedis
	t.Cleanup(func() {
		newRedisClient = origNewClient
		pingRedis = origPing
	})

	var capturedAddr string
	newRedisClient = func(opts *redis.Options) *redis.Client {
		capturedAddr = opts.Addr
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return nil
	}

	client, err := NewRedisClient(context.Background(), "redis:9999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if capturedAddr != "redis:9999" {
		t.Fatalf("expected custom addr, got %s", capturedAddr)
	}
}

func TestNewRedisClientDefaults(t *testing.T) {
	origNewClient := newRedisClient
	origPing := pingRedis
	t.Cleanup(func() {
		newRedisClient = origNewClient
		pingRedis = origPing
	})

	var capturedAddr string
	newRedisClient = func(opts *redis.Options) *redis.Client {
		capturedAddr = opts.Addr
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return nil
	}

	client, err := NewRedisClient(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if capturedAddr != "localhost:6379" {
		t.Fatalf("expected default addr, got %s", capturedAddr)
	}
}

func TestNewRedisClientPingFailure(t *testing.T) {
	origPing := pingRedis
	t.Cleanup(func() { pingRedis = origPing })
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return errors.New("connection refused")
	}

	if _, err := NewRedisClient(context.Background(), "redis://localhost:6379/0"); err == nil {
		t.Fatal("expected ping failure to surface")
	}
}

type fakeRedis struct {
	data map[string][]byte
	ttl  map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte), ttl: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	}
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	store := NewRedisStore(fake, "")
	ctx := context.Background()

	if err := store.Set(ctx, "cert:1234567", []byte(`{"a":1}`), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.ttl["slab-scout:cert:1234567"] != DefaultTTL {
		t.Fatalf("expected default ttl, got %v", fake.ttl["slab-scout:cert:1234567"])
	}

	got, ok, err := store.Get(ctx, "cert:1234567")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected payload: %s", got)
	}

	if _, ok, _ := store.Get(ctx, "cert:missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestRedisStoreStatsAndClearUsePrefix(t *testing.T) {
	fake := newFakeRedis()
	fake.data["other-app:key"] = []byte("x")
	store := NewRedisStore(fake, "test:")
	ctx := context.Background()

	_ = store.Set(ctx, "a", []byte("1"), time.Hour)
	_ = store.Set(ctx, "b", []byte("2"), time.Hour)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Backend != "redis" || stats.Total != 2 || stats.Valid != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.data) != 1 {
		t.Fatalf("clear should only remove prefixed keys, left %d", len(fake.data))
	}

	removed, err := store.Cleanup(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("cleanup should be a no-op, got %d %v", removed, err)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	fake := newFakeRedis()
	store := NewRedisStore(fake, "p:")
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("v"), time.Hour)
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := fake.data["p:k"]; ok {
		t.Fatal("expected key to be deleted")
	}
}
