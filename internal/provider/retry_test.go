package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"slab-scout/internal/domain"
)

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	sleep := &recordingSleep{}
	policy := DefaultRetryPolicy()
	policy.Sleep = sleep.Sleep

	boom := errors.New("boom")
	attempts, err := policy.Do(context.Background(), func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) || attempts != 1 {
		t.Fatalf("expected single attempt with boom, got %d %v", attempts, err)
	}
	if len(sleep.delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", sleep.delays)
	}
}

func TestRetryPolicyCapsDelay(t *testing.T) {
	sleep := &recordingSleep{}
	policy := RetryPolicy{
		MaxRetries: 4,
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 3,
		MaxDelay:   500 * time.Millisecond,
		Retryable:  IsRateLimited,
		Sleep:      sleep.Sleep,
	}

	var retried []int
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		retried = append(retried, attempt)
	}

	attempts, err := policy.Do(context.Background(), func(ctx context.Context) error {
		return &domain.RateLimitedError{Service: "test"}
	})
	if !errors.Is(err, domain.ErrRateLimited) || attempts != 5 {
		t.Fatalf("expected 5 attempts ending rate limited, got %d %v", attempts, err)
	}
	want := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}
	for i, d := range want {
		if sleep.delays[i] != d {
			t.Fatalf("delay %d: expected %v, got %v", i, d, sleep.delays[i])
		}
	}
	if len(retried) != 4 || retried[0] != 1 || retried[3] != 4 {
		t.Fatalf("unexpected OnRetry calls: %v", retried)
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	policy := DefaultRetryPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		return &domain.RateLimitedError{Service: "test"}
	})
	if !errors.Is(err, context.Canceled) || attempts != 1 {
		t.Fatalf("expected cancellation after first attempt, got %d %v", attempts, err)
	}
}
