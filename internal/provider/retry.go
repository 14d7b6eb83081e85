package provider

import (
	"context"
	"errors"
	"time"

	"slab-scout/internal/domain"
)

// RetryPolicy retries an operation with exponential backoff while the
// returned error satisfies Retryable.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay  time.Duration
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry runs before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy retries rate-limited calls three times, waiting 1s, 2s
// and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2,
		Retryable:  IsRateLimited,
	}
}

func IsRateLimited(err error) bool {
	return errors.Is(err, domain.ErrRateLimited)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retries are exhausted. It returns the number of attempts made and the
// last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}

	delay := p.BaseDelay
	attempts := 0
	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempts > p.MaxRetries {
			return attempts, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempts, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return attempts, serr
		}

		delay = time.Duration(float64(delay) * mult)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
