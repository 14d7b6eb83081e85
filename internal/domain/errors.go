package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a cert or spec that does not exist upstream.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is matched by RateLimitedError via errors.Is.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrMarketDataDisabled is reported when no marketplace credentials are set.
	ErrMarketDataDisabled = errors.New("market data client not configured")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// RateLimitedError is returned once an upstream keeps answering 429.
type RateLimitedError struct {
	Service  string
	Attempts int
}

func (e *RateLimitedError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s rate limited after %d attempts", e.Service, e.Attempts)
	}
	return fmt.Sprintf("%s rate limited", e.Service)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// UpstreamError carries a non-2xx upstream response.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Service, e.StatusCode, e.Body)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// PublicMessage describes err for API clients. Upstream bodies, request
// URLs and wrapped context are left to the server log.
func PublicMessage(err error) string {
	var (
		rateLimited *RateLimitedError
		upstream    *UpstreamError
		timeout     interface{ Timeout() bool }
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMarketDataDisabled):
		return ErrMarketDataDisabled.Error()
	case errors.As(err, &rateLimited):
		return rateLimited.Service + " rate limited"
	case errors.As(err, &upstream):
		return fmt.Sprintf("%s upstream error (status %d)", upstream.Service, upstream.StatusCode)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &timeout) && timeout.Timeout():
		return "upstream request timed out"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "upstream request failed"
	}
}
