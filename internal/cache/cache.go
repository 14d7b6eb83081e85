// Package cache provides the TTL key/payload stores used by the lookup service.
package cache

import (
	"context"
	"strings"
	"time"

	"slab-scout/internal/domain"
)

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = 12 * time.Hour

// Store is a key to payload cache with per-entry expiry. Payloads are opaque
// bytes; callers own encoding. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the payload when present and unexpired. An expired entry
	// is evicted and reported as a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set overwrites any prior entry. Last write wins.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Stats is read-only and never evicts.
	Stats(ctx context.Context) (Stats, error)
	// Cleanup removes every expired entry and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)
}

type Stats struct {
	Backend string `json:"backend"`
	Total   int    `json:"total"`
	Valid   int    `json:"valid"`
	Expired int    `json:"expired"`
}

// GenerateKey derives the deterministic card key name|set|number|grade.
// Case and surrounding whitespace do not affect the result.
func GenerateKey(card domain.CardSignature) string {
	n := card.Normalized()
	return strings.Join([]string{n.Name, n.Set, n.Number, n.Grade}, "|")
}

func CertKey(certNumber string) string {
	return "cert:" + strings.TrimSpace(certNumber)
}

func PopulationKey(specID string) string {
	return "pop:" + strings.TrimSpace(specID)
}
