package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Port string

	PSABaseURL  string
	PSAAPIToken string

	EbayBaseURL         string
	EbayTokenURL        string
	EbayClientID        string
	EbayClientSecret    string
	EbayMarketplaceID   string
	EbaySearchLimit     int
	EbayRateLimitPerSec int

	CacheBackend     string
	RedisURL         string
	CacheTTLHours    int
	CacheCleanupMins int

	UpstreamTimeoutSecs int
	LookupTimeoutSecs   int
	MarketTimeoutSecs   int

	LogLevel  string
	LogFormat string

	SSHPort               int
	SSHHostKeyPath        string
	SSHAuthorizedKeysPath string
}

// MarketDataEnabled reports whether marketplace credentials are present.
func (c *Config) MarketDataEnabled() bool {
	return c.EbayClientID != "" && c.EbayClientSecret != ""
}

func Load() *Config {
	cfg := &Config{
		Port:              envString("PORT", "8080"),
		PSABaseURL:        envString("PSA_API_BASE_URL", "https://api.psacard.com/publicapi"),
		PSAAPIToken:       strings.TrimSpace(os.Getenv("PSA_API_TOKEN")),
		EbayBaseURL:       envString("EBAY_API_BASE_URL", "https://api.ebay.com"),
		EbayTokenURL:      envString("EBAY_TOKEN_URL", "https://api.ebay.com/identity/v1/oauth2/token"),
		EbayClientID:      strings.TrimSpace(os.Getenv("EBAY_CLIENT_ID")),
		EbayClientSecret:  strings.TrimSpace(os.Getenv("EBAY_CLIENT_SECRET")),
		EbayMarketplaceID: envString("EBAY_MARKETPLACE_ID", "EBAY_US"),
		RedisURL:          envString("REDIS_URL", "localhost:6379"),
		LogLevel:          strings.ToLower(envString("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(envString("LOG_FORMAT", "text")),
	}

	if cfg.PSAAPIToken == "" {
		slog.Warn("PSA_API_TOKEN not set, cert lookups will be unauthenticated")
	}
	if !cfg.MarketDataEnabled() {
		slog.Warn("EBAY_CLIENT_ID/EBAY_CLIENT_SECRET not set, market data will be disabled")
	}

	cfg.EbaySearchLimit = envInt("EBAY_SEARCH_LIMIT", 20)
	if cfg.EbaySearchLimit > 200 {
		cfg.EbaySearchLimit = 200
	}
	cfg.EbayRateLimitPerSec = envInt("EBAY_RATE_LIMIT_PER_SEC", 10)

	cfg.CacheBackend = strings.ToLower(envString("CACHE_BACKEND", CacheBackendMemory))
	if cfg.CacheBackend != CacheBackendMemory && cfg.CacheBackend != CacheBackendRedis {
		slog.Warn("unsupported CACHE_BACKEND, defaulting to memory", "value", cfg.CacheBackend)
		cfg.CacheBackend = CacheBackendMemory
	}
	cfg.CacheTTLHours = envInt("CACHE_TTL_HOURS", 12)
	cfg.CacheCleanupMins = envInt("CACHE_CLEANUP_MINS", 60)

	cfg.UpstreamTimeoutSecs = envInt("UPSTREAM_TIMEOUT_SECS", 15)
	cfg.LookupTimeoutSecs = envInt("LOOKUP_TIMEOUT_SECS", 30)
	cfg.MarketTimeoutSecs = envInt("MARKET_TIMEOUT_SECS", 20)

	cfg.SSHPort = envInt("SSH_PORT", 2222)
	cfg.SSHHostKeyPath = envString("SSH_HOST_KEY_PATH", ".ssh/id_ed25519")
	cfg.SSHAuthorizedKeysPath = envString("SSH_AUTHORIZED_KEYS", ".ssh/authorized_keys")

	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt returns def when the variable is unset, malformed or not positive.
func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
