package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	tokenRefreshWindow  = 60 * time.Second
	tokenFetchTimeout   = 15 * time.Second
	fallbackTokenExpiry = time.Hour
)

var ErrMissingCredentials = errors.New("marketplace client credentials not configured")

// AccessToken is a bearer token with its absolute expiry.
type AccessToken struct {
	Value  string
	Expiry time.Time
}

// ValidAt reports whether the token is usable at now with window to spare.
func (t AccessToken) ValidAt(now time.Time, window time.Duration) bool {
	return t.Value != "" && now.Add(window).Before(t.Expiry)
}

// TokenManager caches one client-credentials token and refreshes it when it
// is missing or within a minute of expiry. Concurrent callers share a single
// in-flight refresh.
type TokenManager struct {
	config     *clientcredentials.Config
	httpClient *http.Client
	tracer     trace.Tracer
	now        func() time.Time

	mu    sync.RWMutex
	token AccessToken
	group singleflight.Group
}

func NewTokenManager(tracer trace.Tracer, clientID, clientSecret, tokenURL string, scopes []string, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: tokenFetchTimeout}
	}
	return &TokenManager{
		config: &clientcredentials.Config{
			ClientID:     strings.TrimSpace(clientID),
			ClientSecret: strings.TrimSpace(clientSecret),
			TokenURL:     tokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: httpClient,
		tracer:     tracer,
		now:        time.Now,
	}
}

// Token returns a valid bearer token, refreshing it if needed.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	if m.config.ClientID == "" || m.config.ClientSecret == "" {
		return "", ErrMissingCredentials
	}

	v, err, _ := m.group.Do("token", func() (interface{}, error) {
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call refreshes.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = AccessToken{}
	m.mu.Unlock()
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token.ValidAt(m.now(), tokenRefreshWindow) {
		return m.token.Value, true
	}
	return "", false
}

// refresh runs detached from the caller's cancellation: other callers may be
// waiting on the same flight.
func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	ctx, span := m.tracer.Start(ctx, "ebay.refresh-token")
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
	defer cancel()
	fetchCtx = context.WithValue(fetchCtx, oauth2.HTTPClient, m.httpClient)

	tok, err := m.config.Token(fetchCtx)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("fetch access token: %w", err)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(fallbackTokenExpiry)
	}

	m.mu.Lock()
	m.token = AccessToken{Value: tok.AccessToken, Expiry: expiry}
	m.mu.Unlock()
	return tok.AccessToken, nil
}
