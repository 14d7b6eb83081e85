package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"slab-scout/internal/cache"
	"slab-scout/internal/domain"
	"slab-scout/internal/metrics"
	"slab-scout/internal/provider"
	"slab-scout/internal/scoring"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultLookupTimeout = 30 * time.Second
	defaultMarketTimeout = 20 * time.Second
)

type CertProvider interface {
	FetchCert(ctx context.Context, certNumber string) (*domain.CertificationRecord, error)
	FetchPopulation(ctx context.Context, specID string) (*domain.PopulationReport, error)
}

type MarketDataProvider interface {
	FetchMarketData(ctx context.Context, card domain.CardSignature) (*domain.MarketData, error)
}

// LookupService composes the cert client, the market client, the scorer and
// the cache into the cert lookup flow.
type LookupService struct {
	tracer        trace.Tracer
	certs         CertProvider
	market        MarketDataProvider
	scorer        *scoring.Scorer
	cache         cache.Store
	metrics       *metrics.Metrics
	ttl           time.Duration
	lookupTimeout time.Duration
	marketTimeout time.Duration
	now           func() time.Time
}

type LookupOption func(*LookupService)

func WithLookupMetrics(m *metrics.Metrics) LookupOption {
	return func(s *LookupService) {
		s.metrics = m
	}
}

func WithCacheTTL(ttl time.Duration) LookupOption {
	return func(s *LookupService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTimeouts bounds a whole lookup and the market-data fan-out inside it.
// Zero keeps the default.
func WithTimeouts(lookup, market time.Duration) LookupOption {
	return func(s *LookupService) {
		if lookup > 0 {
			s.lookupTimeout = lookup
		}
		if market > 0 {
			s.marketTimeout = market
		}
	}
}

func WithClock(now func() time.Time) LookupOption {
	return func(s *LookupService) {
		s.now = now
	}
}

func NewLookupService(
	tracer trace.Tracer,
	certs CertProvider,
	market MarketDataProvider,
	scorer *scoring.Scorer,
	store cache.Store,
	opts ...LookupOption,
) *LookupService {
	if scorer == nil {
		scorer = scoring.NewScorer(domain.Grader)
	}
	s := &LookupService{
		tracer:        tracer,
		certs:         certs,
		market:        market,
		scorer:        scorer,
		cache:         store,
		ttl:           cache.DefaultTTL,
		lookupTimeout: defaultLookupTimeout,
		marketTimeout: defaultMarketTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LookupByCert returns the cert record with scored market listings. Cache
// hits are tagged cached; a cert that does not exist returns ErrNotFound and
// is never cached. Market-data failures degrade into meta, never into an
// error.
func (s *LookupService) LookupByCert(ctx context.Context, certNumber string) (*domain.LookupResult, error) {
	ctx, span := s.tracer.Start(ctx, "lookup-service.lookup-by-cert")
	defer span.End()

	start := s.now()
	certNumber = strings.TrimSpace(certNumber)
	span.SetAttributes(attribute.String("cert.number", certNumber))
	if !provider.IsCertFormat(certNumber) {
		return nil, &domain.ValidationError{Field: "cert number", Value: certNumber, Reason: "must be 7-9 digits"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	key := cache.CertKey(certNumber)
	var cached domain.LookupResult
	if s.readCache(ctx, "cert", key, &cached) {
		cached.Meta.Cached = true
		cached.Meta.ResponseTimeMs = s.now().Sub(start).Milliseconds()
		s.metrics.ObserveLookup("cert", true, s.now().Sub(start))
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &cached, nil
	}

	cert, err := s.certs.FetchCert(ctx, certNumber)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if cert == nil {
		return nil, fmt.Errorf("cert %s: %w", certNumber, domain.ErrNotFound)
	}

	card := domain.SignatureFromCert(cert)
	result := &domain.LookupResult{
		Cert:     cert,
		Sold:     []domain.MarketListing{},
		Active:   []domain.MarketListing{},
		Auctions: []domain.MarketListing{},
	}

	data, err := s.fetchMarketData(ctx, card)
	if err != nil {
		slog.Warn("market data unavailable", "cert", certNumber, "error", err)
		result.Meta.MarketDataError = domain.PublicMessage(err)
		result.Meta.FetchedAt = s.now().UTC()
	} else {
		result.Sold = s.scorer.ScoreListings(data.Sold, card)
		result.Active = s.scorer.ScoreListings(data.Active, card)
		result.Auctions = s.scorer.ScoreListings(data.Auctions, card)
		result.Meta.FetchedAt = data.Meta.FetchedAt
		result.Meta.CategoryErrors = data.Meta.Errors
	}
	if result.Meta.FetchedAt.IsZero() {
		result.Meta.FetchedAt = s.now().UTC()
	}

	result.Image = pickImage(cert, result.Sold, result.Active, result.Auctions)
	result.Meta.Counts = domain.MarketCounts{
		Sold:     len(result.Sold),
		Active:   len(result.Active),
		Auctions: len(result.Auctions),
	}

	elapsed := s.now().Sub(start)
	result.Meta.ResponseTimeMs = elapsed.Milliseconds()

	s.writeCache(ctx, key, result)
	if !card.IsZero() {
		s.writeCache(ctx, cache.GenerateKey(card), result)
	}

	s.metrics.ObserveLookup("cert", false, elapsed)
	span.SetAttributes(
		attribute.Bool("cache.hit", false),
		attribute.Int("market.total", result.Meta.Counts.Sold+result.Meta.Counts.Active+result.Meta.Counts.Auctions),
	)
	return result, nil
}

// LookupPopulation returns the population report for a spec id, cache first.
func (s *LookupService) LookupPopulation(ctx context.Context, specID string) (*domain.PopulationLookup, error) {
	ctx, span := s.tracer.Start(ctx, "lookup-service.lookup-population")
	defer span.End()

	start := s.now()
	specID = strings.TrimSpace(specID)
	if !provider.IsSpecIDFormat(specID) {
		return nil, &domain.ValidationError{Field: "spec id", Value: specID, Reason: "must be numeric"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	key := cache.PopulationKey(specID)
	var cached domain.PopulationLookup
	if s.readCache(ctx, "pop", key, &cached) && cached.Population != nil {
		cached.Cached = true
		s.metrics.ObserveLookup("population", true, s.now().Sub(start))
		return &cached, nil
	}

	report, err := s.certs.FetchPopulation(ctx, specID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("spec %s: %w", specID, domain.ErrNotFound)
	}

	out := &domain.PopulationLookup{Population: report, FetchedAt: s.now().UTC()}
	s.writeCache(ctx, key, out)
	s.metrics.ObserveLookup("population", false, s.now().Sub(start))
	return out, nil
}

// ValidateCert checks format and existence. A malformed number is reported
// as invalid rather than as an error. It never touches the market client.
func (s *LookupService) ValidateCert(ctx context.Context, certNumber string) (*domain.CertValidation, error) {
	ctx, span := s.tracer.Start(ctx, "lookup-service.validate-cert")
	defer span.End()

	certNumber = strings.TrimSpace(certNumber)
	out := &domain.CertValidation{CertNumber: certNumber}
	if !provider.IsCertFormat(certNumber) {
		return out, nil
	}
	out.Valid = true

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	var cached domain.LookupResult
	if s.readCache(ctx, "cert", cache.CertKey(certNumber), &cached) && cached.Cert != nil {
		out.Exists = true
		return out, nil
	}

	cert, err := s.certs.FetchCert(ctx, certNumber)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("validate cert %s: %w", certNumber, err)
	}
	out.Exists = cert != nil
	return out, nil
}

func (s *LookupService) CacheStats(ctx context.Context) (cache.Stats, error) {
	_, span := s.tracer.Start(ctx, "lookup-service.cache-stats")
	defer span.End()
	return s.cache.Stats(ctx)
}

func (s *LookupService) ClearCache(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "lookup-service.clear-cache")
	defer span.End()

	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	slog.Info("lookup cache cleared")
	return nil
}

// fetchMarketData bounds the fan-out and turns panics or a missing client
// into errors so the lookup can still return the cert.
func (s *LookupService) fetchMarketData(ctx context.Context, card domain.CardSignature) (data *domain.MarketData, err error) {
	if s.market == nil {
		return nil, domain.ErrMarketDataDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, s.marketTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("market data: panic: %v", r)
		}
	}()
	data, err = s.market.FetchMarketData(ctx, card)
	if err == nil && data == nil {
		err = fmt.Errorf("market data: empty response")
	}
	return data, err
}

func pickImage(cert *domain.CertificationRecord, lists ...[]domain.MarketListing) *domain.ImageRef {
	if cert.ImageURL != nil && strings.TrimSpace(*cert.ImageURL) != "" {
		return &domain.ImageRef{URL: *cert.ImageURL, Source: domain.ImageSourceCert}
	}
	best := scoring.HighestConfidence(lists...)
	if best == nil || best.Thumbnail == "" {
		return nil
	}
	confidence := best.Confidence
	return &domain.ImageRef{URL: best.Thumbnail, Source: domain.ImageSourceMarketplace, Confidence: &confidence}
}

func (s *LookupService) readCache(ctx context.Context, namespace, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache read error", "key", key, "error", err)
		return false
	}
	if !ok {
		s.metrics.CacheMiss(namespace)
		return false
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		slog.Warn("cache decode error", "key", key, "error", err)
		s.metrics.CacheMiss(namespace)
		return false
	}
	s.metrics.CacheHit(namespace)
	return true
}

func (s *LookupService) writeCache(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache encode error", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
		slog.Warn("cache write error", "key", key, "error", err)
	}
}
