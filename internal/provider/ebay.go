package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"slab-scout/internal/domain"
	"slab-scout/internal/metrics"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	ebayBaseURL        = "https://api.ebay.com"
	EbayTokenURL       = "https://api.ebay.com/identity/v1/oauth2/token"
	EbayScope          = "https://api.ebay.com/oauth/api_scope"
	ebaySearchPath     = "/buy/browse/v1/item_summary/search"
	ebayService        = "ebay"
	defaultMarketplace = "EBAY_US"
	defaultSearchLimit = 20
	maxSearchLimit     = 200
)

// Search filters and sorts per listing category.
const (
	soldFilter    = "soldItemsOnly:true"
	soldSort      = "-itemEndDate"
	activeFilter  = "buyingOptions:{FIXED_PRICE}"
	activeSort    = "price"
	auctionFilter = "buyingOptions:{AUCTION}"
	auctionSort   = "endingSoonest"
)

// lotPattern matches titles that bundle several cards.
var lotPattern = regexp.MustCompile(`(?i)\b(lots?|bundles?|bulk|pack of|set of|complete set|collection of|playsets?|\d+\s*cards|\d+\s*card lot)\b`)

// TokenSource supplies marketplace bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type SearchRequest struct {
	Query  string
	Filter string
	Sort   string
	Limit  int
}

type ebayAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ebayImage struct {
	ImageURL string `json:"imageUrl"`
}

type itemSummary struct {
	ItemID           string       `json:"itemId"`
	Title            string       `json:"title"`
	Price            *ebayAmount  `json:"price"`
	CurrentBidPrice  *ebayAmount  `json:"currentBidPrice"`
	BidCount         int          `json:"bidCount"`
	ItemEndDate      string       `json:"itemEndDate"`
	ItemCreationDate string       `json:"itemCreationDate"`
	ItemWebURL       string       `json:"itemWebUrl"`
	Image            *ebayImage   `json:"image"`
	ThumbnailImages  []ebayImage  `json:"thumbnailImages"`
	BuyingOptions    []string     `json:"buyingOptions"`
	LocalizedAspects []ebayAspect `json:"localizedAspects"`
}

type ebayAspect struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EbayClient searches the marketplace for listings comparable to a card.
type EbayClient struct {
	client        *http.Client
	baseURL       string
	marketplaceID string
	searchLimit   int
	tokens        TokenSource
	limiter       *RateLimiter
	tracer        trace.Tracer
	metrics       *metrics.Metrics
	now           func() time.Time
}

type EbayOption func(*EbayClient)

func WithEbayHTTPClient(client *http.Client) EbayOption {
	return func(c *EbayClient) {
		c.client = client
	}
}

func WithEbayMarketplace(id string) EbayOption {
	return func(c *EbayClient) {
		if strings.TrimSpace(id) != "" {
			c.marketplaceID = strings.TrimSpace(id)
		}
	}
}

func WithEbaySearchLimit(n int) EbayOption {
	return func(c *EbayClient) {
		if n > 0 {
			c.searchLimit = min(n, maxSearchLimit)
		}
	}
}

func WithEbayRateLimiter(l *RateLimiter) EbayOption {
	return func(c *EbayClient) {
		c.limiter = l
	}
}

func WithEbayMetrics(m *metrics.Metrics) EbayOption {
	return func(c *EbayClient) {
		c.metrics = m
	}
}

func NewEbayClient(tracer trace.Tracer, baseURL string, tokens TokenSource, opts ...EbayOption) *EbayClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = ebayBaseURL
	}
	c := &EbayClient{
		client:        &http.Client{Timeout: 15 * time.Second},
		baseURL:       strings.TrimRight(baseURL, "/"),
		marketplaceID: defaultMarketplace,
		searchLimit:   defaultSearchLimit,
		tokens:        tokens,
		limiter:       NewRateLimiterPerSecond(10),
		tracer:        tracer,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildQuery joins the card name, number and "<grader> <grade>".
func BuildQuery(card domain.CardSignature) string {
	parts := make([]string, 0, 3)
	if name := strings.TrimSpace(card.Name); name != "" {
		parts = append(parts, name)
	}
	if number := strings.TrimSpace(card.Number); number != "" {
		parts = append(parts, number)
	}
	if grade := strings.TrimSpace(card.Grade); grade != "" {
		parts = append(parts, domain.Grader+" "+grade)
	}
	return strings.Join(parts, " ")
}

// IsMultiCardLot reports whether a title looks like a multi-card listing.
func IsMultiCardLot(title string) bool {
	return lotPattern.MatchString(title)
}

// Search runs one authenticated item search. HTTP 429 is returned as a
// RateLimitedError without retrying.
func (c *EbayClient) Search(ctx context.Context, sr SearchRequest) ([]itemSummary, error) {
	ctx, span := c.tracer.Start(ctx, "ebay.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.query", sr.Query),
		attribute.String("search.filter", sr.Filter),
	)

	if c.tokens == nil {
		return nil, ErrMissingCredentials
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketplace token: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	limit := sr.Limit
	if limit <= 0 {
		limit = c.searchLimit
	}
	q := url.Values{}
	q.Set("q", sr.Query)
	q.Set("limit", strconv.Itoa(min(limit, maxSearchLimit)))
	if sr.Filter != "" {
		q.Set("filter", sr.Filter)
	}
	if sr.Sort != "" {
		q.Set("sort", sr.Sort)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ebaySearchPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketplaceID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.Upstream(ebayService, "error")
		return nil, err
	}
	defer resp.Body.Close()
	c.metrics.UpstreamStatus(ebayService, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitedError{Service: ebayService}
	case resp.StatusCode == http.StatusUnauthorized:
		if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		fallthrough
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(resp.Body)
		return nil, &domain.UpstreamError{Service: ebayService, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var payload struct {
		Total         int           `json:"total"`
		ItemSummaries []itemSummary `json:"itemSummaries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	span.SetAttributes(attribute.Int("search.results", len(payload.ItemSummaries)))
	return payload.ItemSummaries, nil
}

// FetchSold returns recently sold listings, newest first.
func (c *EbayClient) FetchSold(ctx context.Context, card domain.CardSignature, limit int) ([]domain.MarketListing, error) {
	return c.fetchCategory(ctx, domain.CategorySold, card, limit)
}

// FetchActive returns fixed-price listings, cheapest first.
func (c *EbayClient) FetchActive(ctx context.Context, card domain.CardSignature, limit int) ([]domain.MarketListing, error) {
	return c.fetchCategory(ctx, domain.CategoryActive, card, limit)
}

// FetchAuctions returns running auctions, soonest ending first.
func (c *EbayClient) FetchAuctions(ctx context.Context, card domain.CardSignature, limit int) ([]domain.MarketListing, error) {
	return c.fetchCategory(ctx, domain.CategoryAuctions, card, limit)
}

func (c *EbayClient) fetchCategory(ctx context.Context, category string, card domain.CardSignature, limit int) ([]domain.MarketListing, error) {
	sr := SearchRequest{Query: BuildQuery(card), Limit: limit}
	switch category {
	case domain.CategorySold:
		sr.Filter, sr.Sort = soldFilter, soldSort
	case domain.CategoryActive:
		sr.Filter, sr.Sort = activeFilter, activeSort
	case domain.CategoryAuctions:
		sr.Filter, sr.Sort = auctionFilter, auctionSort
	default:
		return nil, fmt.Errorf("unknown listing category %q", category)
	}

	items, err := c.Search(ctx, sr)
	if err != nil {
		return nil, fmt.Errorf("fetch %s listings: %w", category, err)
	}

	now := c.now()
	listings := make([]domain.MarketListing, 0, len(items))
	for _, item := range items {
		if IsMultiCardLot(item.Title) {
			continue
		}
		listings = append(listings, mapListing(item, category, now))
	}
	return listings, nil
}

// FetchMarketData fetches the three categories concurrently. A failing
// category degrades to an empty list and never affects its siblings.
func (c *EbayClient) FetchMarketData(ctx context.Context, card domain.CardSignature) (*domain.MarketData, error) {
	ctx, span := c.tracer.Start(ctx, "ebay.fetch-market-data")
	defer span.End()

	if card.IsZero() {
		return nil, errors.New("empty card signature")
	}

	fetchers := []struct {
		category string
		fetch    func(context.Context, domain.CardSignature, int) ([]domain.MarketListing, error)
	}{
		{domain.CategorySold, c.FetchSold},
		{domain.CategoryActive, c.FetchActive},
		{domain.CategoryAuctions, c.FetchAuctions},
	}

	results := make([][]domain.MarketListing, len(fetchers))
	errs := make([]error, len(fetchers))

	var wg sync.WaitGroup
	for i, f := range fetchers {
		i, f := i, f
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("fetch %s listings: panic: %v", f.category, r)
				}
			}()
			results[i], errs[i] = f.fetch(ctx, card, c.searchLimit)
		}()
	}
	wg.Wait()

	data := &domain.MarketData{Meta: domain.MarketMeta{FetchedAt: c.now().UTC()}}
	for i, f := range fetchers {
		listings := results[i]
		if errs[i] != nil {
			slog.Warn("market data category degraded", "category", f.category, "error", errs[i])
			c.metrics.MarketFailure(f.category)
			if data.Meta.Errors == nil {
				data.Meta.Errors = make(map[string]string)
			}
			data.Meta.Errors[f.category] = domain.PublicMessage(errs[i])
			listings = nil
		}
		if listings == nil {
			listings = []domain.MarketListing{}
		}
		switch f.category {
		case domain.CategorySold:
			data.Sold = listings
		case domain.CategoryActive:
			data.Active = listings
		case domain.CategoryAuctions:
			data.Auctions = listings
		}
	}
	data.Meta.Counts = domain.MarketCounts{
		Sold:     len(data.Sold),
		Active:   len(data.Active),
		Auctions: len(data.Auctions),
	}
	span.SetAttributes(
		attribute.Int("market.sold", data.Meta.Counts.Sold),
		attribute.Int("market.active", data.Meta.Counts.Active),
		attribute.Int("market.auctions", data.Meta.Counts.Auctions),
	)
	return data, nil
}

func mapListing(item itemSummary, category string, now time.Time) domain.MarketListing {
	listing := domain.MarketListing{
		ItemID:    item.ItemID,
		Title:     strings.TrimSpace(item.Title),
		URL:       item.ItemWebURL,
		Thumbnail: thumbnailOf(item),
		BidCount:  item.BidCount,
	}

	price, currency := parseAmount(item.Price)
	bid, bidCurrency := parseAmount(item.CurrentBidPrice)
	if bid != nil {
		f := bid.InexactFloat64()
		listing.CurrentBid = &f
	}
	if price == nil {
		price, currency = bid, bidCurrency
	}
	if price != nil {
		f := price.InexactFloat64()
		listing.Price = &f
		listing.Currency = currency
		listing.PriceFormatted = formatMoney(*price, currency)
	}

	switch category {
	case domain.CategorySold:
		listing.Date = formatDate(item.ItemEndDate)
	case domain.CategoryActive:
		listing.Date = formatDate(item.ItemCreationDate)
	case domain.CategoryAuctions:
		if end, err := time.Parse(time.RFC3339, item.ItemEndDate); err == nil {
			listing.EndsIn = formatRemaining(end.Sub(now))
		}
	}

	if len(item.LocalizedAspects) > 0 {
		listing.Aspects = make(map[string]string, len(item.LocalizedAspects))
		for _, a := range item.LocalizedAspects {
			name := strings.TrimSpace(a.Name)
			if name == "" {
				continue
			}
			listing.Aspects[name] = strings.TrimSpace(a.Value)
		}
	}
	return listing
}

func parseAmount(a *ebayAmount) (*decimal.Decimal, string) {
	if a == nil || strings.TrimSpace(a.Value) == "" {
		return nil, ""
	}
	d, err := decimal.NewFromString(strings.TrimSpace(a.Value))
	if err != nil {
		return nil, ""
	}
	return &d, strings.ToUpper(strings.TrimSpace(a.Currency))
}

// formatMoney renders an amount with its currency symbol, or "" for unknown
// currencies.
func formatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return ""
	}
	factor, _ := decimal.NewFromInt(10).PowInt32(int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), cur.Code).Display()
}

func thumbnailOf(item itemSummary) string {
	if item.Image != nil && item.Image.ImageURL != "" {
		return item.Image.ImageURL
	}
	for _, img := range item.ThumbnailImages {
		if img.ImageURL != "" {
			return img.ImageURL
		}
	}
	return ""
}

func formatDate(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format("Jan 2, 2006")
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "ended"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", max(minutes, 1))
	}
}
