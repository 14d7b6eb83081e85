package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"slab-scout/internal/domain"

	"github.com/shopspring/decimal"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type invalidatingToken struct {
	invalidated atomic.Bool
}

func (t *invalidatingToken) Token(context.Context) (string, error) { return "stale", nil }
func (t *invalidatingToken) Invalidate() { t.invalidated.Store(true) }

var charizard = domain.NewCardSignature("Charizard-Holo", "Pokemon Game", "4", "10")

func newTestEbayClient(rt roundTripFunc, tokens TokenSource) *EbayClient {
	c := NewEbayClient(testTracer, "http://ebay.example", tokens,
		WithEbayHTTPClient(&http.Client{Transport: rt}),
		WithEbayRateLimiter(nil),
	)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

const searchBody = `{
  "total": 3,
  "itemSummaries": [
    {
      "itemId": "v1|111|0",
      "title": "PSA 10 Charizard 4/102 Base Set",
      "price": {"value": "1250.50", "currency": "USD"},
      "itemEndDate": "2024-02-20T18:00:00.000Z",
      "itemWebUrl": "https://www.ebay.com/itm/111",
      "image": {"imageUrl": "https://i.ebayimg.com/111.jpg"},
      "localizedAspects": [{"name": "Professional Grader", "value": "Professional Sports Authenticator (PSA)"}]
    },
    {
      "itemId": "v1|222|0",
      "title": "Raw Charizard lot of 5",
      "price": {"value": "40.00", "currency": "USD"}
    },
    {
      "itemId": "v1|333|0",
      "title": "Charizard Holo PSA 10 Gem Mint",
      "currentBidPrice": {"value": "900", "currency": "USD"},
      "bidCount": 12,
      "itemEndDate": "2024-03-03T15:30:00.000Z",
      "thumbnailImages": [{"imageUrl": "https://i.ebayimg.com/333.jpg"}]
    }
  ]
}`

func TestBuildQuery(t *testing.T) {
	got := BuildQuery(domain.CardSignature{Name: "charizard-holo", Number: "4", Grade: "10"})
	if got != "charizard-holo 4 PSA 10" {
		t.Fatalf("unexpected query: %q", got)
	}
	if got := BuildQuery(domain.CardSignature{Name: "pikachu"}); got != "pikachu" {
		t.Fatalf("unexpected partial query: %q", got)
	}
}

func TestIsMultiCardLot(t *testing.T) {
	cases := map[string]bool{
		"Raw Charizard lot of 5":          true,
		"Pokemon bundle 10 cards":         true,
		"Complete Set Base 1999":          true,
		"Playset of Bolt":                 true,
		"Bulk commons":                    true,
		"PSA 10 Charizard 4/102 Base Set": false,
		"Charizard Holo PSA 10 Gem Mint":  false,
		"Slotted holder PSA 9 Blastoise":  false,
		"1999 Pokemon Jungle Lot":         true,
		"Charizard 25 card lot graded":    true,
	}
	for title, want := range cases {
		if got := IsMultiCardLot(title); got != want {
			t.Errorf("IsMultiCardLot(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestEbaySearchSendsHeadersAndParams(t *testing.T) {
	t.Parallel()

	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != ebaySearchPath {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer abc" {
			t.Fatalf("unexpected auth: %q", got)
		}
		if got := req.Header.Get("X-EBAY-C-MARKETPLACE-ID"); got != "EBAY_US" {
			t.Fatalf("unexpected marketplace: %q", got)
		}
		q := req.URL.Query()
		if q.Get("q") != "charizard-holo 4 PSA 10" || q.Get("filter") != soldFilter || q.Get("sort") != soldSort || q.Get("limit") != "20" {
			t.Fatalf("unexpected query: %v", q)
		}
		return jsonResponse(http.StatusOK, searchBody), nil
	}, staticToken("abc"))

	listings, err := client.FetchSold(context.Background(), charizard, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected lot listing filtered out, got %d listings", len(listings))
	}
	for _, l := range listings {
		if strings.Contains(l.Title, "lot of") {
			t.Fatalf("lot listing survived: %q", l.Title)
		}
	}
}

func TestEbayMapsListings(t *testing.T) {
	t.Parallel()

	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, searchBody), nil
	}, staticToken("abc"))

	sold, err := client.FetchSold(context.Background(), charizard, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := sold[0]
	if first.ItemID != "v1|111|0" || first.Price == nil || *first.Price != 1250.50 {
		t.Fatalf("unexpected listing: %+v", first)
	}
	if first.PriceFormatted != "$1,250.50" || first.Currency != "USD" {
		t.Fatalf("unexpected formatting: %q %q", first.PriceFormatted, first.Currency)
	}
	if first.Date != "Feb 20, 2024" {
		t.Fatalf("unexpected date: %q", first.Date)
	}
	if first.Thumbnail != "https://i.ebayimg.com/111.jpg" {
		t.Fatalf("unexpected thumbnail: %q", first.Thumbnail)
	}
	if first.Aspects["Professional Grader"] == "" {
		t.Fatalf("expected aspects, got %+v", first.Aspects)
	}

	auctions, err := client.FetchAuctions(context.Background(), charizard, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bid := auctions[1]
	if bid.Price == nil || *bid.Price != 900 || bid.CurrentBid == nil || bid.BidCount != 12 {
		t.Fatalf("expected bid price fallback, got %+v", bid)
	}
	if bid.EndsIn != "2d 3h" {
		t.Fatalf("unexpected ends in: %q", bid.EndsIn)
	}
	if bid.Thumbnail != "https://i.ebayimg.com/333.jpg" {
		t.Fatalf("expected thumbnail fallback, got %q", bid.Thumbnail)
	}
}

func TestEbaySearchRateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusTooManyRequests, ""), nil
	}, staticToken("abc"))

	_, err := client.FetchActive(context.Background(), charizard, 0)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("marketplace search should not retry, got %d calls", calls.Load())
	}
}

func TestEbaySearchUnauthorizedInvalidatesToken(t *testing.T) {
	t.Parallel()

	tokens := &invalidatingToken{}
	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"errors":[]}`), nil
	}, tokens)

	_, err := client.FetchSold(context.Background(), charizard, 0)
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected upstream 401, got %v", err)
	}
	if !tokens.invalidated.Load() {
		t.Fatal("expected token to be invalidated")
	}
}

func TestEbayFetchMarketDataIsolatesFailures(t *testing.T) {
	t.Parallel()

	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("filter") == auctionFilter {
			return jsonResponse(http.StatusInternalServerError, "down"), nil
		}
		return jsonResponse(http.StatusOK, searchBody), nil
	}, staticToken("abc"))

	data, err := client.FetchMarketData(context.Background(), charizard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.Sold) != 2 || len(data.Active) != 2 {
		t.Fatalf("expected healthy categories populated, got sold=%d active=%d", len(data.Sold), len(data.Active))
	}
	if data.Auctions == nil || len(data.Auctions) != 0 {
		t.Fatalf("expected empty non-nil auctions, got %+v", data.Auctions)
	}
	if data.Meta.Counts != (domain.MarketCounts{Sold: 2, Active: 2, Auctions: 0}) {
		t.Fatalf("unexpected counts: %+v", data.Meta.Counts)
	}
	if data.Meta.Errors[domain.CategoryAuctions] != "ebay upstream error (status 500)" || len(data.Meta.Errors) != 1 {
		t.Fatalf("expected sanitized auctions error only, got %+v", data.Meta.Errors)
	}
	if data.Meta.FetchedAt.IsZero() {
		t.Fatal("expected fetchedAt")
	}
}

func TestEbayFetchMarketDataAllFail(t *testing.T) {
	t.Parallel()

	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}, staticToken("abc"))

	data, err := client.FetchMarketData(context.Background(), charizard)
	if err != nil {
		t.Fatalf("category failures must not fail the aggregate: %v", err)
	}
	if len(data.Sold)+len(data.Active)+len(data.Auctions) != 0 || len(data.Meta.Errors) != 3 {
		t.Fatalf("unexpected data: %+v", data)
	}
	for category, msg := range data.Meta.Errors {
		if msg != "upstream request failed" {
			t.Fatalf("%s: expected generic message, got %q", category, msg)
		}
	}
}

func TestEbayFetchMarketDataRejectsEmptySignature(t *testing.T) {
	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}, staticToken("abc"))

	if _, err := client.FetchMarketData(context.Background(), domain.CardSignature{}); err == nil {
		t.Fatal("expected error for empty signature")
	}
}

func TestEbayMissingTokenSource(t *testing.T) {
	client := newTestEbayClient(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}, nil)

	if _, err := client.FetchSold(context.Background(), charizard, 0); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		-time.Minute:                  "ended",
		30 * time.Second:              "1m",
		45 * time.Minute:              "45m",
		3*time.Hour + 12*time.Minute:  "3h 12m",
		50*time.Hour + 30*time.Minute: "2d 2h",
	}
	for d, want := range cases {
		if got := formatRemaining(d); got != want {
			t.Errorf("formatRemaining(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestFormatMoneyUnknownCurrency(t *testing.T) {
	amount := decimal.RequireFromString("12.5")
	if got := formatMoney(amount, "XXX1"); got != "" {
		t.Fatalf("expected empty for unknown currency, got %q", got)
	}
	if got := formatMoney(amount, "EUR"); got == "" {
		t.Fatal("expected euro formatting")
	}
}
