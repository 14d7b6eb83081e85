package domain

import "time"

type ConfidenceCategory string

const (
	ConfidenceHigh   ConfidenceCategory = "high"
	ConfidenceMedium ConfidenceCategory = "medium"
	ConfidenceLow    ConfidenceCategory = "low"
)

// Market listing categories.
const (
	CategorySold     = "sold"
	CategoryActive   = "active"
	CategoryAuctions = "auctions"
)

// MarketListing is one marketplace result. Confidence fields are filled by
// the scorer after the market client maps the listing.
type MarketListing struct {
	ItemID             string             `json:"itemId,omitempty"`
	Title              string             `json:"title"`
	Price              *float64           `json:"price"`
	CurrentBid         *float64           `json:"currentBid,omitempty"`
	Currency           string             `json:"currency,omitempty"`
	PriceFormatted     string             `json:"priceFormatted,omitempty"`
	Date               string             `json:"date,omitempty"`
	EndsIn             string             `json:"endsIn,omitempty"`
	BidCount           int                `json:"bidCount,omitempty"`
	URL                string             `json:"url"`
	Thumbnail          string             `json:"thumbnail,omitempty"`
	Aspects            map[string]string  `json:"aspects,omitempty"`
	Confidence         float64            `json:"confidence"`
	ConfidenceCategory ConfidenceCategory `json:"confidenceCategory,omitempty"`
}

type MarketCounts struct {
	Sold     int `json:"sold"`
	Active   int `json:"active"`
	Auctions int `json:"auctions"`
}

type MarketMeta struct {
	Counts    MarketCounts      `json:"counts"`
	FetchedAt time.Time         `json:"fetchedAt"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// MarketData is the fan-in of the three listing categories.
type MarketData struct {
	Sold     []MarketListing `json:"sold"`
	Active   []MarketListing `json:"active"`
	Auctions []MarketListing `json:"auctions"`
	Meta     MarketMeta      `json:"meta"`
}

// Image provenance values.
const (
	ImageSourceCert        = "psa"
	ImageSourceMarketplace = "marketplace"
)

type ImageRef struct {
	URL        string   `json:"url"`
	Source     string   `json:"source"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type LookupMeta struct {
	Counts          MarketCounts      `json:"counts"`
	FetchedAt       time.Time         `json:"fetchedAt"`
	Cached          bool              `json:"cached"`
	ResponseTimeMs  int64             `json:"responseTime"`
	MarketDataError string            `json:"marketDataError,omitempty"`
	CategoryErrors  map[string]string `json:"categoryErrors,omitempty"`
}

// LookupResult is the unified response of a cert lookup.
type LookupResult struct {
	Cert     *CertificationRecord `json:"cert"`
	Image    *ImageRef            `json:"image,omitempty"`
	Sold     []MarketListing      `json:"sold"`
	Active   []MarketListing      `json:"active"`
	Auctions []MarketListing      `json:"auctions"`
	Meta     LookupMeta           `json:"meta"`
}
