// Package metrics exposes Prometheus instrumentation for lookups, the cache,
// and upstream calls. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slab_scout"

type Metrics struct {
	// Cache metrics
	CacheLookups      *prometheus.CounterVec
	CacheEntriesSwept prometheus.Counter
	CacheEntries      prometheus.Gauge

	// Upstream metrics
	UpstreamRequests       *prometheus.CounterVec
	UpstreamRetries        *prometheus.CounterVec
	MarketCategoryFailures *prometheus.CounterVec

	// Latency metrics
	LookupDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers every metric on reg. Pass a fresh prometheus.NewRegistry()
// per instance; the default registerer panics on duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache reads by key namespace and result",
		}, []string{"namespace", "result"}),
		CacheEntriesSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries_swept_total",
			Help:      "Expired entries removed by the periodic cleanup",
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries remaining after the last cleanup",
		}),

		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream HTTP requests by service and outcome",
		}, []string{"service", "outcome"}),
		UpstreamRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Backoff retries after upstream rate limiting",
		}, []string{"service"}),
		MarketCategoryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "market_category_failures_total",
			Help:      "Market data categories that degraded to an empty list",
		}, []string{"category"}),

		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "duration_seconds",
			Help:      "End-to-end lookup latency",
			Buckets:   []float64{0.005, 0.05, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"operation", "cached"}),

		gatherer: reg,
	}
}

// Handler serves the registry this instance was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit(ns string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(ns, "hit").Inc()
}

func (m *Metrics) CacheMiss(ns string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(ns, "miss").Inc()
}

// CacheSwept records one cleanup pass.
func (m *Metrics) CacheSwept(removed, remaining int) {
	if m == nil {
		return
	}
	m.CacheEntriesSwept.Add(float64(removed))
	m.CacheEntries.Set(float64(remaining))
}

// Upstream records one HTTP exchange. outcome is a status code, "error" for
// transport failures, or "rate_limited".
func (m *Metrics) Upstream(service, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) UpstreamStatus(service string, status int) {
	m.Upstream(service, strconv.Itoa(status))
}

func (m *Metrics) Retry(service string) {
	if m == nil {
		return
	}
	m.UpstreamRetries.WithLabelValues(service).Inc()
}

func (m *Metrics) MarketFailure(category string) {
	if m == nil {
		return
	}
	m.MarketCategoryFailures.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveLookup(operation string, cached bool, d time.Duration) {
	if m == nil {
		return
	}
	m.LookupDuration.WithLabelValues(operation, strconv.FormatBool(cached)).Observe(d.Seconds())
}
