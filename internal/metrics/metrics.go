// Package metrics exposes Prometheus collectors for the enrichment service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enrichItemsTotal           *prometheus.CounterVec
	enrichLivenessTotal        *prometheus.CounterVec
	enrichBatchDurationSeconds prometheus.Histogram
	enrichActiveWorkers        prometheus.Gauge
	enrichFetchBytesTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		enrichItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_items_total",
				Help: "Total enrichment items processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enrichLivenessTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_liveness_total",
				Help: "Total liveness probe classifications, labeled by state.",
			},
			[]string{"state"},
		)

		enrichBatchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enrich_batch_duration_seconds",
				Help:    "Histogram of batch run durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		enrichActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "enrich_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		enrichFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_fetch_bytes_total",
				Help: "Total bytes fetched during metadata requests, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the item counter for the given outcome.
func ObserveItem(outcome string) {
	enrichItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLiveness increments the liveness counter for the given state.
func ObserveLiveness(state string) {
	enrichLivenessTotal.WithLabelValues(state).Inc()
}

// ObserveBatch records the duration of one batch run.
func ObserveBatch(duration time.Duration) {
	enrichBatchDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch records bytes fetched from a site.
func ObserveFetch(site string, bytesFetched int) {
	if bytesFetched > 0 {
		enrichFetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	enrichActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	enrichActiveWorkers.Dec()
}
