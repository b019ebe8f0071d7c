// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"fmt"
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
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchRetriesTotal          *prometheus.CounterVec
	programsTotal              *prometheus.CounterVec
	itemsTotal                 prometheus.Counter
	extractionFaultsTotal      *prometheus.CounterVec
	documentsTotal             *prometheus.CounterVec
	pacingWaitSeconds          *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_total",
				Help: "Total number of top-level fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_bytes_total",
				Help: "Total number of payload bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_fetch_duration_seconds",
				Help:    "Histogram of single attempt latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_retries_total",
				Help: "Total number of retries after server faults, labeled by site.",
			},
			[]string{"site"},
		)

		programsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_programs_total",
				Help: "Total number of catalog entries processed, labeled by status.",
			},
			[]string{"status"},
		)

		itemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_items_total",
				Help: "Total number of curriculum items extracted.",
			},
		)

		extractionFaultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_extraction_faults_total",
				Help: "Total number of recoverable extraction faults, labeled by field.",
			},
			[]string{"field"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_documents_total",
				Help: "Total number of referenced documents persisted, labeled by status.",
			},
			[]string{"status"},
		)

		pacingWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_pacing_wait_seconds",
				Help:    "Histogram of pacing sleeps, labeled by phase.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"phase"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests to the status API, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
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
	Init()
	return promhttp.Handler()
}

// WriteTextfile dumps the default registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveFetch records the terminal outcome of a top-level fetch.
func ObserveFetch(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveAttempt records the latency of one network attempt.
func ObserveAttempt(site string, latency time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(SanitizeSite(site)).Observe(latency.Seconds())
}

// ObserveRetry increments the retry counter for site.
func ObserveRetry(site string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveProgram increments the program counter for the given status.
func ObserveProgram(status string) {
	Init()
	programsTotal.WithLabelValues(status).Inc()
}

// ObserveItems adds n extracted items.
func ObserveItems(n int) {
	Init()
	if n > 0 {
		itemsTotal.Add(float64(n))
	}
}

// ObserveExtractionFault increments the fault counter for field.
func ObserveExtractionFault(field string) {
	Init()
	extractionFaultsTotal.WithLabelValues(field).Inc()
}

// ObserveDocument increments the document counter for the given status.
func ObserveDocument(status string) {
	Init()
	documentsTotal.WithLabelValues(status).Inc()
}

// ObservePacingWait records a pacing sleep for phase.
func ObservePacingWait(phase string, d time.Duration) {
	Init()
	pacingWaitSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
