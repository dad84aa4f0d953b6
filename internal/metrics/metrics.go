// Package metrics exposes Prometheus collectors for the event crawler service.
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
	scrapesTotal               *prometheus.CounterVec
	scrapeDurationSeconds      *prometheus.HistogramVec
	acquireAttemptsTotal       *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	eventsStoredTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	progressDroppedTotal       prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventcrawler_scrapes_total",
				Help: "Completed site scrapes, labeled by terminal status.",
			},
			[]string{"status"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventcrawler_scrape_duration_seconds",
				Help:    "Wall time per site scrape, labeled by terminal status.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		acquireAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventcrawler_acquire_attempts_total",
				Help: "Page acquisition attempts, labeled by site, source and result.",
			},
			[]string{"site", "source", "result"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventcrawler_extractions_total",
				Help: "Extraction calls, labeled by result.",
			},
			[]string{"result"},
		)

		eventsStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventcrawler_events_stored_total",
				Help: "Candidate events processed by the store, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventcrawler_active_workers",
				Help: "Number of workers currently scraping a site.",
			},
		)

		progressDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "eventcrawler_progress_dropped_total",
				Help: "Progress events dropped because the hub buffer was full.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveScrape records a finished site scrape.
func ObserveScrape(status string, duration time.Duration) {
	Init()
	scrapesTotal.WithLabelValues(status).Inc()
	scrapeDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveAcquireAttempt records one primary or fallback acquisition attempt.
func ObserveAcquireAttempt(site, source, result string) {
	Init()
	acquireAttemptsTotal.WithLabelValues(SanitizeSite(site), source, result).Inc()
}

// ObserveExtraction records the result of an extraction call.
func ObserveExtraction(result string) {
	Init()
	extractionsTotal.WithLabelValues(result).Inc()
}

// ObserveStored adds n candidate events with the given outcome.
func ObserveStored(outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	eventsStoredTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveProgressDropped counts a progress event lost to backpressure.
func ObserveProgressDropped() {
	Init()
	progressDroppedTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
