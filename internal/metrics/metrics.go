// Package metrics exposes Prometheus collectors for the harvester.
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
	attemptsTotal              *prometheus.CounterVec
	attemptDurationSeconds     *prometheus.HistogramVec
	budgetSessionsTotal        *prometheus.CounterVec
	qualityTiersTotal          *prometheus.CounterVec
	targetsTotal               *prometheus.CounterVec
	browserRestartsTotal       *prometheus.CounterVec
	rediscoverySearchesTotal   *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_attempts_total",
				Help: "Retrieval attempts, labeled by channel, outcome and error kind.",
			},
			[]string{"channel", "outcome", "kind"},
		)

		attemptDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_attempt_duration_seconds",
				Help:    "Histogram of attempt durations, labeled by channel.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"channel"},
		)

		budgetSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_budget_sessions_total",
				Help: "Metered sessions charged, labeled by channel.",
			},
			[]string{"channel"},
		)

		qualityTiersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_quality_tiers_total",
				Help: "Classified results, labeled by tier.",
			},
			[]string{"tier"},
		)

		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_targets_total",
				Help: "Targets reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		browserRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_browser_restarts_total",
				Help: "Browser restart attempts, labeled by result.",
			},
			[]string{"result"},
		)

		rediscoverySearchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rediscovery_searches_total",
				Help: "Rediscovery searches, labeled by whether a replacement was found.",
			},
			[]string{"found"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// ObserveAttempt records one retrieval attempt.
func ObserveAttempt(channel, outcome, kind string, duration time.Duration) {
	attemptsTotal.WithLabelValues(channel, outcome, kind).Inc()
	if duration > 0 {
		attemptDurationSeconds.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// ObserveBudgetCharge records one charged metered session.
func ObserveBudgetCharge(channel string) {
	budgetSessionsTotal.WithLabelValues(channel).Inc()
}

// ObserveTier records a classification result.
func ObserveTier(tier string) {
	qualityTiersTotal.WithLabelValues(tier).Inc()
}

// ObserveTarget records a target's terminal status.
func ObserveTarget(status string) {
	targetsTotal.WithLabelValues(status).Inc()
}

// ObserveBrowserRestart records a restart attempt.
func ObserveBrowserRestart(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	browserRestartsTotal.WithLabelValues(result).Inc()
}

// ObserveRediscovery records a rediscovery search.
func ObserveRediscovery(found bool) {
	rediscoverySearchesTotal.WithLabelValues(strconv.FormatBool(found)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
