// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterRequestsTotal         *prometheus.CounterVec
	harvesterRequestDuration       *prometheus.HistogramVec
	harvesterRetriesTotal          *prometheus.CounterVec
	harvesterIssuesTotal           *prometheus.CounterVec
	harvesterCheckpointWritesTotal prometheus.Counter
	harvesterActiveEnrichments     prometheus.Gauge
	harvesterRateLimitDelaySeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_requests_total",
				Help: "Total number of upstream API requests, labeled by operation and status code.",
			},
			[]string{"operation", "code"},
		)

		harvesterRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_request_duration_seconds",
				Help:    "Histogram of upstream request latencies, labeled by operation.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		)

		harvesterRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_retries_total",
				Help: "Total number of retried attempts, labeled by operation and failure class.",
			},
			[]string{"operation", "class"},
		)

		harvesterIssuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_issues_total",
				Help: "Total number of issues enriched, labeled by project and outcome.",
			},
			[]string{"project", "outcome"},
		)

		harvesterCheckpointWritesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_checkpoint_writes_total",
				Help: "Total number of checkpoint files written.",
			},
		)

		harvesterActiveEnrichments = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_enrichments",
				Help: "Number of enrichment tasks currently in flight.",
			},
		)

		harvesterRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of rate limiter wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one upstream API attempt.
func ObserveRequest(operation string, code int, duration time.Duration) {
	harvesterRequestsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	harvesterRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter for the given failure class.
func ObserveRetry(operation, class string) {
	harvesterRetriesTotal.WithLabelValues(operation, class).Inc()
}

// ObserveIssue increments the per-project issue counter.
func ObserveIssue(project, outcome string) {
	harvesterIssuesTotal.WithLabelValues(project, outcome).Inc()
}

// ObserveCheckpoint increments the checkpoint write counter.
func ObserveCheckpoint() {
	harvesterCheckpointWritesTotal.Inc()
}

// IncActiveEnrichments increments the in-flight enrichment gauge.
func IncActiveEnrichments() {
	harvesterActiveEnrichments.Inc()
}

// DecActiveEnrichments decrements the in-flight enrichment gauge.
func DecActiveEnrichments() {
	harvesterActiveEnrichments.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limiter wait.
func ObserveRateLimitDelay(duration time.Duration) {
	harvesterRateLimitDelaySeconds.Observe(duration.Seconds())
}
