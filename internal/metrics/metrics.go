// Package metrics exposes Prometheus collectors for the admission service.
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
	admissionDecisionsTotal       *prometheus.CounterVec
	admissionStageDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	rateLimitedTotal              *prometheus.CounterVec
	enqueueTotal                  *prometheus.CounterVec
	handoffQueueDepth             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		admissionDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Total number of crawl submission decisions, labeled by outcome and rejection reason.",
			},
			[]string{"outcome", "reason"},
		)

		admissionStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_stage_duration_seconds",
				Help:    "Histogram of collaborator call latencies per admission stage.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"stage"},
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

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_rate_limited_total",
				Help: "Total number of requests refused by the rate limiter, labeled by mode.",
			},
			[]string{"mode"},
		)

		enqueueTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_enqueue_total",
				Help: "Total number of enqueue handoffs, labeled by publisher backend and status.",
			},
			[]string{"backend", "status"},
		)

		handoffQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "admission_handoff_queue_depth",
				Help: "Number of accepted jobs waiting to be forwarded to the job queue.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts a terminal admission decision.
func ObserveDecision(outcome, reason string) {
	Init()
	admissionDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveStage records how long a stage's collaborator call took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	admissionStageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimited counts a rate-limit refusal.
func ObserveRateLimited(mode string) {
	Init()
	rateLimitedTotal.WithLabelValues(mode).Inc()
}

// ObserveEnqueue counts a forwarded (or failed) enqueue handoff.
func ObserveEnqueue(backend, status string) {
	Init()
	enqueueTotal.WithLabelValues(backend, status).Inc()
}

// IncHandoffDepth increments the handoff queue gauge.
func IncHandoffDepth() {
	Init()
	handoffQueueDepth.Inc()
}

// DecHandoffDepth decrements the handoff queue gauge.
func DecHandoffDepth() {
	Init()
	handoffQueueDepth.Dec()
}
