// Package metrics provides centralized Prometheus metrics for the gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics track policy decisions per stage
var (
	// GateDecisionsTotal counts pipeline decisions by stage and outcome
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_gate_decisions_total",
			Help: "Total number of pipeline stage decisions",
		},
		[]string{"stage", "outcome"},
	)

	// RequestsTotal counts requests entering the pipeline by method and status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway",
		},
		[]string{"method", "status"},
	)
)

// Rate limit metrics track sliding-window state and health
var (
	// RateLimitCheckDuration measures the duration of a rate limit check
	RateLimitCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_ratelimit_check_duration_seconds",
			Help:    "Duration of sliding-window rate limit checks",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)

	// RateLimitActiveKeys tracks the number of keys in the rate limit store
	RateLimitActiveKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_ratelimit_active_keys",
			Help: "Number of client keys currently tracked by the rate limiter",
		},
	)

	// RateLimitStoreErrors counts failed rate limit store operations
	RateLimitStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_store_errors_total",
			Help: "Total number of rate limit store failures (requests admitted fail-open)",
		},
	)
)

// Audit metrics track sink health
var (
	// AuditSinkFailures counts audit records that could not be written
	AuditSinkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_audit_sink_failures_total",
			Help: "Total number of audit sink write failures",
		},
	)
)

// RecordGateDecision records one stage decision. Outcome is "forward" or
// "reject".
func RecordGateDecision(stage string, allowed bool) {
	outcome := "forward"
	if !allowed {
		outcome = "reject"
	}
	GateDecisionsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordHTTPRequest records a request's final status at the gateway boundary.
func RecordHTTPRequest(method string, status int) {
	RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveRateLimitCheck records the duration of one rate limit check.
func ObserveRateLimitCheck(d time.Duration) {
	RateLimitCheckDuration.Observe(d.Seconds())
}

// SetRateLimitActiveKeys publishes the current tracked key count.
func SetRateLimitActiveKeys(count int) {
	RateLimitActiveKeys.Set(float64(count))
}

// RecordRateLimitStoreError counts a store failure.
func RecordRateLimitStoreError() {
	RateLimitStoreErrors.Inc()
}

// RecordAuditSinkFailure counts an audit write failure.
func RecordAuditSinkFailure() {
	AuditSinkFailures.Inc()
}
