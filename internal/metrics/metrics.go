// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package metrics registers the Prometheus instrumentation of the gate.
//
// Label values are always drawn from closed sets (route classes, gate
// states, decision outcomes) so no request data can explode cardinality.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_api_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route_class", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storegate_api_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route_class"},
	)

	// Gate Metrics
	GateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_gate_outcomes_total",
			Help: "Requests by final gate state",
		},
		[]string{"route_class", "state"},
	)

	// Rate Limit Metrics
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_ratelimit_decisions_total",
			Help: "Rate limit decisions by route class and outcome",
		},
		[]string{"route_class", "outcome"}, // allowed, limited, degraded_allow, degraded_deny
	)

	RateLimitBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_ratelimit_backend_errors_total",
			Help: "Rate limit counter backend failures",
		},
		[]string{"backend"},
	)

	RateLimitCleanupRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storegate_ratelimit_cleanup_removed_total",
			Help: "Expired rate limit windows removed by cleanup",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storegate_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Authorization Metrics
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_authz_decisions_total",
			Help: "Authorization decisions by role and result",
		},
		[]string{"role", "result", "cached"},
	)

	AuthzDecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storegate_authz_decision_duration_seconds",
			Help:    "Time spent evaluating authorization policy",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	// CSRF Metrics
	CSRFRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_csrf_rejections_total",
			Help: "CSRF, origin and signature rejections by reason",
		},
		[]string{"reason"},
	)

	// Audit Metrics
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_audit_writes_total",
			Help: "Audit entry persistence attempts by result",
		},
		[]string{"result"}, // success, retry, failed, dropped
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storegate_audit_queue_depth",
			Help: "Audit entries waiting to be persisted",
		},
	)

	AuditCleanupDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_audit_cleanup_deleted_total",
			Help: "Audit entries removed by retention cleanup",
		},
		[]string{"tier"}, // standard, critical
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storegate_alerts_total",
			Help: "Operational alerts by sink and result",
		},
		[]string{"sink", "result"},
	)
)

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, routeClass, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, routeClass, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, routeClass).Observe(duration.Seconds())
}

// RecordGateOutcome records the final state of a request in the gate.
func RecordGateOutcome(routeClass, state string) {
	GateOutcomes.WithLabelValues(routeClass, state).Inc()
}

// RecordRateLimitDecision records a limiter verdict.
func RecordRateLimitDecision(routeClass, outcome string) {
	RateLimitDecisions.WithLabelValues(routeClass, outcome).Inc()
}

// RecordRateLimitBackendError records a counter backend failure.
func RecordRateLimitBackendError(backend string) {
	RateLimitBackendErrors.WithLabelValues(backend).Inc()
}

// RecordRateLimitCleanup records windows removed by a cleanup pass.
func RecordRateLimitCleanup(removed int) {
	if removed > 0 {
		RateLimitCleanupRemoved.Add(float64(removed))
	}
}

// RecordCircuitBreakerTransition updates breaker gauges on a state change.
func RecordCircuitBreakerTransition(name, from, to string, toValue float64) {
	CircuitBreakerState.WithLabelValues(name).Set(toValue)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordAuthzDecision records an authorization decision.
func RecordAuthzDecision(role string, allowed bool, duration time.Duration, cached bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	AuthzDecisions.WithLabelValues(role, result, cachedLabel).Inc()
	AuthzDecisionDuration.Observe(duration.Seconds())
}

// RecordCSRFRejection records a rejected request by reason.
func RecordCSRFRejection(reason string) {
	CSRFRejections.WithLabelValues(reason).Inc()
}

// RecordAuditWrite records the result of an audit persistence attempt.
func RecordAuditWrite(result string) {
	AuditWrites.WithLabelValues(result).Inc()
}

// SetAuditQueueDepth reports the audit buffer occupancy.
func SetAuditQueueDepth(depth int) {
	AuditQueueDepth.Set(float64(depth))
}

// RecordAuditCleanup records entries removed by a retention tier.
func RecordAuditCleanup(tier string, deleted int64) {
	if deleted > 0 {
		AuditCleanupDeleted.WithLabelValues(tier).Add(float64(deleted))
	}
}

// RecordAlert records an alert delivery attempt.
func RecordAlert(sink, result string) {
	AlertsEmitted.WithLabelValues(sink, result).Inc()
}
