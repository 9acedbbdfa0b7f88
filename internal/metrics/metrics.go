// Package metrics provides Prometheus instrumentation for Sentra.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentra"

var (
	// DecisionsTotal counts decisions by verdict and aggregation strategy.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total fraud decisions by verdict and strategy.",
		},
		[]string{"verdict", "strategy"},
	)

	// DecisionDuration observes end-to-end decision latency.
	DecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "decision_duration_seconds",
		Help:      "Time to reach a decision in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// DegradedTotal counts degraded decisions by reason.
	DegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_decisions_total",
			Help:      "Decisions produced in degraded mode by reason.",
		},
		[]string{"reason"},
	)

	// SourceFailuresTotal counts scoring source failures.
	SourceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Scoring source failures by source.",
		},
		[]string{"source"},
	)

	// BreakerTransitions counts circuit breaker state changes per source.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state_transitions_total",
			Help:      "Circuit breaker state transitions by source, from-state, and to-state.",
		},
		[]string{"source", "from_state", "to_state"},
	)

	// AdmissionRejectionsTotal counts rejected requests by limiting window.
	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Requests rejected by admission control by window.",
		},
		[]string{"window"},
	)

	// AdmissionInFlight tracks admitted requests that have not been released.
	AdmissionInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "admission_in_flight",
		Help:      "Admitted requests not yet released.",
	})

	// AlertsTotal counts alert lifecycle events by event and severity.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert lifecycle events by event and severity.",
		},
		[]string{"event", "severity"},
	)

	// PersistenceFailuresTotal counts failed store writes by operation.
	PersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed store writes by operation.",
		},
		[]string{"op"},
	)

	// BusDroppedTotal counts messages dropped because a subscriber buffer was full.
	BusDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_messages_total",
			Help:      "Messages dropped on full subscriber buffers by topic.",
		},
		[]string{"topic"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		DecisionDuration,
		DegradedTotal,
		SourceFailuresTotal,
		BreakerTransitions,
		AdmissionRejectionsTotal,
		AdmissionInFlight,
		AlertsTotal,
		PersistenceFailuresTotal,
		BusDroppedTotal,
		HTTPRequestsTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
