package opaoracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/policyguard/internal/observability"
)

// Metrics holds Prometheus metrics for OPA queries.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	breakerState    prometheus.Gauge
}

// NewMetrics creates OPA metrics registered on registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "policyguard"
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "opa",
				Name:      "requests_total",
				Help:      "Total number of OPA queries by result",
			},
			[]string{"result"},
		),
		requestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "opa",
				Name:      "request_duration_seconds",
				Help:      "OPA query duration in seconds, retries included",
				Buckets:   prometheus.DefBuckets,
			},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "opa",
				Name:      "circuit_breaker_state",
				Help:      "OPA circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
	}

	observability.RegisterCollectors(registerer, m.requestsTotal, m.requestDuration, m.breakerState)
	return m
}

func (m *Metrics) recordRequest(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(result).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

func (m *Metrics) setBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}
