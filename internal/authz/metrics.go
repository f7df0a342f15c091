package authz

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/policyguard/internal/observability"
)

// Decision outcome labels.
const (
	OutcomeAllowed     = "allowed"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
)

// Metrics holds Prometheus metrics for authorization decisions.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
}

// NewMetrics creates authorization metrics registered on registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "policyguard"
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "requests_total",
				Help:      "Total number of authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decision_duration_seconds",
				Help:      "Time spent resolving the oracle and running the decision function",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"outcome"},
		),
	}

	observability.RegisterCollectors(registerer, m.requestsTotal, m.decisionDuration)
	return m
}

// Record counts one decision with its outcome label.
func (m *Metrics) Record(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.decisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// OutcomeFor returns the outcome label for a decision error.
func OutcomeFor(err error) string {
	switch {
	case err == nil:
		return OutcomeAllowed
	case errors.Is(err, ErrOracleUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeRejected
	}
}
