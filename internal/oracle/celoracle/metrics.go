package celoracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/policyguard/internal/observability"
)

// Metrics holds Prometheus metrics for CEL evaluations.
type Metrics struct {
	evaluationTotal    *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	evaluationErrors   *prometheus.CounterVec
}

// NewMetrics creates CEL metrics registered on registerer. A nil registerer
// leaves the collectors unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "policyguard"
	}

	m := &Metrics{
		evaluationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cel",
				Name:      "evaluation_total",
				Help:      "Total number of CEL oracle evaluations",
			},
			[]string{"policy", "decision"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cel",
				Name:      "evaluation_duration_seconds",
				Help:      "CEL oracle evaluation duration in seconds",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .025, .05, .1},
			},
		),
		evaluationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cel",
				Name:      "evaluation_errors_total",
				Help:      "Total number of CEL expression runtime errors",
			},
			[]string{"policy"},
		),
	}

	observability.RegisterCollectors(registerer, m.evaluationTotal, m.evaluationDuration, m.evaluationErrors)
	return m
}

func (m *Metrics) recordEvaluation(policy, decision string, duration time.Duration) {
	if m == nil {
		return
	}
	m.evaluationTotal.WithLabelValues(policy, decision).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

func (m *Metrics) recordError(policy string) {
	if m == nil {
		return
	}
	m.evaluationErrors.WithLabelValues(policy).Inc()
}
