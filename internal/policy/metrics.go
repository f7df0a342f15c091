package policy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/policyguard/internal/observability"
)

// Metrics holds Prometheus metrics for policy reloads.
type Metrics struct {
	reloadsTotal *prometheus.CounterVec
	version      prometheus.Gauge
}

// NewMetrics creates reload metrics registered on registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "policyguard"
	}

	m := &Metrics{
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "reloads_total",
				Help:      "Total number of policy reloads by source and result",
			},
			[]string{"source", "result"},
		),
		version: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "version",
				Help:      "Version of the oracle handle currently served",
			},
		),
	}

	observability.RegisterCollectors(registerer, m.reloadsTotal, m.version)
	return m
}

func (m *Metrics) recordReload(source string, err error, version uint64) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloadsTotal.WithLabelValues(source, "error").Inc()
		return
	}
	m.reloadsTotal.WithLabelValues(source, "success").Inc()
	m.version.Set(float64(version))
}
