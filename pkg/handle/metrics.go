package handle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts boundary traffic. It is a prometheus.Collector.
type Metrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	live       prometheus.Gauge
}

// Failure reasons.
const (
	reasonInvalidHandle = "invalid_handle"
	reasonUnaligned     = "unaligned"
	reasonMismatch      = "mismatch"
)

// NewMetrics builds unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "operations_total",
			Help:      "Boundary calls by operation.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "failures_total",
			Help:      "Boundary calls that did not take effect, by operation and reason.",
		}, []string{"op", "reason"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "live",
			Help:      "Constructed and not yet destroyed handles.",
		}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.operations.Describe(ch)
	m.failures.Describe(ch)
	m.live.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.operations.Collect(ch)
	m.failures.Collect(ch)
	m.live.Collect(ch)
}

func (m *Metrics) op(name string) {
	if m != nil {
		m.operations.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) fail(name, reason string) {
	if m != nil {
		m.failures.WithLabelValues(name, reason).Inc()
	}
}

func (m *Metrics) liveAdd(d float64) {
	if m != nil {
		m.live.Add(d)
	}
}
