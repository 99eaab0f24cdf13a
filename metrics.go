// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names reported by the client. A MetricsCollector implementation may
// ignore names it does not know.
const (
	MetricConnects       = "connects_total"
	MetricHandshakeTime  = "handshake_seconds"
	MetricCaptures       = "captures_total"
	MetricCaptureTime    = "capture_seconds"
	MetricCaptureRects   = "capture_rectangles_total"
	MetricCaptureBytes   = "capture_bytes_total"
	MetricInputEvents    = "input_events_total"
	MetricSessionsActive = "sessions_active"
)

// MetricsCollector defines the interface for collecting metrics and
// observability data from client operations.
type MetricsCollector interface {
	// IncCounter increments the named counter by one.
	IncCounter(name string, labels ...string)

	// AddCounter increments the named counter by delta.
	AddCounter(name string, delta float64, labels ...string)

	// SetGauge sets the named gauge to value.
	SetGauge(name string, value float64, labels ...string)

	// ObserveHistogram records value into the named histogram.
	ObserveHistogram(name string, value float64, labels ...string)
}

// NoOpMetrics is a MetricsCollector implementation that discards all metrics.
type NoOpMetrics struct{}

// IncCounter discards the counter increment.
func (m *NoOpMetrics) IncCounter(name string, labels ...string) {}

// AddCounter discards the counter increment.
func (m *NoOpMetrics) AddCounter(name string, delta float64, labels ...string) {}

// SetGauge discards the gauge update.
func (m *NoOpMetrics) SetGauge(name string, value float64, labels ...string) {}

// ObserveHistogram discards the observation.
func (m *NoOpMetrics) ObserveHistogram(name string, value float64, labels ...string) {}

// PrometheusMetrics implements MetricsCollector on top of a Prometheus
// registry. All client metrics are registered under the "rfb" namespace.
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics registers the client metric set with reg and returns
// the collector. Passing prometheus.DefaultRegisterer wires into the default
// registry; tests pass a fresh prometheus.NewRegistry().
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	counter := func(name, help string, labels ...string) {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfb",
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(vec)
		m.counters[name] = vec
	}
	gauge := func(name, help string, labels ...string) {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rfb",
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(vec)
		m.gauges[name] = vec
	}
	histogram := func(name, help string, buckets []float64, labels ...string) {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rfb",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
		reg.MustRegister(vec)
		m.histograms[name] = vec
	}

	counter(MetricConnects, "Connection attempts by result.", "result")
	counter(MetricCaptures, "Screen captures by result.", "result")
	counter(MetricCaptureRects, "Decoded rectangles by encoding.", "encoding")
	counter(MetricCaptureBytes, "Framebuffer bytes read from the wire.")
	counter(MetricInputEvents, "Input events sent by type.", "type")
	gauge(MetricSessionsActive, "Sessions currently in the Ready state.")
	histogram(MetricHandshakeTime, "Handshake duration in seconds.",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	histogram(MetricCaptureTime, "Capture duration in seconds.",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})

	return m
}

// IncCounter increments the named counter by one.
func (m *PrometheusMetrics) IncCounter(name string, labels ...string) {
	if vec, ok := m.counters[name]; ok {
		vec.WithLabelValues(labels...).Inc()
	}
}

// AddCounter increments the named counter by delta.
func (m *PrometheusMetrics) AddCounter(name string, delta float64, labels ...string) {
	if vec, ok := m.counters[name]; ok {
		vec.WithLabelValues(labels...).Add(delta)
	}
}

// SetGauge sets the named gauge to value.
func (m *PrometheusMetrics) SetGauge(name string, value float64, labels ...string) {
	if vec, ok := m.gauges[name]; ok {
		vec.WithLabelValues(labels...).Set(value)
	}
}

// ObserveHistogram records value into the named histogram.
func (m *PrometheusMetrics) ObserveHistogram(name string, value float64, labels ...string) {
	if vec, ok := m.histograms[name]; ok {
		vec.WithLabelValues(labels...).Observe(value)
	}
}
