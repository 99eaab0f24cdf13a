// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NoOpMetrics(t *testing.T) {
	m := &NoOpMetrics{}

	// All methods must be callable without panicking.
	m.IncCounter(MetricConnects, "ok")
	m.AddCounter(MetricCaptureBytes, 64)
	m.SetGauge(MetricSessionsActive, 1)
	m.ObserveHistogram(MetricHandshakeTime, 0.1)
}

func TestMetrics_PrometheusCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.IncCounter(MetricConnects, "ok")
	m.IncCounter(MetricConnects, "ok")
	m.IncCounter(MetricConnects, "error")

	if got := testutil.ToFloat64(m.counters[MetricConnects].WithLabelValues("ok")); got != 2 {
		t.Errorf("connects ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.counters[MetricConnects].WithLabelValues("error")); got != 1 {
		t.Errorf("connects error = %v, want 1", got)
	}
}

func TestMetrics_PrometheusAddAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.AddCounter(MetricCaptureBytes, 64)
	m.AddCounter(MetricCaptureBytes, 36)
	if got := testutil.ToFloat64(m.counters[MetricCaptureBytes].WithLabelValues()); got != 100 {
		t.Errorf("capture bytes = %v, want 100", got)
	}

	m.SetGauge(MetricSessionsActive, 1)
	if got := testutil.ToFloat64(m.gauges[MetricSessionsActive].WithLabelValues()); got != 1 {
		t.Errorf("sessions active = %v, want 1", got)
	}
	m.SetGauge(MetricSessionsActive, 0)
	if got := testutil.ToFloat64(m.gauges[MetricSessionsActive].WithLabelValues()); got != 0 {
		t.Errorf("sessions active = %v, want 0", got)
	}
}

func TestMetrics_PrometheusHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.ObserveHistogram(MetricHandshakeTime, 0.02)
	m.ObserveHistogram(MetricHandshakeTime, 0.2)
	m.ObserveHistogram(MetricHandshakeTime, 2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "rfb_handshake_seconds" {
			continue
		}
		hist := mf.GetMetric()[0].GetHistogram()
		if hist.GetSampleCount() != 3 {
			t.Errorf("sample count = %d, want 3", hist.GetSampleCount())
		}
		return
	}
	t.Fatal("rfb_handshake_seconds not found in gathered families")
}

// Metric names the collector does not know are dropped, not registered on
// the fly.
func TestMetrics_UnknownNamesIgnored(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.IncCounter("bogus")
	m.AddCounter("bogus", 1)
	m.SetGauge("bogus", 1)
	m.ObserveHistogram("bogus", 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "rfb_bogus" {
			t.Error("unknown metric name was registered")
		}
	}
}

func TestMetrics_ClientSessionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	srv := startMockServer(t, func(mock *MockServer) {
		mock.Updates = [][]byte{updateMsg(solidRawRect(0, 0, 8, 6, 1, 2, 3))}
	})
	client := dialMock(t, srv, WithMetrics(m))

	if _, err := client.CaptureScreen(); err != nil {
		t.Fatalf("CaptureScreen() error = %v", err)
	}
	if err := client.KeyEvent('a', true); err != nil {
		t.Fatalf("KeyEvent() error = %v", err)
	}
	_ = client.Close()

	if got := testutil.ToFloat64(m.counters[MetricConnects].WithLabelValues("ok")); got != 1 {
		t.Errorf("connects ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.counters[MetricCaptures].WithLabelValues("ok")); got != 1 {
		t.Errorf("captures ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.counters[MetricCaptureRects].WithLabelValues("raw")); got != 1 {
		t.Errorf("raw rectangles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.counters[MetricCaptureBytes].WithLabelValues()); got != 192 {
		t.Errorf("capture bytes = %v, want 192", got)
	}
	if got := testutil.ToFloat64(m.counters[MetricInputEvents].WithLabelValues("key")); got != 1 {
		t.Errorf("key events = %v, want 1", got)
	}
	// Close returns the session gauge to zero.
	if got := testutil.ToFloat64(m.gauges[MetricSessionsActive].WithLabelValues()); got != 0 {
		t.Errorf("sessions active = %v, want 0", got)
	}
}
