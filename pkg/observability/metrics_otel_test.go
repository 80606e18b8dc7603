package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) (*metric.MeterProvider, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down provider: %v", err)
		}
	})
	return provider, reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt64(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", m.Name, m.Data)
	}
	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			total += dp.Value
		}
	}
	return total
}

func TestNewOTelMetrics(t *testing.T) {
	provider, _ := setupTestMeterProvider(t)

	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewOTelMetricsWithMeter() error = %v", err)
	}
	if m.transitions == nil || m.cascades == nil || m.logoutSignals == nil || m.suppressed == nil ||
		m.providerCalls == nil || m.providerDuration == nil || m.storageCleared == nil {
		t.Error("expected every instrument to be created")
	}

	if _, err := NewOTelMetrics(); err != nil {
		t.Errorf("NewOTelMetrics() on the global provider error = %v", err)
	}
}

func TestOTelMetrics_Record(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}

	m.Transition("reports", "validating", "invalidated")
	m.Cascade("reports", "leaf", "probe_interaction_required")
	m.Cascade("reports", "leaf", "probe_interaction_required")
	m.LogoutSignal("hub", "suppressed")
	m.RedirectSuppressed("reports")
	m.ProviderCall("reports", "acquire_token", "ok", 12*time.Millisecond)
	m.StorageCleared("reports", 3)

	got := collect(t, reader)

	app := attribute.String("app", "reports")
	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  int64
	}{
		{"ssosync.session.transitions", []attribute.KeyValue{app, attribute.String("from", "validating"), attribute.String("to", "invalidated")}, 1},
		{"ssosync.session.cascades", []attribute.KeyValue{app, attribute.String("role", "leaf"), attribute.String("trigger", "probe_interaction_required")}, 2},
		{"ssosync.hub.logout_signals", []attribute.KeyValue{attribute.String("app", "hub"), attribute.String("outcome", "suppressed")}, 1},
		{"ssosync.redirect.suppressed", []attribute.KeyValue{app}, 1},
		{"ssosync.provider.calls", []attribute.KeyValue{app, attribute.String("op", "acquire_token"), attribute.String("outcome", "ok")}, 1},
		{"ssosync.storage.entries_cleared", []attribute.KeyValue{app}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ok := got[tt.name]
			if !ok {
				t.Fatalf("metric %s not collected", tt.name)
			}
			if v := sumInt64(t, data, tt.attrs...); v != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, v, tt.want)
			}
		})
	}

	hist, ok := got["ssosync.provider.duration"].Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one provider duration observation, got %+v", got["ssosync.provider.duration"].Data)
	}
}
