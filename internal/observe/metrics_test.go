package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point whose attribute key
// equals value, and whether such a point exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "deepgram", "stream", 0.2, nil)
	m.RecordProviderRequest(ctx, "deepgram", "stream", 0.3, nil)
	m.RecordProviderRequest(ctx, "deepgram", "keys", 1.1, errors.New("boom"))

	rm := collect(t, reader)

	if v, ok := sumWhere(t, rm, "blink.provider.requests", "status", "ok"); !ok || v != 2 {
		t.Errorf("ok requests = %d (found %v), want 2", v, ok)
	}
	if v, ok := sumWhere(t, rm, "blink.provider.errors", "kind", "keys"); !ok || v != 1 {
		t.Errorf("key errors = %d (found %v), want 1", v, ok)
	}

	met := findMetric(rm, "blink.provider.duration")
	if met == nil {
		t.Fatal("duration histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("duration samples = %d, want 3", count)
	}
}

func TestRecordSegment(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, false)
	m.RecordSegment(ctx, false)
	m.RecordSegment(ctx, true)

	rm := collect(t, reader)
	if v, _ := sumWhere(t, rm, "blink.transcript.segments", "kind", "partial"); v != 2 {
		t.Errorf("partial = %d, want 2", v)
	}
	if v, _ := sumWhere(t, rm, "blink.transcript.segments", "kind", "final"); v != 1 {
		t.Errorf("final = %d, want 1", v)
	}
}

func TestRecordEventPublishAndCircuit(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEventPublish(ctx, "blink.segments", nil)
	m.RecordEventPublish(ctx, "blink.segments", errors.New("broker down"))
	m.RecordCircuitTransition(ctx, "deepgram-keys", "open")

	rm := collect(t, reader)
	if v, _ := sumWhere(t, rm, "blink.events.published", "status", "error"); v != 1 {
		t.Errorf("failed publishes = %d, want 1", v)
	}
	if v, _ := sumWhere(t, rm, "blink.circuit.transitions", "to", "open"); v != 1 {
		t.Errorf("transitions to open = %d, want 1", v)
	}
}

func TestPlainCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCorrections(ctx, 3)
	m.RecordCorrections(ctx, 0)
	m.RecordDictationSaved(ctx)
	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"blink.transcript.corrections", 3},
		{"blink.dictations.saved", 1},
		{"blink.active_sessions", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("route", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "blink.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
