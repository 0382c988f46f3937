package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTranscription(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, "whisper", "ok", 0.42)
	m.RecordTranscription(ctx, "whisper", "ok", 1.1)
	m.RecordTranscription(ctx, "whisper", "error", 0.05)

	rm := collect(t, reader)

	met := findMetric(rm, "earshot.transcribe.duration")
	if met == nil {
		t.Fatal("transcribe duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("transcribe duration is not a histogram")
	}
	var samples uint64
	for _, dp := range hist.DataPoints {
		samples += dp.Count
	}
	if samples != 3 {
		t.Errorf("histogram sample count = %d, want 3", samples)
	}

	met = findMetric(rm, "earshot.transcribe.errors")
	if met == nil {
		t.Fatal("transcribe errors metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("transcribe errors is not a sum")
	}
	var errorsTotal int64
	for _, dp := range sum.DataPoints {
		errorsTotal += dp.Value
	}
	if errorsTotal != 1 {
		t.Errorf("error count = %d, want 1", errorsTotal)
	}
}

func TestRecordSegmentAndQueueDepth(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, 2.31)
	m.SegmentsDropped.Add(ctx, 1)
	m.QueueDepth.Add(ctx, 3)
	m.QueueDepth.Add(ctx, -1)

	rm := collect(t, reader)

	if met := findMetric(rm, "earshot.segments.emitted"); met == nil {
		t.Error("segments emitted metric not found")
	}
	met := findMetric(rm, "earshot.queue.depth")
	if met == nil {
		t.Fatal("queue depth metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("queue depth is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("queue depth = %d, want 2", got)
	}
}

func TestCounterAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, "openai", "ok", 0.2)

	rm := collect(t, reader)
	met := findMetric(rm, "earshot.transcribe.requests")
	if met == nil {
		t.Fatal("transcribe requests metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("transcribe requests is not a sum")
	}
	dp := sum.DataPoints[0]
	if v, ok := dp.Attributes.Value(attribute.Key("backend")); !ok || v.AsString() != "openai" {
		t.Errorf("backend attribute = %v", v)
	}
}
