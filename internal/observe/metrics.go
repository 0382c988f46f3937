// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, tracing helpers, and the provider setup
// that bridges them to Prometheus.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/earshot-audio/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscribeDuration tracks remote transcription latency. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	TranscribeDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of finalised segments.
	SegmentDuration metric.Float64Histogram

	// SegmentsEmitted counts utterance segments handed to the dispatcher.
	SegmentsEmitted metric.Int64Counter

	// SegmentsDiscarded counts audio buffers dropped before dispatch for
	// carrying no usable speech.
	SegmentsDiscarded metric.Int64Counter

	// SegmentsDropped counts segments evicted from a full dispatch queue.
	SegmentsDropped metric.Int64Counter

	// TranscribeRequests counts transcription calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	TranscribeRequests metric.Int64Counter

	// TranscribeErrors counts failed transcription calls by backend.
	TranscribeErrors metric.Int64Counter

	// QueueDepth tracks the number of segments waiting in the dispatch
	// queue.
	QueueDepth metric.Int64UpDownCounter

	// CapturedAudio counts captured audio by duration in seconds.
	CapturedAudio metric.Float64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription round-trips and utterance lengths.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("earshot.transcribe.duration",
		metric.WithDescription("Latency of remote transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("earshot.segment.duration",
		metric.WithDescription("Audio length of finalised segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SegmentsEmitted, err = m.Int64Counter("earshot.segments.emitted",
		metric.WithDescription("Total segments handed to the dispatcher."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("earshot.segments.discarded",
		metric.WithDescription("Total buffers discarded for carrying no usable speech."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("earshot.segments.dropped",
		metric.WithDescription("Total segments evicted from a full dispatch queue."),
	); err != nil {
		return nil, err
	}
	if met.TranscribeRequests, err = m.Int64Counter("earshot.transcribe.requests",
		metric.WithDescription("Total transcription requests by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.TranscribeErrors, err = m.Int64Counter("earshot.transcribe.errors",
		metric.WithDescription("Total failed transcription requests by backend."),
	); err != nil {
		return nil, err
	}

	if met.QueueDepth, err = m.Int64UpDownCounter("earshot.queue.depth",
		metric.WithDescription("Segments waiting in the dispatch queue."),
	); err != nil {
		return nil, err
	}

	if met.CapturedAudio, err = m.Float64Counter("earshot.capture.audio",
		metric.WithDescription("Captured audio by duration."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTranscription records one finished transcription call: its latency
// histogram sample and the request counter with backend and status
// attributes.
func (m *Metrics) RecordTranscription(ctx context.Context, backend, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	m.TranscribeDuration.Record(ctx, seconds, attrs)
	m.TranscribeRequests.Add(ctx, 1, attrs)
	if status != "ok" {
		m.TranscribeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	}
}

// RecordSegment records one finalised segment and its audio length.
func (m *Metrics) RecordSegment(ctx context.Context, seconds float64) {
	m.SegmentsEmitted.Add(ctx, 1)
	m.SegmentDuration.Record(ctx, seconds)
}
