package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/sink"
	"github.com/earshot-audio/earshot/pkg/segment"
	"github.com/earshot-audio/earshot/pkg/transcribe"
	"github.com/earshot-audio/earshot/pkg/transcribe/mock"
)

// testSegment builds a segment whose PCM length encodes its sequence
// number, so a mock transcriber can recover the seq from the WAV upload.
func testSegment(seq uint64) segment.Segment {
	return segment.Segment{
		Seq:        seq,
		PCM:        make([]byte, int(seq+1)*320),
		Start:      time.Duration(seq) * time.Second,
		SampleRate: 16000,
		Channels:   1,
	}
}

func seqFromWAV(wav []byte) uint64 {
	return uint64((len(wav)-44)/320 - 1)
}

// captureSink records delivered entries.
type captureSink struct {
	mu      sync.Mutex
	entries []sink.Entry
}

func (c *captureSink) Write(_ context.Context, e sink.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *captureSink) snapshot() []sink.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sink.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(t *testing.T, tr transcribe.Transcriber, out sink.Sink, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(tr, out, cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d
}

func closeAll(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDeliversInFinalisationOrder(t *testing.T) {
	gate := make(chan struct{})
	tr := &mock.Transcriber{Fn: func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		seq := seqFromWAV(req.WAV)
		if seq == 0 {
			// Hold the first segment until the second has finished, forcing
			// out-of-order completion.
			select {
			case <-gate:
			case <-ctx.Done():
				return transcribe.Result{}, ctx.Err()
			}
		}
		return transcribe.Result{Text: fmt.Sprintf("segment %d", seq)}, nil
	}}

	out := &captureSink{}
	d := newDispatcher(t, tr, out, Config{Workers: 2})

	d.Enqueue(testSegment(0))
	d.Enqueue(testSegment(1))

	waitFor(t, func() bool { return len(tr.Calls()) == 2 }, "both workers never picked up their segment")
	if got := out.snapshot(); len(got) != 0 {
		t.Fatalf("segment 1 delivered before segment 0 completed: %+v", got)
	}
	close(gate)

	waitFor(t, func() bool { return len(out.snapshot()) == 2 }, "results never delivered")
	got := out.snapshot()
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Errorf("delivery order = [%d, %d], want [0, 1]", got[0].Seq, got[1].Seq)
	}
	if got[0].Text != "segment 0" {
		t.Errorf("Text = %q", got[0].Text)
	}
	closeAll(t, d)
}

func TestFailedSegment_ReleasesItsSlot(t *testing.T) {
	tr := &mock.Transcriber{Fn: func(_ context.Context, req transcribe.Request) (transcribe.Result, error) {
		seq := seqFromWAV(req.WAV)
		if seq == 1 {
			return transcribe.Result{}, &transcribe.RemoteError{Backend: "mock", Status: 500, Err: errors.New("boom")}
		}
		return transcribe.Result{Text: fmt.Sprintf("segment %d", seq)}, nil
	}}

	out := &captureSink{}
	d := newDispatcher(t, tr, out, Config{Workers: 1})

	for seq := uint64(0); seq < 3; seq++ {
		d.Enqueue(testSegment(seq))
	}
	closeAll(t, d)

	got := out.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (failure must not be retried or delivered)", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 2 {
		t.Errorf("delivered seqs = [%d, %d], want [0, 2]", got[0].Seq, got[1].Seq)
	}
}

func TestQueueOverflow_DropsOldest(t *testing.T) {
	gate := make(chan struct{})
	tr := &mock.Transcriber{Fn: func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return transcribe.Result{}, ctx.Err()
		}
		return transcribe.Result{Text: fmt.Sprintf("segment %d", seqFromWAV(req.WAV))}, nil
	}}

	out := &captureSink{}
	d := newDispatcher(t, tr, out, Config{QueueSize: 1, Workers: 1})

	// Occupy the only worker, then fill the one queue slot.
	d.Enqueue(testSegment(0))
	waitFor(t, func() bool { return len(tr.Calls()) == 1 }, "worker never picked up segment 0")
	d.Enqueue(testSegment(1))

	// Queue full: this evicts segment 1, the oldest waiting one.
	d.Enqueue(testSegment(2))

	close(gate)
	closeAll(t, d)

	got := out.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 2 {
		t.Errorf("delivered seqs = [%d, %d], want [0, 2]", got[0].Seq, got[1].Seq)
	}
	if calls := len(tr.Calls()); calls != 2 {
		t.Errorf("transcriber saw %d calls, want 2 (dropped segment must not be sent)", calls)
	}
}

// testMetrics builds a Metrics instance backed by a ManualReader so the
// queue depth gauge can be read back.
func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func queueDepth(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "earshot.queue.depth" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("queue depth has unexpected shape: %+v", met.Data)
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

func TestQueueOverflow_DepthGaugeTracksEviction(t *testing.T) {
	gate := make(chan struct{})
	tr := &mock.Transcriber{Fn: func(ctx context.Context, _ transcribe.Request) (transcribe.Result, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return transcribe.Result{}, ctx.Err()
	}}

	metrics, reader := testMetrics(t)
	d, err := New(tr, &captureSink{}, Config{QueueSize: 1, Workers: 1},
		WithLogger(quietLogger()), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Occupy the only worker, fill the one queue slot, then overflow it.
	d.Enqueue(testSegment(0))
	waitFor(t, func() bool { return len(tr.Calls()) == 1 }, "worker never picked up segment 0")
	d.Enqueue(testSegment(1))
	d.Enqueue(testSegment(2)) // evicts segment 1

	if got := queueDepth(t, reader); got != 1 {
		t.Errorf("queue depth gauge = %d with one queued segment, want 1", got)
	}

	close(gate)
	closeAll(t, d)
	if got := queueDepth(t, reader); got != 0 {
		t.Errorf("queue depth gauge = %d after drain, want 0", got)
	}
}

func TestEnqueue_NeverBlocks(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	tr := &mock.Transcriber{Fn: func(ctx context.Context, _ transcribe.Request) (transcribe.Result, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return transcribe.Result{}, ctx.Err()
	}}

	d := newDispatcher(t, tr, &captureSink{}, Config{QueueSize: 1, Workers: 1})

	start := time.Now()
	for seq := uint64(0); seq < 20; seq++ {
		d.Enqueue(testSegment(seq))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("20 Enqueue calls took %v with a saturated backend", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = d.Close(ctx) // grace expiry aborts the stuck call
}

func TestClose_DrainsQueuedWork(t *testing.T) {
	tr := &mock.Transcriber{Fn: func(_ context.Context, req transcribe.Request) (transcribe.Result, error) {
		time.Sleep(10 * time.Millisecond)
		return transcribe.Result{Text: fmt.Sprintf("segment %d", seqFromWAV(req.WAV))}, nil
	}}

	out := &captureSink{}
	d := newDispatcher(t, tr, out, Config{QueueSize: 8, Workers: 2})

	for seq := uint64(0); seq < 5; seq++ {
		d.Enqueue(testSegment(seq))
	}
	closeAll(t, d)

	got := out.snapshot()
	if len(got) != 5 {
		t.Fatalf("got %d entries after drain, want 5", len(got))
	}
	for i, e := range got {
		if e.Seq != uint64(i) {
			t.Errorf("entry %d has seq %d", i, e.Seq)
		}
	}
}

func TestPrompterFeedsTranscriptionRequests(t *testing.T) {
	tr := &mock.Transcriber{Text: "fine"}
	out := &captureSink{}
	d, err := New(tr, out, Config{Workers: 1},
		WithLogger(quietLogger()),
		WithPrompter(func() string { return "Topic: budget review." }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d.Enqueue(testSegment(0))
	closeAll(t, d)

	calls := tr.Calls()
	if len(calls) != 1 {
		t.Fatalf("transcriber saw %d calls, want 1", len(calls))
	}
	if calls[0].Prompt != "Topic: budget review." {
		t.Errorf("Prompt = %q", calls[0].Prompt)
	}
}

func TestEnqueueAfterClose_IsNoOp(t *testing.T) {
	tr := &mock.Transcriber{Text: "late"}
	out := &captureSink{}
	d := newDispatcher(t, tr, out, Config{})
	closeAll(t, d)

	d.Enqueue(testSegment(0))
	time.Sleep(20 * time.Millisecond)
	if got := out.snapshot(); len(got) != 0 {
		t.Errorf("entry delivered after Close: %+v", got)
	}
}
