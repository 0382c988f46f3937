// Package dispatch hands finalised segments to a transcription backend
// without ever blocking the capture path.
//
// Segments enter through Enqueue, which always returns immediately: when
// the bounded queue is full the oldest waiting segment is evicted to make
// room, on the grounds that fresher audio is worth more than stale audio
// that is already seconds behind. A pool of workers pulls from the queue
// and calls the backend; completed results pass through a reorder stage so
// the sink sees them in finalisation order even when the backend answers
// out of order.
//
// A failed transcription is terminal for that segment: the error is logged,
// the segment's slot in the output order is released, and no retry happens.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/sink"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/segment"
	"github.com/earshot-audio/earshot/pkg/transcribe"
)

const (
	defaultQueueSize = 8
	defaultWorkers   = 2
)

// Config holds the dispatcher parameters.
type Config struct {
	// QueueSize bounds the number of segments waiting for a worker.
	// Defaults to 8.
	QueueSize int

	// Workers is the number of concurrent transcription calls. Defaults
	// to 2.
	Workers int

	// Language is the optional language hint forwarded with every request.
	Language string
}

// Option is a functional option for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithPrompter attaches a function consulted before each transcription call
// to supply the contextual prompt (e.g. the current conversation topic).
// It is called from worker goroutines and must be safe for concurrent use.
func WithPrompter(fn func() string) Option {
	return func(d *Dispatcher) {
		d.prompter = fn
	}
}

// Dispatcher runs the queue, the worker pool, and the reorder stage.
type Dispatcher struct {
	tr       transcribe.Transcriber
	out      *reorder
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	prompter func() string

	queue chan segment.Segment
	wg    sync.WaitGroup

	// runCtx outlives the pipeline context so in-flight calls can finish
	// during a graceful drain. cancelRun aborts them when the drain grace
	// period expires.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a dispatcher that sends results to out.
func New(tr transcribe.Transcriber, out sink.Sink, cfg Config, opts ...Option) (*Dispatcher, error) {
	if tr == nil {
		return nil, errors.New("dispatch: transcriber must not be nil")
	}
	if out == nil {
		return nil, errors.New("dispatch: sink must not be nil")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	d := &Dispatcher{
		tr:    tr,
		cfg:   cfg,
		log:   slog.Default(),
		queue: make(chan segment.Segment, cfg.QueueSize),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.out = newReorder(out, d.log)
	return d, nil
}

// Start launches the worker pool. The context bounds normal operation;
// cancellation stops workers after their current call. Start may be called
// once.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatch: already started")
	}
	d.started = true

	// Detached from ctx so a graceful Close can drain in-flight work even
	// after the pipeline context is cancelled.
	d.runCtx, d.cancelRun = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return nil
}

// Enqueue queues a segment for transcription and returns immediately. When
// the queue is full the oldest waiting segment is evicted, its slot in the
// output order released, and a warning logged. Enqueue after Close is a
// no-op.
func (d *Dispatcher) Enqueue(seg segment.Segment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- seg:
		d.metrics.QueueDepth.Add(context.Background(), 1)
		return
	default:
	}

	// Queue full: evict the oldest waiting segment. Both selects are
	// non-blocking because no other goroutine sends on the queue.
	select {
	case old := <-d.queue:
		d.metrics.QueueDepth.Add(context.Background(), -1)
		d.drop(old)
	default:
	}
	select {
	case d.queue <- seg:
		d.metrics.QueueDepth.Add(context.Background(), 1)
	default:
		d.drop(seg)
	}
}

// Close stops intake, drains queued and in-flight work, and waits for the
// workers. ctx bounds the drain: when it expires, remaining calls are
// aborted and Close returns its error. Safe to call once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	if !d.started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancelRun()
		<-done
		return ctx.Err()
	}
}

// drop evicts one segment, releasing its output slot so ordering does not
// stall on it.
func (d *Dispatcher) drop(seg segment.Segment) {
	d.metrics.SegmentsDropped.Add(context.Background(), 1)
	d.log.Warn("dispatch queue full, dropping oldest segment",
		slog.Uint64("seq", seg.Seq),
		slog.Duration("audio", seg.Duration()),
	)
	d.out.skip(seg.Seq)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for seg := range d.queue {
		d.metrics.QueueDepth.Add(context.Background(), -1)
		d.process(seg)
	}
}

// process runs one transcription call and routes the outcome into the
// reorder stage.
func (d *Dispatcher) process(seg segment.Segment) {
	ctx, span := observe.StartSpan(d.runCtx, "dispatch.transcribe")
	defer span.End()
	wav := audio.EncodeWAV(seg.PCM, seg.SampleRate, seg.Channels)

	req := transcribe.Request{WAV: wav, Language: d.cfg.Language}
	if d.prompter != nil {
		req.Prompt = d.prompter()
	}

	start := time.Now()
	res, err := d.tr.Transcribe(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		d.metrics.RecordTranscription(ctx, d.tr.Name(), "error", elapsed.Seconds())
		d.log.Warn("transcription failed, segment abandoned",
			slog.Uint64("seq", seg.Seq),
			slog.String("backend", d.tr.Name()),
			slog.Any("error", err),
		)
		d.out.skip(seg.Seq)
		return
	}
	d.metrics.RecordTranscription(ctx, d.tr.Name(), "ok", elapsed.Seconds())

	d.out.complete(ctx, seg.Seq, sink.Entry{
		Seq:     seg.Seq,
		Start:   seg.Start,
		End:     seg.End(),
		Text:    res.Text,
		Backend: d.tr.Name(),
	})
}
