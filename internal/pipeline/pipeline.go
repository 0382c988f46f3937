// Package pipeline wires the capture path together: audio frames from a
// source are classified by the VAD, assembled into utterance segments, and
// handed to the dispatcher for transcription.
//
// The frame loop is a single goroutine, so VAD session state and the
// assembler need no locking. Shutdown is ordered: the source closes first,
// the loop drains remaining frames and flushes the assembler, then the
// dispatcher drains queued and in-flight transcriptions within a grace
// period.
//
// Device failures are fatal: when the source reports one the pipeline
// drains and returns the error. Transcription failures are not; the
// dispatcher handles those per segment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earshot-audio/earshot/internal/dispatch"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/capture"
	"github.com/earshot-audio/earshot/pkg/segment"
	"github.com/earshot-audio/earshot/pkg/vad"
)

// defaultDrainTimeout bounds how long shutdown waits for queued
// transcriptions.
const defaultDrainTimeout = 30 * time.Second

// Option is a functional option for the Pipeline.
type Option func(*Pipeline)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithDrainTimeout sets the shutdown grace period for the dispatcher.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.drainTimeout = d
	}
}

// Pipeline owns one capture-to-dispatch run.
type Pipeline struct {
	src    capture.Source
	engine vad.Engine
	vcfg   vad.Config
	asm    *segment.Assembler
	disp   *dispatch.Dispatcher

	log          *slog.Logger
	metrics      *observe.Metrics
	drainTimeout time.Duration
}

// New assembles a pipeline. All stages must be non-nil.
func New(src capture.Source, engine vad.Engine, vcfg vad.Config, asm *segment.Assembler, disp *dispatch.Dispatcher, opts ...Option) (*Pipeline, error) {
	if src == nil || engine == nil || asm == nil || disp == nil {
		return nil, errors.New("pipeline: all stages must be non-nil")
	}
	if err := vcfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		src:          src,
		engine:       engine,
		vcfg:         vcfg,
		asm:          asm,
		disp:         disp,
		log:          slog.Default(),
		metrics:      nil,
		drainTimeout: defaultDrainTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Run captures until the context is cancelled or the device fails. It
// always drains the dispatcher before returning, so results for segments
// finalised late in the run are not lost.
func (p *Pipeline) Run(ctx context.Context) error {
	session, err := p.engine.NewSession(p.vcfg)
	if err != nil {
		return fmt.Errorf("pipeline: create vad session: %w", err)
	}
	defer session.Close()

	if err := p.src.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start capture: %w", err)
	}
	if err := p.disp.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start dispatcher: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	// Closing the source ends the frame loop; the loop never aborts
	// mid-stream, it drains whatever the source produced. The explicit
	// stop lets a source-side EOF release the watcher too.
	g.Go(func() error {
		<-gctx.Done()
		return p.src.Close()
	})
	g.Go(func() error {
		defer stop()
		return p.frameLoop(gctx, session)
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()
	if err := p.disp.Close(drainCtx); err != nil {
		p.log.Warn("dispatch drain cut short", slog.Any("error", err))
	}
	return runErr
}

// frameLoop consumes frames until the source channel closes, then flushes
// the assembler. A VAD frame-size error is surfaced as-is: it indicates a
// splitter bug, not a runtime condition.
func (p *Pipeline) frameLoop(ctx context.Context, session vad.Session) error {
	frameSeconds := (time.Duration(p.vcfg.FrameMs) * time.Millisecond).Seconds()

	var discarded uint64
	recordDiscards := func() {
		if d := p.asm.Discarded(); d != discarded {
			p.metrics.SegmentsDiscarded.Add(ctx, int64(d-discarded))
			discarded = d
		}
	}

	for f := range p.src.Frames() {
		p.metrics.CapturedAudio.Add(ctx, frameSeconds)

		voiced, err := session.Classify(f.Data)
		if err != nil {
			return fmt.Errorf("pipeline: classify frame %d: %w", f.Seq, err)
		}
		if seg, ok := p.asm.Push(f, voiced); ok {
			p.emit(ctx, seg)
		}
		recordDiscards()
	}

	if seg, ok := p.asm.Flush(); ok {
		p.emit(ctx, seg)
	}
	recordDiscards()

	if err := p.src.Err(); err != nil {
		var devErr *capture.DeviceError
		if errors.As(err, &devErr) {
			p.log.Error("capture device failed", slog.String("device", devErr.Device), slog.Any("error", devErr.Err))
		}
		return err
	}
	return nil
}

func (p *Pipeline) emit(ctx context.Context, seg segment.Segment) {
	p.metrics.RecordSegment(ctx, seg.Duration().Seconds())
	p.log.Debug("segment finalised",
		slog.Uint64("seq", seg.Seq),
		slog.Duration("start", seg.Start),
		slog.Duration("audio", seg.Duration()),
	)
	p.disp.Enqueue(seg)
}
