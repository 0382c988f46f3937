// Package topic maintains a short running description of what a live
// transcript is about.
//
// A Tracker sits behind the transcript sink and watches finished
// transcription results. At most once per configured interval it asks an
// LLM to refine its topic estimate from the most recent lines. Refinement
// is strictly best-effort: it runs off the delivery path, failures keep
// the previous topic, and a refinement budget caps spend on long runs.
package topic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/earshot-audio/earshot/internal/sink"
)

const (
	// defaultKeepLines bounds how much transcript context is sent per
	// refinement.
	defaultKeepLines = 20

	// refineTimeout bounds one LLM call.
	refineTimeout = 30 * time.Second
)

const systemPrompt = "You label the current topic of a live conversation. " +
	"Answer with a short noun phrase of at most eight words, no punctuation."

// Completer is the minimal LLM surface the tracker needs.
type Completer interface {
	// Complete returns the model's answer for a system prompt and a user
	// prompt.
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config holds the tracker parameters.
type Config struct {
	// Interval is the minimum time between refinements.
	Interval time.Duration

	// MaxRefinements caps LLM calls per run. 0 means unlimited.
	MaxRefinements int

	// KeepLines bounds the transcript window sent per refinement.
	// Defaults to 20.
	KeepLines int
}

// Option is a functional option for the Tracker.
type Option func(*Tracker)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

// WithOnChange registers a callback invoked with every new topic.
func WithOnChange(fn func(topic string)) Option {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

// Compile-time assertion that Tracker implements sink.Sink.
var _ sink.Sink = (*Tracker)(nil)

// Tracker accumulates transcript lines and periodically refines the topic.
// Register it next to the primary output via [sink.Tee].
type Tracker struct {
	completer Completer
	cfg       Config
	log       *slog.Logger
	onChange  func(string)

	mu          sync.Mutex
	lines       []string
	topic       string
	lastRefine  time.Time
	refinements int
	inflight    bool

	wg sync.WaitGroup
}

// New creates a tracker. completer must not be nil.
func New(completer Completer, cfg Config, opts ...Option) *Tracker {
	if cfg.KeepLines <= 0 {
		cfg.KeepLines = defaultKeepLines
	}
	t := &Tracker{
		completer: completer,
		cfg:       cfg,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Topic returns the current topic estimate. Empty until the first
// successful refinement.
func (t *Tracker) Topic() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topic
}

// Prompt composes a transcription hint from the current topic estimate and
// the most recent transcript line. Safe to hand to the dispatcher as its
// prompter.
func (t *Tracker) Prompt() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	if t.topic != "" {
		b.WriteString("Topic: ")
		b.WriteString(t.topic)
		b.WriteString(".")
	}
	if len(t.lines) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.lines[len(t.lines)-1])
	}
	return b.String()
}

// Write records one transcript line and kicks off a refinement when one is
// due. It never fails: topic tracking must not disturb transcript
// delivery.
func (t *Tracker) Write(_ context.Context, e sink.Entry) error {
	if strings.TrimSpace(e.Text) == "" {
		return nil
	}

	t.mu.Lock()
	t.lines = append(t.lines, e.Text)
	if len(t.lines) > t.cfg.KeepLines {
		t.lines = t.lines[len(t.lines)-t.cfg.KeepLines:]
	}

	due := time.Since(t.lastRefine) >= t.cfg.Interval
	budgetLeft := t.cfg.MaxRefinements == 0 || t.refinements < t.cfg.MaxRefinements
	if !due || !budgetLeft || t.inflight {
		t.mu.Unlock()
		return nil
	}
	t.inflight = true
	t.lastRefine = time.Now()
	t.refinements++
	prompt := t.buildPrompt()
	t.mu.Unlock()

	t.wg.Add(1)
	go t.refine(prompt)
	return nil
}

// Close waits for an in-flight refinement to finish.
func (t *Tracker) Close() {
	t.wg.Wait()
}

func (t *Tracker) buildPrompt() string {
	var b strings.Builder
	if t.topic != "" {
		fmt.Fprintf(&b, "Current topic estimate: %s\n\n", t.topic)
	}
	b.WriteString("Latest transcript lines:\n")
	for _, l := range t.lines {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Tracker) refine(prompt string) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), refineTimeout)
	defer cancel()

	answer, err := t.completer.Complete(ctx, systemPrompt, prompt)
	answer = strings.TrimSpace(answer)

	t.mu.Lock()
	t.inflight = false
	if err != nil || answer == "" {
		t.mu.Unlock()
		t.log.Warn("topic refinement failed, keeping previous topic", slog.Any("error", err))
		return
	}
	changed := answer != t.topic
	t.topic = answer
	onChange := t.onChange
	t.mu.Unlock()

	if changed {
		t.log.Info("conversation topic updated", slog.String("topic", answer))
		if onChange != nil {
			onChange(answer)
		}
	}
}
