// Package sink delivers finished transcription results in order.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Entry is one transcribed segment, delivered in finalisation order.
type Entry struct {
	// Seq is the segment's finalisation sequence number.
	Seq uint64

	// Start and End bound the segment on the capture clock.
	Start time.Duration
	End   time.Duration

	// Text is the transcription.
	Text string

	// Backend names the transcriber that produced the text.
	Backend string
}

// Sink receives transcription results. Implementations must tolerate being
// called from a single goroutine only; ordering is the caller's concern.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Funnel adapts a function to the Sink interface.
type Funnel func(ctx context.Context, e Entry) error

func (f Funnel) Write(ctx context.Context, e Entry) error { return f(ctx, e) }

// Tee writes every entry to all sinks, stopping at the first error.
func Tee(sinks ...Sink) Sink {
	return Funnel(func(ctx context.Context, e Entry) error {
		for _, s := range sinks {
			if err := s.Write(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Compile-time assertions.
var (
	_ Sink = (*Text)(nil)
	_ Sink = (*JSONLines)(nil)
)

// Text writes human-readable transcript lines to w:
//
//	[00:01:02.340 → 00:01:04.870] the quarterly numbers look fine
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText creates a text sink writing to w.
func NewText(w io.Writer) *Text { return &Text{w: w} }

func (t *Text) Write(_ context.Context, e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "[%s → %s] %s\n", clock(e.Start), clock(e.End), e.Text)
	return err
}

// JSONLines writes one JSON object per entry, newline-delimited.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSONL sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Write(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(struct {
		Seq     uint64  `json:"seq"`
		Start   float64 `json:"start_sec"`
		End     float64 `json:"end_sec"`
		Text    string  `json:"text"`
		Backend string  `json:"backend"`
	}{e.Seq, e.Start.Seconds(), e.End.Seconds(), e.Text, e.Backend})
}

// clock formats a capture timestamp as HH:MM:SS.mmm.
func clock(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}
