// Package mock provides a scripted capture.Source for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/capture"
)

// Compile-time assertion that Source implements capture.Source.
var _ capture.Source = (*Source)(nil)

// Source replays a fixed script of PCM frames. When Interval is non-zero the
// frames are paced at that cadence, which lets backpressure tests measure
// real capture timing; otherwise they are delivered as fast as the consumer
// drains them.
type Source struct {
	// Script is the PCM payload of each frame to deliver, in order.
	Script [][]byte

	// Cfg is the frame format stamped onto delivered frames.
	Cfg capture.Config

	// Interval paces frame delivery. Zero delivers immediately.
	Interval time.Duration

	// FailAfter, when >= 0, aborts capture with a DeviceError after that
	// many frames have been delivered. Negative disables.
	FailAfter int

	frames chan audio.Frame

	mu      sync.Mutex
	started bool
	err     error

	// Sent records the wall-clock time each frame was handed to the channel.
	sent []time.Time
}

// New creates a mock source delivering the given frame payloads.
func New(cfg capture.Config, script [][]byte) *Source {
	return &Source{
		Script:    script,
		Cfg:       cfg,
		FailAfter: -1,
		// A single-slot buffer so delivery timing reflects consumer
		// readiness rather than channel capacity.
		frames: make(chan audio.Frame, 1),
	}
}

// Start begins replaying the script.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("mock: source already started")
	}
	s.started = true
	go s.replay(ctx)
	return nil
}

// Frames returns the frame channel.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Err returns the terminal error after the frame channel closes.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close is a no-op for the mock; the replay goroutine exits with the
// context or at end of script.
func (s *Source) Close() error { return nil }

// SendTimes returns the wall-clock instants at which frames were delivered.
// Used by backpressure tests to verify capture cadence.
func (s *Source) SendTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *Source) replay(ctx context.Context) {
	defer close(s.frames)

	frameDur := time.Duration(s.Cfg.FrameMs) * time.Millisecond
	var ticker *time.Ticker
	if s.Interval > 0 {
		ticker = time.NewTicker(s.Interval)
		defer ticker.Stop()
	}

	for i, data := range s.Script {
		if s.FailAfter >= 0 && i >= s.FailAfter {
			s.mu.Lock()
			s.err = &capture.DeviceError{Device: s.Cfg.Device, Err: errors.New("scripted failure")}
			s.mu.Unlock()
			return
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}

		f := audio.Frame{
			Data:       data,
			SampleRate: s.Cfg.SampleRate,
			Channels:   s.Cfg.Channels,
			Seq:        uint64(i),
			Timestamp:  time.Duration(i) * frameDur,
		}
		select {
		case s.frames <- f:
			s.mu.Lock()
			s.sent = append(s.sent, time.Now())
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}
