// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful per-stream session. Each session maintains its own calibration
// state (noise-floor estimate, smoothing history) so that multiple streams
// can be processed independently.
//
// Classification is synchronous by design: Classify returns immediately,
// making it suitable for the real-time capture loop that gates segment
// assembly. It operates strictly frame-by-frame with no look-ahead.
//
// Implementations must be safe for concurrent use across different
// sessions. A single Session must not be shared across goroutines unless
// the implementation documents otherwise.
package vad

import "fmt"

// MaxAggressiveness is the highest recognised aggressiveness level.
const MaxAggressiveness = 3

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to Classify.
	SampleRate int

	// FrameMs is the duration of each audio frame in milliseconds. Classify
	// returns an error if the supplied frame does not match this size.
	FrameMs int

	// Aggressiveness selects how strict the detector is, 0–3. Higher values
	// reduce false positives on voice at the cost of clipping quiet speech.
	Aggressiveness int
}

// Validate reports whether cfg is usable for a session.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate %d is invalid", c.SampleRate)
	}
	if c.FrameMs <= 0 {
		return fmt.Errorf("vad: frame duration %dms is invalid", c.FrameMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > MaxAggressiveness {
		return fmt.Errorf("vad: aggressiveness %d out of range [0, %d]", c.Aggressiveness, MaxAggressiveness)
	}
	return nil
}

// Session is an active VAD session for a single audio stream.
type Session interface {
	// Classify labels a single frame of raw little-endian int16 PCM as
	// voiced (true) or unvoiced (false). The frame must match the size
	// configured when the session was created; a mismatch is an upstream
	// bug and returns an error.
	//
	// Classify is called synchronously in the capture loop; it must not
	// block.
	Classify(frame []byte) (bool, error)

	// Reset clears accumulated calibration state without closing the
	// session. Use this when the audio stream is interrupted or restarted.
	Reset()

	// Close releases session resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use: multiple goroutines may call NewSession simultaneously.
type Engine interface {
	// NewSession creates a session with the given configuration. The
	// session is immediately ready to accept frames. Returns an error if
	// the configuration is invalid.
	NewSession(cfg Config) (Session, error)
}
