// Package segment turns a stream of VAD-labelled audio frames into discrete
// utterance segments.
//
// The Assembler is a two-state machine. While idle it keeps a short ring of
// recent frames; the first voiced frame flips it to active and the ring
// becomes the segment's lead-in, so soft utterance onsets are not clipped.
// While active every frame is buffered. A sustained run of unvoiced frames
// ends the utterance: the trailing silence is trimmed and the segment is
// emitted. Segments that accumulate too much audio are cut and emitted
// early so downstream transcription latency stays bounded.
package segment

import (
	"fmt"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Segment is one finalised utterance.
type Segment struct {
	// Seq is the finalisation order, starting at 0. Only emitted segments
	// consume a sequence number; discarded audio does not.
	Seq uint64

	// PCM is the raw little-endian int16 audio, including the idle-time
	// lead-in frames that preceded the first voiced frame.
	PCM []byte

	// Start is the capture timestamp of the segment's first frame.
	Start time.Duration

	SampleRate int
	Channels   int
}

// Duration returns the audio length of the segment.
func (s Segment) Duration() time.Duration {
	return audio.PCMDuration(len(s.PCM), s.SampleRate, s.Channels)
}

// End returns the capture timestamp just past the segment's last sample.
func (s Segment) End() time.Duration { return s.Start + s.Duration() }

// Config holds the assembler parameters.
type Config struct {
	// SampleRate and Channels describe the incoming frames and are stamped
	// onto emitted segments.
	SampleRate int
	Channels   int

	// FrameMs is the duration of each frame in milliseconds. Push panics if
	// a frame's payload does not match.
	FrameMs int

	// PreRollFrames is how many idle-time frames are kept as utterance
	// lead-in.
	PreRollFrames int

	// SilenceMs is how much trailing silence ends an utterance.
	SilenceMs int

	// MinUtteranceMs is the minimum voiced content a segment must carry.
	// Shorter bursts are discarded as noise.
	MinUtteranceMs int

	// MaxSegmentMs caps the buffered audio per segment. When reached the
	// segment is emitted immediately and the assembler stays active, so a
	// long monologue arrives as a series of capped segments.
	MaxSegmentMs int
}

// Validate reports whether cfg is usable.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("segment: sample rate %d is invalid", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("segment: channel count %d is invalid", c.Channels)
	}
	if c.FrameMs <= 0 {
		return fmt.Errorf("segment: frame duration %dms is invalid", c.FrameMs)
	}
	if c.PreRollFrames < 0 {
		return fmt.Errorf("segment: pre-roll %d is invalid", c.PreRollFrames)
	}
	if c.SilenceMs < c.FrameMs {
		return fmt.Errorf("segment: silence window %dms is shorter than one frame", c.SilenceMs)
	}
	if c.MinUtteranceMs < 0 {
		return fmt.Errorf("segment: min utterance %dms is invalid", c.MinUtteranceMs)
	}
	if c.MaxSegmentMs < c.SilenceMs {
		return fmt.Errorf("segment: max segment %dms is shorter than the silence window %dms", c.MaxSegmentMs, c.SilenceMs)
	}
	return nil
}
