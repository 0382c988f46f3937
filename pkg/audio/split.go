package audio

import "time"

// Splitter converts an arbitrary stream of PCM bytes into exact fixed-size
// frames. Reads from a device rarely align with frame boundaries, so the
// splitter carries the remainder of each write into the next one. It never
// drops or reorders bytes.
//
// Create one per stream; not safe for concurrent use.
type Splitter struct {
	frameBytes int
	frameDur   time.Duration
	sampleRate int
	channels   int

	rest []byte
	seq  uint64
}

// NewSplitter creates a splitter producing frames of frameMs milliseconds at
// the given sample rate and channel count. Panics if the resulting frame
// size is not positive — that is a configuration bug, not a runtime
// condition.
func NewSplitter(sampleRate, frameMs, channels int) *Splitter {
	fb := FrameBytes(sampleRate, frameMs, channels)
	if fb <= 0 {
		panic("audio: splitter frame size must be positive")
	}
	return &Splitter{
		frameBytes: fb,
		frameDur:   time.Duration(frameMs) * time.Millisecond,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Split consumes p and returns all complete frames now available. The
// trailing partial frame, if any, is buffered until the next call. The
// returned frames own their data; p may be reused by the caller.
func (s *Splitter) Split(p []byte) []Frame {
	if len(p) == 0 {
		return nil
	}
	s.rest = append(s.rest, p...)

	n := len(s.rest) / s.frameBytes
	if n == 0 {
		return nil
	}

	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		data := make([]byte, s.frameBytes)
		copy(data, s.rest[i*s.frameBytes:(i+1)*s.frameBytes])
		frames = append(frames, Frame{
			Data:       data,
			SampleRate: s.sampleRate,
			Channels:   s.channels,
			Seq:        s.seq,
			Timestamp:  time.Duration(s.seq) * s.frameDur,
		})
		s.seq++
	}

	s.rest = append(s.rest[:0], s.rest[n*s.frameBytes:]...)
	return frames
}

// Pending returns the number of buffered bytes that have not yet formed a
// complete frame.
func (s *Splitter) Pending() int { return len(s.rest) }

// FrameBytes returns the byte length of the frames this splitter produces.
func (s *Splitter) FrameBytes() int { return s.frameBytes }
