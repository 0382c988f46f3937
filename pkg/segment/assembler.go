package segment

import (
	"fmt"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Assembler accumulates labelled frames into segments. It is not safe for
// concurrent use; the capture loop is its only caller.
type Assembler struct {
	cfg        Config
	frameBytes int

	// Frame counts derived from the millisecond config, rounded up so the
	// configured durations are lower bounds.
	silenceFrames int
	minVoiced     int
	maxFrames     int

	// ring holds the most recent idle-time frames, oldest first.
	ring []audio.Frame

	active bool
	buf    []audio.Frame

	// silenceRun counts consecutive unvoiced frames, voicedCount the voiced
	// frames in the current buffer. hadSpeech distinguishes a buffer that
	// follows a max-length cut but contains only silence.
	silenceRun  int
	voicedCount int
	hadSpeech   bool

	nextSeq   uint64
	discarded uint64
}

// New creates an assembler. Returns an error if cfg is invalid.
func New(cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ceil := func(ms int) int { return (ms + cfg.FrameMs - 1) / cfg.FrameMs }
	return &Assembler{
		cfg:           cfg,
		frameBytes:    audio.FrameBytes(cfg.SampleRate, cfg.FrameMs, cfg.Channels),
		silenceFrames: ceil(cfg.SilenceMs),
		minVoiced:     ceil(cfg.MinUtteranceMs),
		maxFrames:     ceil(cfg.MaxSegmentMs),
	}, nil
}

// Push feeds one labelled frame into the state machine. It returns a segment
// and true when the frame completed one; at most one segment results per
// frame. Push panics if the frame payload does not match the configured
// frame size, since that indicates a bug in the upstream splitter rather
// than a runtime condition.
func (a *Assembler) Push(f audio.Frame, voiced bool) (Segment, bool) {
	if len(f.Data) != a.frameBytes {
		panic(fmt.Sprintf("segment: frame is %d bytes, assembler expects %d", len(f.Data), a.frameBytes))
	}

	if !a.active {
		if !voiced {
			a.ring = append(a.ring, f)
			if len(a.ring) > a.cfg.PreRollFrames {
				a.ring = a.ring[1:]
			}
			return Segment{}, false
		}
		// Speech onset: the ring becomes the segment lead-in.
		a.active = true
		a.buf = append(a.buf[:0], a.ring...)
		a.ring = a.ring[:0]
		a.silenceRun = 0
		a.voicedCount = 0
		a.hadSpeech = false
	}

	a.buf = append(a.buf, f)
	if voiced {
		a.silenceRun = 0
		a.voicedCount++
		a.hadSpeech = true
	} else {
		a.silenceRun++
	}

	if a.silenceRun >= a.silenceFrames {
		return a.endUtterance()
	}
	if len(a.buf) >= a.maxFrames {
		return a.cutSegment()
	}
	return Segment{}, false
}

// Flush finalises whatever the assembler currently buffers. Call it on
// shutdown so an in-progress utterance is not lost. The assembler returns
// to idle afterwards.
func (a *Assembler) Flush() (Segment, bool) {
	if !a.active {
		return Segment{}, false
	}
	a.active = false
	seg, ok := a.emit(a.trimmed())
	a.buf = a.buf[:0]
	return seg, ok
}

// endUtterance closes the segment on sustained silence. The trailing
// silence run is trimmed off and the machine returns to idle; the trimmed
// frames are not replayed into the ring, so back-to-back utterances get at
// most PreRollFrames of fresh lead-in.
func (a *Assembler) endUtterance() (Segment, bool) {
	a.active = false
	seg, ok := a.emit(a.trimmed())
	a.buf = a.buf[:0]
	return seg, ok
}

// cutSegment emits the full buffer at the length cap and stays active so
// the rest of the utterance continues into the next segment. The silence
// run restarts with the new buffer: silence spanning the cut belongs to the
// emitted segment and must not shorten the next one.
func (a *Assembler) cutSegment() (Segment, bool) {
	seg, ok := a.emit(a.buf)
	a.buf = a.buf[:0]
	a.silenceRun = 0
	a.voicedCount = 0
	a.hadSpeech = false
	return seg, ok
}

// Discarded returns how many buffers were thrown away for carrying no
// usable speech.
func (a *Assembler) Discarded() uint64 { return a.discarded }

// trimmed returns the buffer with the current trailing silence run removed.
func (a *Assembler) trimmed() []audio.Frame {
	n := len(a.buf) - a.silenceRun
	if n < 0 {
		n = 0
	}
	return a.buf[:n]
}

// emit builds a Segment from frames, or discards them when they carry no
// usable speech: nothing voiced since the last cut, or less voiced content
// than the minimum utterance length. Discarded audio does not consume a
// sequence number.
func (a *Assembler) emit(frames []audio.Frame) (Segment, bool) {
	if len(frames) == 0 || !a.hadSpeech || a.voicedCount < a.minVoiced {
		if len(frames) > 0 {
			a.discarded++
		}
		return Segment{}, false
	}
	pcm := make([]byte, 0, len(frames)*a.frameBytes)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	seg := Segment{
		Seq:        a.nextSeq,
		PCM:        pcm,
		Start:      frames[0].Timestamp,
		SampleRate: a.cfg.SampleRate,
		Channels:   a.cfg.Channels,
	}
	a.nextSeq++
	return seg, true
}
