package segment

import (
	"bytes"
	"testing"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

func testConfig() Config {
	return Config{
		SampleRate:     16000,
		Channels:       1,
		FrameMs:        30,
		PreRollFrames:  10,
		SilenceMs:      900,
		MinUtteranceMs: 300,
		MaxSegmentMs:   5000,
	}
}

// feeder pushes synthetic frames with monotonic sequence numbers and
// timestamps, collecting whatever the assembler emits.
type feeder struct {
	t *testing.T
	a *Assembler

	frameBytes int
	frameDur   time.Duration
	next       uint64

	segments []Segment
}

func newFeeder(t *testing.T) *feeder {
	t.Helper()
	cfg := testConfig()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &feeder{
		t:          t,
		a:          a,
		frameBytes: audio.FrameBytes(cfg.SampleRate, cfg.FrameMs, cfg.Channels),
		frameDur:   time.Duration(cfg.FrameMs) * time.Millisecond,
	}
}

// push feeds n frames with the given label, filling every sample byte with
// fill so tests can check which audio ended up in a segment.
func (f *feeder) push(n int, voiced bool, fill byte) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		data := bytes.Repeat([]byte{fill}, f.frameBytes)
		frame := audio.Frame{
			Data:       data,
			SampleRate: 16000,
			Channels:   1,
			Seq:        f.next,
			Timestamp:  time.Duration(f.next) * f.frameDur,
		}
		f.next++
		if seg, ok := f.a.Push(frame, voiced); ok {
			f.segments = append(f.segments, seg)
		}
	}
}

func (f *feeder) flush() {
	f.t.Helper()
	if seg, ok := f.a.Flush(); ok {
		f.segments = append(f.segments, seg)
	}
}

func (f *feeder) wantSegments(n int) []Segment {
	f.t.Helper()
	if len(f.segments) != n {
		f.t.Fatalf("got %d segments, want %d", len(f.segments), n)
	}
	return f.segments
}

func wantDuration(t *testing.T, seg Segment, want time.Duration) {
	t.Helper()
	if seg.Duration() != want {
		t.Errorf("segment duration = %v, want %v", seg.Duration(), want)
	}
}

func TestSilenceOnly_NoSegment(t *testing.T) {
	f := newFeeder(t)
	f.push(100, false, 0) // 3s of room tone
	f.flush()
	f.wantSegments(0)
}

func TestBasicUtterance(t *testing.T) {
	f := newFeeder(t)
	f.push(10, false, 'a') // 0.3s leading silence
	f.push(67, true, 'b')  // ~2s of speech
	f.push(40, false, 'c') // 1.2s trailing silence

	seg := f.wantSegments(1)[0]
	if seg.Seq != 0 {
		t.Errorf("Seq = %d, want 0", seg.Seq)
	}
	// 10 lead-in frames plus 67 voiced frames; the trailing silence is
	// trimmed off.
	wantDuration(t, seg, 77*30*time.Millisecond)
	if seg.Start != 0 {
		t.Errorf("Start = %v, want 0", seg.Start)
	}
	frameBytes := f.frameBytes
	if !bytes.Equal(seg.PCM[:frameBytes], bytes.Repeat([]byte{'a'}, frameBytes)) {
		t.Error("segment does not begin with the lead-in audio")
	}
	if !bytes.Equal(seg.PCM[len(seg.PCM)-frameBytes:], bytes.Repeat([]byte{'b'}, frameBytes)) {
		t.Error("segment does not end with the last voiced frame")
	}
}

func TestPreRoll_BoundedLeadIn(t *testing.T) {
	f := newFeeder(t)
	f.push(40, false, 'a') // far more idle audio than the pre-roll keeps
	f.push(20, true, 'b')
	f.push(30, false, 'c')

	seg := f.wantSegments(1)[0]
	wantDuration(t, seg, 30*30*time.Millisecond) // 10 lead-in + 20 voiced
	// Lead-in starts at frame 30 of 40, i.e. 900ms in.
	if want := 900 * time.Millisecond; seg.Start != want {
		t.Errorf("Start = %v, want %v", seg.Start, want)
	}
}

func TestShortBurst_Discarded(t *testing.T) {
	f := newFeeder(t)
	f.push(10, false, 'a')
	f.push(5, true, 'b') // 150ms, below the 300ms minimum
	f.push(40, false, 'c')
	f.wantSegments(0)

	// The next real utterance still gets sequence number 0.
	f.push(20, true, 'd')
	f.push(30, false, 'e')
	seg := f.wantSegments(1)[0]
	if seg.Seq != 0 {
		t.Errorf("Seq = %d, want 0 (discards must not consume sequence numbers)", seg.Seq)
	}
}

func TestMidUtterancePause_StaysInOneSegment(t *testing.T) {
	f := newFeeder(t)
	f.push(20, true, 'a')
	f.push(20, false, 'b') // 600ms pause, below the 900ms silence window
	f.push(20, true, 'c')
	f.push(30, false, 'd')

	seg := f.wantSegments(1)[0]
	// Both speech runs and the pause between them, trailing silence trimmed.
	wantDuration(t, seg, 60*30*time.Millisecond)
}

func TestMaxSegment_LongSpeechIsCut(t *testing.T) {
	f := newFeeder(t)
	f.push(400, true, 'a') // 12s of continuous speech
	f.push(30, false, 'b')

	segs := f.wantSegments(3)
	// 5000ms rounds up to 167 frames per cut.
	wantDuration(t, segs[0], 167*30*time.Millisecond)
	wantDuration(t, segs[1], 167*30*time.Millisecond)
	wantDuration(t, segs[2], 66*30*time.Millisecond)
	for i, seg := range segs {
		if seg.Seq != uint64(i) {
			t.Errorf("segment %d: Seq = %d", i, seg.Seq)
		}
	}
	// Cut segments are gapless.
	if segs[1].Start != segs[0].End() {
		t.Errorf("segment 1 starts at %v, previous ends at %v", segs[1].Start, segs[0].End())
	}
}

func TestSilenceAfterCut_Discarded(t *testing.T) {
	f := newFeeder(t)
	f.push(167, true, 'a') // exactly one cut
	f.wantSegments(1)

	// The assembler is still active, but everything after the cut is
	// silence: no second segment may appear.
	f.push(100, false, 'b')
	f.wantSegments(1)

	// It is back to idle and a fresh utterance works normally.
	f.push(20, true, 'c')
	f.push(30, false, 'd')
	segs := f.wantSegments(2)
	if segs[1].Seq != 1 {
		t.Errorf("Seq = %d, want 1", segs[1].Seq)
	}
}

func TestCutDuringPause_SilenceWindowRestarts(t *testing.T) {
	f := newFeeder(t)
	f.push(165, true, 'a')
	f.push(2, false, 'b') // the cut lands two frames into a pause
	f.wantSegments(1)

	// The silence window counts from the cut, not from the pause onset: 29
	// more unvoiced frames keep the assembler active, so resumed speech
	// continues the utterance instead of starting a fresh one.
	f.push(29, false, 'c')
	f.push(20, true, 'd')
	f.push(30, false, 'e')

	segs := f.wantSegments(2)
	wantDuration(t, segs[1], 49*30*time.Millisecond)
	if segs[1].Start != segs[0].End() {
		t.Errorf("segment 1 starts at %v, previous ends at %v", segs[1].Start, segs[0].End())
	}
}

func TestFlush_EmitsInProgressUtterance(t *testing.T) {
	f := newFeeder(t)
	f.push(10, false, 'a')
	f.push(20, true, 'b')
	f.flush()

	seg := f.wantSegments(1)[0]
	wantDuration(t, seg, 30*30*time.Millisecond)

	// Flush is idempotent once idle.
	if _, ok := f.a.Flush(); ok {
		t.Error("second Flush returned a segment")
	}
}

func TestFlush_TrimsTrailingSilence(t *testing.T) {
	f := newFeeder(t)
	f.push(20, true, 'a')
	f.push(10, false, 'b') // not yet enough silence to finalise
	f.flush()

	seg := f.wantSegments(1)[0]
	wantDuration(t, seg, 20*30*time.Millisecond)
}

func TestPush_WrongFrameLengthPanics(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for malformed frame")
		}
	}()
	a.Push(audio.Frame{Data: make([]byte, 100)}, true)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"zero frame", func(c *Config) { c.FrameMs = 0 }},
		{"negative pre-roll", func(c *Config) { c.PreRollFrames = -1 }},
		{"silence below one frame", func(c *Config) { c.SilenceMs = 10 }},
		{"negative min utterance", func(c *Config) { c.MinUtteranceMs = -1 }},
		{"max below silence", func(c *Config) { c.MaxSegmentMs = 500 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Errorf("expected error for %+v", cfg)
			}
		})
	}
}
