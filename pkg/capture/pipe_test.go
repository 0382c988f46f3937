package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

func collect(t *testing.T, src Source, max int) []audio.Frame {
	t.Helper()
	var frames []audio.Frame
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-src.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, f)
			if max > 0 && len(frames) >= max {
				return frames
			}
		case <-timeout:
			t.Fatal("timed out waiting for frames")
		}
	}
}

func TestPipeSource_SplitsStreamIntoFrames(t *testing.T) {
	cfg := Config{SampleRate: 16000, FrameMs: 30, Channels: 1}
	pcm := make([]byte, 960*5) // 5 frames
	src := NewPipeSource(bytes.NewReader(pcm), cfg, audio.Format{})

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	frames := collect(t, src, 0)
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i) {
			t.Errorf("frame %d: seq %d", i, f.Seq)
		}
		if len(f.Data) != 960 {
			t.Errorf("frame %d: %d bytes, want 960", i, len(f.Data))
		}
	}
	if err := src.Err(); err != nil {
		t.Errorf("Err() = %v after clean EOF, want nil", err)
	}
}

func TestPipeSource_NormalisesSourceFormat(t *testing.T) {
	cfg := Config{SampleRate: 16000, FrameMs: 30, Channels: 1}
	// 48 kHz stereo input: 90 ms = 4320 stereo frames = 17280 bytes,
	// normalising to 3 mono 30 ms pipeline frames.
	pcm := make([]byte, 4320*4)
	src := NewPipeSource(bytes.NewReader(pcm), cfg, audio.Format{SampleRate: 48000, Channels: 2})

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	frames := collect(t, src, 0)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		n := min(r.n, len(p))
		r.n -= n
		return n, nil
	}
	return 0, errors.New("device unplugged")
}

func TestPipeSource_ReadErrorIsDeviceError(t *testing.T) {
	cfg := Config{Device: "mic0", SampleRate: 16000, FrameMs: 30, Channels: 1}
	src := NewPipeSource(&failingReader{n: 960}, cfg, audio.Format{})

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	collect(t, src, 0)

	var devErr *DeviceError
	if !errors.As(src.Err(), &devErr) {
		t.Fatalf("Err() = %v, want *DeviceError", src.Err())
	}
	if devErr.Device != "mic0" {
		t.Errorf("device = %q, want mic0", devErr.Device)
	}
}

func TestPipeSource_DoubleStartFails(t *testing.T) {
	src := NewPipeSource(bytes.NewReader(nil), Config{SampleRate: 16000, FrameMs: 30, Channels: 1}, audio.Format{})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := src.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestPipeSource_CloseStopsPump(t *testing.T) {
	pr, pw := io.Pipe()
	cfg := Config{SampleRate: 16000, FrameMs: 30, Channels: 1}
	src := NewPipeSource(pr, cfg, audio.Format{})

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go pw.Write(make([]byte, 960))
	<-src.Frames()

	src.Close()
	pw.CloseWithError(io.EOF)

	select {
	case _, ok := <-src.Frames():
		if ok {
			// A buffered frame may still arrive; the channel must close after.
			<-src.Frames()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel did not close after Close")
	}
}
