package capture

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// readChunk is the read size of the pump loop. Small enough to keep frame
// latency below one frame at 16 kHz mono, large enough to avoid syscall
// churn.
const readChunk = 4096

// PipeSource is a Source that reads raw little-endian int16 PCM from an
// io.Reader — a file, stdin, or a recording pipe. The incoming stream may be
// in a different format than the pipeline; it is normalised (downmix,
// resample) before frame splitting.
//
// EOF on the reader ends capture cleanly. Any other read error surfaces as a
// [DeviceError].
type PipeSource struct {
	cfg Config

	// SourceFormat describes the format of the bytes the reader yields.
	// The zero value means the stream is already in the pipeline format.
	srcFormat audio.Format

	r      io.Reader
	frames chan audio.Frame

	mu      sync.Mutex
	started bool
	err     error
	cancel  context.CancelFunc
}

// NewPipeSource creates a source reading PCM from r. srcFormat declares the
// sample rate and channel count of the incoming bytes; pass the pipeline
// format when no conversion is needed.
func NewPipeSource(r io.Reader, cfg Config, srcFormat audio.Format) *PipeSource {
	if srcFormat == (audio.Format{}) {
		srcFormat = audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	}
	return &PipeSource{
		cfg:       cfg,
		srcFormat: srcFormat,
		r:         r,
		frames:    make(chan audio.Frame, 64),
	}
}

// Start begins pumping frames from the reader.
func (s *PipeSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("capture: pipe source already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.pump(ctx)
	return nil
}

// Frames returns the frame channel.
func (s *PipeSource) Frames() <-chan audio.Frame { return s.frames }

// Err returns the terminal error after the frame channel closes.
func (s *PipeSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the pump. Safe to call more than once.
func (s *PipeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *PipeSource) pump(ctx context.Context) {
	defer close(s.frames)

	conv := audio.Converter{Target: audio.Format{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}}
	split := audio.NewSplitter(s.cfg.SampleRate, s.cfg.FrameMs, s.cfg.Channels)

	// Conversion happens in whole 10 ms blocks of source audio so the
	// resampler never truncates fractional samples at read boundaries.
	// The trailing partial block is carried into the next read and flushed
	// once at EOF.
	blockBytes := s.srcFormat.SampleRate / 100 * audio.BytesPerSample * s.srcFormat.Channels
	if blockBytes <= 0 {
		blockBytes = readChunk
	}

	buf := make([]byte, readChunk)
	var carry []byte

	emit := func(pcm []byte) bool {
		for _, f := range split.Split(pcm) {
			select {
			case s.frames <- f:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := s.r.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			if whole := len(carry) / blockBytes * blockBytes; whole > 0 {
				// Split copies frame payloads, so compacting carry after
				// emit is safe even though Convert may alias it.
				if !emit(conv.Convert(carry[:whole], s.srcFormat)) {
					return
				}
				carry = append(carry[:0], carry[whole:]...)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(carry) >= audio.BytesPerSample*s.srcFormat.Channels {
					emit(conv.Convert(carry, s.srcFormat))
				}
			} else if ctx.Err() == nil {
				s.setErr(&DeviceError{Device: s.cfg.Device, Err: err})
			}
			return
		}
	}
}

func (s *PipeSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
