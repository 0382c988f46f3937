// Package ffmpeg provides a capture.Source backed by the ffmpeg binary.
//
// It spawns ffmpeg reading the platform's capture backend (ALSA on Linux,
// AVFoundation on macOS) and emitting raw s16le PCM on stdout at the
// pipeline's sample rate and channel count, so no in-process resampling is
// needed. This keeps the module free of cgo audio bindings at the cost of an
// external binary, which is already a requirement of most deployments.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/capture"
)

// Compile-time assertion that Source implements capture.Source.
var _ capture.Source = (*Source)(nil)

// Source captures PCM frames from an input device via an ffmpeg subprocess.
type Source struct {
	cfg    capture.Config
	binary string

	frames chan audio.Frame

	mu      sync.Mutex
	started bool
	err     error
	cancel  context.CancelFunc
	wait    func() error
}

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithBinary overrides the ffmpeg executable path. Defaults to "ffmpeg"
// resolved via PATH.
func WithBinary(path string) Option {
	return func(s *Source) { s.binary = path }
}

// New creates an ffmpeg-backed capture source for the given frame format.
func New(cfg capture.Config, opts ...Option) *Source {
	s := &Source{
		cfg:    cfg,
		binary: "ffmpeg",
		frames: make(chan audio.Frame, 64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches ffmpeg and begins delivering frames. Opening the device
// exclusively belongs to the subprocess; a failure to spawn surfaces as a
// [capture.DeviceError] immediately, a mid-stream exit surfaces via Err
// after the frame channel closes.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("ffmpeg: source already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.binary, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return &capture.DeviceError{Device: s.cfg.Device, Err: err}
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return &capture.DeviceError{Device: s.cfg.Device, Err: err}
	}

	s.started = true
	s.cancel = cancel
	s.wait = cmd.Wait
	go s.pump(ctx, stdout, &stderr)
	return nil
}

// Frames returns the frame channel.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Err returns the terminal error after the frame channel closes. Context
// cancellation is a clean stop and reports nil.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the ffmpeg subprocess and releases the device. Safe to
// call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// args builds the ffmpeg command line for the configured device and format.
func (s *Source) args() []string {
	device := s.cfg.Device
	var in []string
	switch runtime.GOOS {
	case "darwin":
		if device == "" {
			device = ":default"
		}
		in = []string{"-f", "avfoundation", "-i", device}
	default:
		if device == "" {
			device = "default"
		}
		in = []string{"-f", "alsa", "-i", device}
	}

	args := append([]string{"-loglevel", "error", "-nostdin"}, in...)
	return append(args,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-ac", strconv.Itoa(s.cfg.Channels),
		"pipe:1",
	)
}

// pump reads stdout until EOF, splitting the byte stream into frames.
func (s *Source) pump(ctx context.Context, stdout io.Reader, stderr *strings.Builder) {
	defer close(s.frames)

	split := audio.NewSplitter(s.cfg.SampleRate, s.cfg.FrameMs, s.cfg.Channels)
	r := bufio.NewReaderSize(stdout, 4*split.FrameBytes())
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, f := range split.Split(buf[:n]) {
				select {
				case s.frames <- f:
				case <-ctx.Done():
					s.finish(ctx, stderr, nil)
					return
				}
			}
		}
		if err != nil {
			s.finish(ctx, stderr, err)
			return
		}
	}
}

// finish reaps the subprocess and records the terminal error. A device that
// stops producing audio mid-run is fatal; cancellation is a clean stop.
func (s *Source) finish(ctx context.Context, stderr *strings.Builder, readErr error) {
	waitErr := s.wait()

	if ctx.Err() != nil {
		return // cancelled by the caller; device released, no error
	}

	err := waitErr
	if err == nil {
		err = readErr
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = errors.New("capture stream ended unexpectedly")
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}

	s.mu.Lock()
	s.err = &capture.DeviceError{Device: s.cfg.Device, Err: err}
	s.mu.Unlock()
}

// ListDevices enumerates capture devices by asking the platform backend.
// On Linux it parses `arecord -l`-style ALSA hints via ffmpeg's device
// listing; on macOS it parses AVFoundation's device dump. Both paths write
// the listing to stderr with a non-zero exit, which is expected.
func ListDevices(ctx context.Context, binary string) ([]capture.Device, error) {
	if binary == "" {
		binary = "ffmpeg"
	}

	var args []string
	switch runtime.GOOS {
	case "darwin":
		args = []string{"-f", "avfoundation", "-list_devices", "true", "-i", ""}
	default:
		args = []string{"-sources", "alsa"}
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.CombinedOutput()
	if len(out) == 0 && err != nil {
		return nil, fmt.Errorf("ffmpeg: list devices: %w", err)
	}

	return parseDeviceList(string(out)), nil
}

// parseDeviceList extracts device entries from ffmpeg's listing output.
// The formats differ per backend, so this parser is deliberately loose: it
// keeps lines that look like "id [description]" or AVFoundation's
// "[index] name" audio section entries.
func parseDeviceList(out string) []capture.Device {
	var devices []capture.Device
	inAudioSection := runtime.GOOS != "darwin"

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, "AVFoundation audio devices") {
			inAudioSection = true
			continue
		}
		if strings.Contains(line, "AVFoundation video devices") {
			inAudioSection = false
			continue
		}
		if !inAudioSection {
			continue
		}

		switch {
		case strings.HasPrefix(line, "[") || !strings.Contains(line, " "):
			// AVFoundation: "[AVFoundation ...] [0] MacBook Pro Microphone"
			if i := strings.LastIndex(line, "] "); i >= 0 {
				idStart := strings.LastIndex(line[:i], "[")
				if idStart >= 0 {
					devices = append(devices, capture.Device{
						ID:   line[idStart+1 : i],
						Name: strings.TrimSpace(line[i+2:]),
					})
					continue
				}
			}
			devices = append(devices, capture.Device{ID: line, Name: line})
		default:
			// ALSA sources: "default  Default ALSA Output" style lines.
			fields := strings.Fields(line)
			d := capture.Device{
				ID:      fields[0],
				Name:    strings.Join(fields[1:], " "),
				Default: strings.Contains(line, "[default]") || fields[0] == "default",
			}
			devices = append(devices, d)
		}
	}
	return devices
}
