// Package capture defines the frame source boundary of the Earshot pipeline.
//
// A Source owns a physical (or simulated) audio input for the lifetime of a
// capture run and delivers fixed-duration PCM frames over a channel, in
// order and without gaps. Device failures are fatal to the pipeline: there
// is no frame-level retry, because a device that cannot be read is not a
// transient condition at this layer.
//
// Implementations are provided by backend packages (capture/ffmpeg for real
// devices, capture/mock for tests). A Source is not safe for concurrent
// Start calls; the frame channel may be consumed by exactly one reader.
package capture

import (
	"context"
	"fmt"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Config describes the frame format a source must deliver.
type Config struct {
	// Device is the backend-specific input device identifier. Empty selects
	// the platform default.
	Device string

	// SampleRate is the pipeline sample rate in Hz.
	SampleRate int

	// FrameMs is the frame duration in milliseconds.
	FrameMs int

	// Channels is the channel count delivered to the pipeline (1 for mono).
	Channels int
}

// FrameBytes returns the exact byte length of each frame this configuration
// produces.
func (c Config) FrameBytes() int {
	return audio.FrameBytes(c.SampleRate, c.FrameMs, c.Channels)
}

// Source produces a continuous sequence of frames from an audio input.
//
// The frame channel is closed when the context given to Start is cancelled
// or when the device fails; after the channel closes, Err reports the
// outcome (nil for a clean stop, a [DeviceError] otherwise).
type Source interface {
	// Start acquires the device and begins delivering frames. It returns
	// once capture is running; delivery continues until ctx is cancelled or
	// the device fails. Starting an already-started source is an error.
	Start(ctx context.Context) error

	// Frames returns the channel on which captured frames arrive. Frames
	// carry monotonically increasing sequence numbers starting at 0.
	Frames() <-chan audio.Frame

	// Err returns the terminal error after the frame channel has closed.
	// A nil result means capture stopped because the context was cancelled.
	Err() error

	// Close releases the device. Safe to call more than once.
	Close() error
}

// DeviceError indicates the audio input device could not be opened or
// failed mid-stream. It is fatal to the pipeline.
type DeviceError struct {
	// Device is the identifier of the failed device.
	Device string

	// Err is the underlying cause.
	Err error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("capture: device error: %v", e.Err)
	}
	return fmt.Sprintf("capture: device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Device describes an enumerable audio input device.
type Device struct {
	// ID is the backend-specific identifier to pass as [Config.Device].
	ID string

	// Name is the human-readable device name.
	Name string

	// Default reports whether the backend considers this the default input.
	Default bool
}
