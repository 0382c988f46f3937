// Package audio defines the frame type and PCM utilities shared by every
// stage of the Earshot pipeline.
//
// Frames are the atomic unit of audio transport — produced by a capture
// source at a fixed cadence, classified by VAD, and accumulated into
// segments. All PCM in this package is 16-bit signed little-endian.
package audio

import "time"

// BytesPerSample is the sample width of all pipeline PCM (16-bit).
const BytesPerSample = 2

// Frame is a single fixed-duration slice of raw PCM audio. Frames are
// immutable once produced: no downstream stage may mutate Data.
type Frame struct {
	// Data is raw little-endian int16 PCM. Its length is exactly
	// FrameBytes(SampleRate, frame duration, Channels).
	Data []byte

	// SampleRate in Hz (e.g. 16000).
	SampleRate int

	// Channels is the channel count; the pipeline operates on mono frames.
	Channels int

	// Seq is the capture sequence index, starting at 0. A source must never
	// skip or reorder sequence numbers.
	Seq uint64

	// Timestamp is the frame's offset from capture start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM payload.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (BytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes returns the byte length of one frame of frameMs milliseconds of
// PCM at the given sample rate and channel count.
func FrameBytes(sampleRate, frameMs, channels int) int {
	return sampleRate * frameMs / 1000 * BytesPerSample * channels
}

// PCMDuration returns the play time of a raw PCM byte buffer.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (BytesPerSample * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
