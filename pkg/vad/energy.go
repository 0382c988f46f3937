package vad

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Energy thresholds per aggressiveness level, in 16-bit PCM units. The
// maximum possible RMS for 16-bit audio is 32 767; 300 corresponds to
// near-silence on a typical microphone.
var (
	baseThresholds = [MaxAggressiveness + 1]float64{200, 300, 450, 650}

	// floorMultipliers scale the adaptive noise floor: a frame must be this
	// many times louder than the ambient estimate to count as speech.
	floorMultipliers = [MaxAggressiveness + 1]float64{1.6, 2.0, 2.6, 3.4}
)

// floorCreep is the per-frame upward drift of the minimum-statistics noise
// floor, letting the estimate recover when the ambient level rises. About
// 27% per second at 30 ms frames.
const floorCreep = 0.008

// Compile-time assertion that EnergyEngine implements Engine.
var _ Engine = (*EnergyEngine)(nil)

// EnergyEngine is a VAD backend that classifies frames by root-mean-square
// energy against an adaptive noise floor. It has no model weights and no
// external dependencies, which makes it the default engine; it is less
// robust than a trained detector in noisy environments.
type EnergyEngine struct{}

// NewEnergyEngine creates the energy-based VAD engine.
func NewEnergyEngine() *EnergyEngine { return &EnergyEngine{} }

// NewSession creates an energy VAD session.
func (e *EnergyEngine) NewSession(cfg Config) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &energySession{
		frameBytes: cfg.SampleRate * cfg.FrameMs / 1000 * 2,
		base:       baseThresholds[cfg.Aggressiveness],
		multiplier: floorMultipliers[cfg.Aggressiveness],
	}, nil
}

// energySession holds the rolling calibration for one stream. Not safe for
// concurrent use; the capture loop is its only caller.
type energySession struct {
	frameBytes int
	base       float64
	multiplier float64

	// noiseFloor tracks the minimum frame RMS seen so far, drifting upward
	// by floorCreep per frame so it can follow a rising ambient level.
	noiseFloor float64
	seeded     bool
	closed     bool
}

// Classify labels the frame by comparing its RMS energy to the speech
// threshold: the configured base level or the adaptive noise floor scaled
// by the aggressiveness multiplier, whichever is higher.
func (s *energySession) Classify(frame []byte) (bool, error) {
	if s.closed {
		return false, fmt.Errorf("vad: session is closed")
	}
	if len(frame) != s.frameBytes {
		return false, fmt.Errorf("vad: frame is %d bytes, session expects %d", len(frame), s.frameBytes)
	}

	rms := RMS(frame)

	threshold := s.base
	if s.seeded {
		if adaptive := s.noiseFloor * s.multiplier; adaptive > threshold {
			threshold = adaptive
		}
	}
	voiced := rms > threshold

	// Minimum-statistics floor tracking: speech bursts cannot drag the
	// estimate up, only the slow creep can.
	if !s.seeded {
		s.noiseFloor = rms
		s.seeded = true
	} else {
		s.noiseFloor = math.Min(rms, s.noiseFloor*(1+floorCreep))
	}
	return voiced, nil
}

// Reset clears the noise-floor estimate.
func (s *energySession) Reset() {
	s.noiseFloor = 0
	s.seeded = false
}

// Close marks the session closed. Subsequent Classify calls return errors.
func (s *energySession) Close() error {
	s.closed = true
	return nil
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, in the same units as PCM sample values (0–32 767). Returns 0
// for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
