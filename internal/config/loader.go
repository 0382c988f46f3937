package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownTranscribers lists the backend names shipped with Earshot. Used by
// [Validate] to warn about likely typos; unknown names are still allowed so
// external registrations keep working.
var KnownTranscribers = []string{"openai", "whisper"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	switch cfg.Audio.FrameMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.FrameMs))
	}
	if cfg.Audio.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; the pipeline runs mono", cfg.Audio.Channels))
	}

	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", cfg.VAD.Aggressiveness))
	}

	if cfg.Segmenter.PreRollFrames < 0 {
		errs = append(errs, fmt.Errorf("segmenter.pre_roll_frames %d must not be negative", cfg.Segmenter.PreRollFrames))
	}
	if cfg.Segmenter.SilenceMs < cfg.Audio.FrameMs {
		errs = append(errs, fmt.Errorf("segmenter.silence_ms %d is shorter than one frame (%d ms)", cfg.Segmenter.SilenceMs, cfg.Audio.FrameMs))
	}
	if cfg.Segmenter.MaxSegmentMs < cfg.Segmenter.SilenceMs {
		errs = append(errs, fmt.Errorf("segmenter.max_segment_ms %d is shorter than segmenter.silence_ms %d", cfg.Segmenter.MaxSegmentMs, cfg.Segmenter.SilenceMs))
	}

	if cfg.Transcriber.Name == "" {
		errs = append(errs, errors.New("transcriber.name is required"))
	} else if !slices.Contains(KnownTranscribers, cfg.Transcriber.Name) {
		slog.Warn("unknown transcriber name — may be a typo or an external registration",
			"name", cfg.Transcriber.Name,
			"known", KnownTranscribers,
		)
	}
	if cfg.Transcriber.Name == "whisper" && cfg.Transcriber.BaseURL == "" {
		errs = append(errs, errors.New("transcriber.base_url is required for the whisper backend"))
	}

	if cfg.Dispatch.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.queue_size %d must be positive", cfg.Dispatch.QueueSize))
	}
	if cfg.Dispatch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.workers %d must be positive", cfg.Dispatch.Workers))
	}
	if cfg.Dispatch.DrainTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.drain_timeout_s %d must be positive", cfg.Dispatch.DrainTimeoutS))
	}

	if !cfg.Output.Format.IsValid() {
		errs = append(errs, fmt.Errorf("output.format %q is invalid; valid values: text, jsonl", cfg.Output.Format))
	}

	if cfg.Topic.Enabled {
		if cfg.Topic.Provider == "" {
			errs = append(errs, errors.New("topic.provider is required when topic refinement is enabled"))
		}
		if cfg.Topic.Model == "" {
			errs = append(errs, errors.New("topic.model is required when topic refinement is enabled"))
		}
		if cfg.Topic.IntervalS <= 0 {
			errs = append(errs, fmt.Errorf("topic.interval_s %d must be positive", cfg.Topic.IntervalS))
		}
	}

	if cfg.Stream.Enabled {
		if cfg.Stream.APIKey == "" && cfg.Transcriber.APIKey == "" {
			errs = append(errs, errors.New("stream mode needs stream.api_key or transcriber.api_key"))
		}
	}

	return errors.Join(errs...)
}
