// Package config provides the configuration schema, loader, and backend
// registry for the Earshot capture pipeline.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OutputFormat selects how transcription results are rendered.
type OutputFormat string

const (
	OutputText  OutputFormat = "text"
	OutputJSONL OutputFormat = "jsonl"
)

// IsValid reports whether f is a recognised output format.
func (f OutputFormat) IsValid() bool {
	return f == OutputText || f == OutputJSONL
}

// Config is the root configuration structure for Earshot. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Output      OutputConfig      `yaml:"output"`
	Topic       TopicConfig       `yaml:"topic"`
	Stream      StreamConfig      `yaml:"stream"`
}

// ServerConfig holds the metrics/health endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /metrics, /healthz and /readyz
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture device and the pipeline audio format.
type AudioConfig struct {
	// Device is the capture device identifier. Empty selects the platform
	// default.
	Device string `yaml:"device"`

	// SampleRate is the pipeline sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the analysis frame duration in milliseconds. Must be 10,
	// 20, or 30.
	FrameMs int `yaml:"frame_ms"`

	// Channels is the pipeline channel count. Speech pipelines run mono.
	Channels int `yaml:"channels"`

	// FFmpegPath overrides the ffmpeg binary used for device capture.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// VADConfig holds voice-activity-detection settings.
type VADConfig struct {
	// Engine selects the registered VAD engine. Defaults to "energy".
	Engine string `yaml:"engine"`

	// Aggressiveness selects detector strictness, 0-3.
	Aggressiveness int `yaml:"aggressiveness"`
}

// SegmenterConfig holds the utterance assembly parameters.
type SegmenterConfig struct {
	// PreRollFrames is how many idle-time frames precede each utterance.
	PreRollFrames int `yaml:"pre_roll_frames"`

	// SilenceMs is how much trailing silence ends an utterance.
	SilenceMs int `yaml:"silence_ms"`

	// MinUtteranceMs discards voiced bursts shorter than this.
	MinUtteranceMs int `yaml:"min_utterance_ms"`

	// MaxSegmentMs caps segment length; longer speech is split.
	MaxSegmentMs int `yaml:"max_segment_ms"`
}

// TranscriberConfig selects and configures the transcription backend.
type TranscriberConfig struct {
	// Name selects the registered backend (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for hosted backends.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. For the whisper
	// backend this is the whisper-server address and is required.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`

	// Language is an optional BCP-47 hint forwarded with every request.
	Language string `yaml:"language"`
}

// DispatchConfig bounds the transcription queue and worker pool.
type DispatchConfig struct {
	// QueueSize bounds the number of segments waiting for a worker.
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of concurrent transcription calls.
	Workers int `yaml:"workers"`

	// DrainTimeoutS is the shutdown grace period in seconds for queued and
	// in-flight transcriptions.
	DrainTimeoutS int `yaml:"drain_timeout_s"`
}

// OutputConfig controls where and how results are written.
type OutputConfig struct {
	// Format is "text" or "jsonl".
	Format OutputFormat `yaml:"format"`

	// Path is the output file. Empty writes to stdout.
	Path string `yaml:"path"`
}

// TopicConfig enables running-topic refinement over the transcript.
type TopicConfig struct {
	Enabled bool `yaml:"enabled"`

	// Provider is the any-llm provider id (e.g., "openai", "ollama").
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// IntervalS is the minimum number of seconds between refinements.
	IntervalS int `yaml:"interval_s"`

	// MaxRefinements caps LLM calls per run. 0 means unlimited.
	MaxRefinements int `yaml:"max_refinements"`
}

// StreamConfig enables the realtime websocket transcription mode, which
// bypasses local segmentation and lets the service endpoint the speech.
type StreamConfig struct {
	Enabled bool `yaml:"enabled"`

	// Model is the realtime transcription model.
	Model string `yaml:"model"`

	// APIKey authenticates the websocket session. Falls back to the
	// transcriber API key when empty.
	APIKey string `yaml:"api_key"`
}

// ApplyDefaults fills in zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameMs == 0 {
		c.Audio.FrameMs = 30
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.VAD.Engine == "" {
		c.VAD.Engine = "energy"
	}
	if c.Segmenter.PreRollFrames == 0 {
		c.Segmenter.PreRollFrames = 10
	}
	if c.Segmenter.SilenceMs == 0 {
		c.Segmenter.SilenceMs = 900
	}
	if c.Segmenter.MinUtteranceMs == 0 {
		c.Segmenter.MinUtteranceMs = 300
	}
	if c.Segmenter.MaxSegmentMs == 0 {
		c.Segmenter.MaxSegmentMs = 5000
	}
	if c.Transcriber.Name == "" {
		c.Transcriber.Name = "openai"
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 8
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 2
	}
	if c.Dispatch.DrainTimeoutS == 0 {
		c.Dispatch.DrainTimeoutS = 30
	}
	if c.Output.Format == "" {
		c.Output.Format = OutputText
	}
	if c.Topic.IntervalS == 0 {
		c.Topic.IntervalS = 30
	}
}
