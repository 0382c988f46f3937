// Command earshot captures live audio, segments it into utterances, and
// forwards transcriptions to a text or JSONL sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/dispatch"
	"github.com/earshot-audio/earshot/internal/health"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/pipeline"
	"github.com/earshot-audio/earshot/internal/sink"
	"github.com/earshot-audio/earshot/internal/stream"
	"github.com/earshot-audio/earshot/internal/topic"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/capture"
	"github.com/earshot-audio/earshot/pkg/capture/ffmpeg"
	"github.com/earshot-audio/earshot/pkg/segment"
	"github.com/earshot-audio/earshot/pkg/transcribe"
	"github.com/earshot-audio/earshot/pkg/transcribe/openai"
	"github.com/earshot-audio/earshot/pkg/transcribe/whisper"
	"github.com/earshot-audio/earshot/pkg/vad"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	device := flag.String("device", "", "capture device override (use \"-\" to read PCM from stdin)")
	topicFlag := flag.Bool("topic", false, "enable conversation topic tracking")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	streamFlag := flag.Bool("stream", false, "use the realtime websocket transcription mode")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && *listDevices:
		// Device listing works without a config file.
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		return 1
	default:
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return 1
	}

	if *device != "" {
		cfg.Audio.Device = *device
	}
	if *topicFlag {
		cfg.Topic.Enabled = true
	}
	if *streamFlag {
		cfg.Stream.Enabled = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *listDevices {
		return printDevices(ctx, cfg.Audio.FFmpegPath)
	}

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"device", deviceLabel(cfg.Audio.Device),
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── HTTP endpoint (metrics + health) ──────────────────────────────────────
	var ready atomic.Bool
	if cfg.Server.ListenAddr != "" {
		checkers := []health.Checker{{
			Name: "pipeline",
			Check: func(context.Context) error {
				if !ready.Load() {
					return errors.New("pipeline not running")
				}
				return nil
			},
		}}
		if cfg.Transcriber.Name == "whisper" && cfg.Transcriber.BaseURL != "" {
			checkers = append(checkers, health.Probe("transcriber", cfg.Transcriber.BaseURL))
		}

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(checkers...).Register(mux)

		srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// ── Output sink ───────────────────────────────────────────────────────────
	out := os.Stdout
	if cfg.Output.Path != "" {
		f, err := os.OpenFile(cfg.Output.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("open output file", "path", cfg.Output.Path, "err", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	var results sink.Sink
	switch cfg.Output.Format {
	case config.OutputJSONL:
		results = sink.NewJSONLines(out)
	default:
		results = sink.NewText(out)
	}

	var tracker *topic.Tracker
	if cfg.Topic.Enabled {
		tracker, err = buildTopicTracker(cfg)
		if err != nil {
			slog.Error("topic tracker setup failed", "err", err)
			return 1
		}
		defer tracker.Close()
		results = sink.Tee(results, tracker)
	}

	// ── Capture source ────────────────────────────────────────────────────────
	capCfg := capture.Config{
		Device:     cfg.Audio.Device,
		SampleRate: cfg.Audio.SampleRate,
		FrameMs:    cfg.Audio.FrameMs,
		Channels:   cfg.Audio.Channels,
	}
	var src capture.Source
	if cfg.Audio.Device == "-" {
		src = capture.NewPipeSource(os.Stdin, capCfg, audio.Format{})
	} else {
		var opts []ffmpeg.Option
		if cfg.Audio.FFmpegPath != "" {
			opts = append(opts, ffmpeg.WithBinary(cfg.Audio.FFmpegPath))
		}
		src = ffmpeg.New(capCfg, opts...)
	}

	printStartupSummary(cfg)

	// ── Realtime mode ─────────────────────────────────────────────────────────
	if cfg.Stream.Enabled {
		apiKey := cfg.Stream.APIKey
		if apiKey == "" {
			apiKey = cfg.Transcriber.APIKey
		}
		streamer, err := stream.New(results, stream.Config{
			APIKey:   apiKey,
			Model:    cfg.Stream.Model,
			Language: cfg.Transcriber.Language,
			// Mirror the local segmenter tunables in the server-side VAD.
			Threshold:         0.3 + 0.1*float64(cfg.VAD.Aggressiveness),
			PrefixPaddingMs:   cfg.Segmenter.PreRollFrames * cfg.Audio.FrameMs,
			SilenceDurationMs: cfg.Segmenter.SilenceMs,
		}, stream.WithMetrics(metrics))
		if err != nil {
			slog.Error("realtime setup failed", "err", err)
			return 1
		}

		ready.Store(true)
		slog.Info("realtime transcription running — press Ctrl+C to stop")
		if err := streamer.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("realtime run error", "err", err)
			return 1
		}
		slog.Info("goodbye")
		return 0
	}

	// ── Segmentation pipeline ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	tr, err := reg.CreateTranscriber(cfg.Transcriber)
	if err != nil {
		slog.Error("transcriber setup failed", "name", cfg.Transcriber.Name, "err", err)
		return 1
	}
	engine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		slog.Error("vad setup failed", "engine", cfg.VAD.Engine, "err", err)
		return 1
	}

	asm, err := segment.New(segment.Config{
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		FrameMs:        cfg.Audio.FrameMs,
		PreRollFrames:  cfg.Segmenter.PreRollFrames,
		SilenceMs:      cfg.Segmenter.SilenceMs,
		MinUtteranceMs: cfg.Segmenter.MinUtteranceMs,
		MaxSegmentMs:   cfg.Segmenter.MaxSegmentMs,
	})
	if err != nil {
		slog.Error("segmenter setup failed", "err", err)
		return 1
	}

	dispOpts := []dispatch.Option{dispatch.WithMetrics(metrics)}
	if tracker != nil {
		// The running topic estimate biases recognition of later segments.
		dispOpts = append(dispOpts, dispatch.WithPrompter(tracker.Prompt))
	}
	disp, err := dispatch.New(tr, results, dispatch.Config{
		QueueSize: cfg.Dispatch.QueueSize,
		Workers:   cfg.Dispatch.Workers,
		Language:  cfg.Transcriber.Language,
	}, dispOpts...)
	if err != nil {
		slog.Error("dispatcher setup failed", "err", err)
		return 1
	}

	vcfg := vad.Config{
		SampleRate:     cfg.Audio.SampleRate,
		FrameMs:        cfg.Audio.FrameMs,
		Aggressiveness: cfg.VAD.Aggressiveness,
	}
	pipe, err := pipeline.New(src, engine, vcfg, asm, disp,
		pipeline.WithMetrics(metrics),
		pipeline.WithDrainTimeout(time.Duration(cfg.Dispatch.DrainTimeoutS)*time.Second))
	if err != nil {
		slog.Error("pipeline setup failed", "err", err)
		return 1
	}

	ready.Store(true)
	slog.Info("pipeline running — press Ctrl+C to stop")
	if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("pipeline error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the transcription and VAD factories that ship
// with earshot into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterTranscriber("openai", func(entry config.TranscriberConfig) (transcribe.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber("whisper", func(entry config.TranscriberConfig) (transcribe.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) {
		return vad.NewEnergyEngine(), nil
	})
}

// buildTopicTracker constructs the LLM-backed topic tracker from the config.
func buildTopicTracker(cfg *config.Config) (*topic.Tracker, error) {
	var opts []anyllmlib.Option
	if cfg.Topic.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.Topic.APIKey))
	}
	completer, err := topic.NewLLM(cfg.Topic.Provider, cfg.Topic.Model, opts...)
	if err != nil {
		return nil, err
	}
	return topic.New(completer, topic.Config{
		Interval:       time.Duration(cfg.Topic.IntervalS) * time.Second,
		MaxRefinements: cfg.Topic.MaxRefinements,
	}), nil
}

// ── Device listing ────────────────────────────────────────────────────────────

func printDevices(ctx context.Context, ffmpegPath string) int {
	devices, err := ffmpeg.ListDevices(ctx, ffmpegPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no capture devices found")
		return 0
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %-24s %s\n", marker, d.ID, d.Name)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	mode := "segment + " + cfg.Transcriber.Name
	if cfg.Stream.Enabled {
		mode = "realtime websocket"
	}
	topicState := "(disabled)"
	if cfg.Topic.Enabled {
		topicState = cfg.Topic.Provider + " / " + cfg.Topic.Model
	}

	slog.Info("configuration",
		"mode", mode,
		"device", deviceLabel(cfg.Audio.Device),
		"format", fmt.Sprintf("%d Hz / %d ms / %d ch", cfg.Audio.SampleRate, cfg.Audio.FrameMs, cfg.Audio.Channels),
		"vad", fmt.Sprintf("%s (aggressiveness %d)", cfg.VAD.Engine, cfg.VAD.Aggressiveness),
		"output", string(cfg.Output.Format),
		"topic", topicState,
	)
}

func deviceLabel(device string) string {
	switch device {
	case "":
		return "(default)"
	case "-":
		return "stdin"
	}
	return device
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
