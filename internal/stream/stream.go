// Package stream implements the realtime transcription mode.
//
// Instead of segmenting locally, raw PCM frames are base64-appended over a
// WebSocket session to the OpenAI Realtime transcription endpoint and the
// service's server-side VAD decides where utterances begin and end.
// Completed input transcriptions are forwarded to the sink. The socket is
// redialled with exponential backoff; while disconnected, capture frames
// are drained and dropped so the device never stalls.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/sink"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/capture"
)

const (
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultModel   = "gpt-4o-mini-transcribe"

	// backendName labels entries produced by this mode.
	backendName = "openai-realtime"

	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second

	// defaultDrainTimeout bounds the wait for in-flight transcriptions
	// after the source ends.
	defaultDrainTimeout = 5 * time.Second
)

// Config holds the realtime session parameters.
type Config struct {
	// APIKey authenticates the WebSocket session.
	APIKey string

	// Model is the realtime transcription model. Defaults to
	// gpt-4o-mini-transcribe.
	Model string

	// Language is an optional BCP-47 hint forwarded in the session setup.
	Language string

	// Threshold is the server-side VAD sensitivity, 0..1. Zero keeps the
	// service default.
	Threshold float64

	// PrefixPaddingMs is how much audio before detected speech the service
	// includes. Zero keeps the service default.
	PrefixPaddingMs int

	// SilenceDurationMs is how much trailing silence ends an utterance.
	// Zero keeps the service default.
	SilenceDurationMs int
}

// Option is a functional option for the Streamer.
type Option func(*Streamer)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Streamer) { s.log = l }
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// WithBaseURL overrides the WebSocket endpoint. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(s *Streamer) { s.baseURL = url }
}

// WithBackoff overrides the redial backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(s *Streamer) {
		s.minBackoff = min
		s.maxBackoff = max
	}
}

// WithDrainTimeout bounds the wait for in-flight transcriptions after the
// source ends.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Streamer) { s.drainTimeout = d }
}

// Streamer pumps capture frames into a realtime transcription session and
// forwards completed transcriptions to a sink.
type Streamer struct {
	cfg     Config
	out     sink.Sink
	log     *slog.Logger
	metrics *observe.Metrics
	baseURL string

	minBackoff   time.Duration
	maxBackoff   time.Duration
	drainTimeout time.Duration

	mu       sync.Mutex
	nextSeq  uint64
	audioEnd time.Duration // capture timestamp of the last appended frame's end
	lastEnd  time.Duration // audioEnd at the previous completed transcription
}

// New creates a streamer writing results to out.
func New(out sink.Sink, cfg Config, opts ...Option) (*Streamer, error) {
	if out == nil {
		return nil, errors.New("stream: sink must not be nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("stream: api key must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	s := &Streamer{
		cfg:          cfg,
		out:          out,
		log:          slog.Default(),
		baseURL:      defaultBaseURL,
		minBackoff:   minBackoff,
		maxBackoff:   maxBackoff,
		drainTimeout: defaultDrainTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	InputAudioFormat        string               `json:"input_audio_format"`
	InputAudioTranscription transcriptionParams  `json:"input_audio_transcription"`
	TurnDetection           *turnDetectionParams `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── Run loop ───────────────────────────────────────────────────────────────────

// Run starts the source and pumps its frames into realtime sessions until
// the source ends or ctx is cancelled. Socket failures redial with backoff;
// a device failure is fatal.
func (s *Streamer) Run(ctx context.Context, src capture.Source) error {
	if src == nil {
		return errors.New("stream: source must not be nil")
	}
	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("stream: start capture: %w", err)
	}

	frames := src.Frames()
	backoff := s.minBackoff

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(src)
			}
			s.log.Warn("realtime dial failed, retrying",
				slog.Any("error", err),
				slog.Duration("backoff", backoff))
			if closed := s.drainFor(ctx, frames, backoff); closed {
				return s.finish(src)
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff

		sessionDone := make(chan struct{})
		go s.receiveLoop(ctx, conn, sessionDone)

		srcClosed, pumpErr := s.pump(ctx, conn, frames, sessionDone)
		if srcClosed {
			s.shutdown(ctx, conn, sessionDone)
			return s.finish(src)
		}
		conn.Close(websocket.StatusNormalClosure, "session over")
		<-sessionDone

		if ctx.Err() != nil {
			return s.finish(src)
		}
		s.log.Warn("realtime session lost, reconnecting", slog.Any("error", pumpErr))
	}
}

// shutdown commits the remaining buffered audio and waits for in-flight
// transcriptions before closing the socket.
func (s *Streamer) shutdown(ctx context.Context, conn *websocket.Conn, sessionDone <-chan struct{}) {
	_ = writeJSON(ctx, conn, map[string]string{"type": "input_audio_buffer.commit"})

	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()
	select {
	case <-sessionDone:
	case <-timer.C:
	case <-ctx.Done():
	}
	conn.Close(websocket.StatusNormalClosure, "capture ended")
	<-sessionDone
}

// finish stops the source and surfaces a terminal device failure.
func (s *Streamer) finish(src capture.Source) error {
	_ = src.Close()
	if err := src.Err(); err != nil {
		var devErr *capture.DeviceError
		if errors.As(err, &devErr) {
			s.log.Error("capture device failed",
				slog.String("device", devErr.Device),
				slog.Any("error", devErr.Err))
		}
		return err
	}
	return nil
}

// dial opens the WebSocket and configures the transcription session.
func (s *Streamer) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := s.baseURL + "?intent=transcription"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + s.cfg.APIKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	params := sessionParams{
		InputAudioFormat: "pcm16",
		InputAudioTranscription: transcriptionParams{
			Model:    s.cfg.Model,
			Language: s.cfg.Language,
		},
	}
	if s.cfg.Threshold > 0 || s.cfg.PrefixPaddingMs > 0 || s.cfg.SilenceDurationMs > 0 {
		params.TurnDetection = &turnDetectionParams{
			Type:              "server_vad",
			Threshold:         s.cfg.Threshold,
			PrefixPaddingMs:   s.cfg.PrefixPaddingMs,
			SilenceDurationMs: s.cfg.SilenceDurationMs,
		}
	}
	if err := writeJSON(ctx, conn, sessionUpdateMessage{
		Type:    "transcription_session.update",
		Session: params,
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("session update: %w", err)
	}
	return conn, nil
}

// pump forwards frames to the session until the source closes, the context
// is cancelled, or a write fails. It reports whether the source channel
// closed.
func (s *Streamer) pump(ctx context.Context, conn *websocket.Conn, frames <-chan audio.Frame, sessionDone <-chan struct{}) (bool, error) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return true, nil
			}
			s.noteFrame(ctx, f)
			msg := appendAudioMessage{
				Type:  "input_audio_buffer.append",
				Audio: base64.StdEncoding.EncodeToString(f.Data),
			}
			if err := writeJSON(ctx, conn, msg); err != nil {
				return false, err
			}
		case <-sessionDone:
			return false, errors.New("stream: server closed the session")
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// noteFrame advances the audio clock and records captured audio.
func (s *Streamer) noteFrame(ctx context.Context, f audio.Frame) {
	s.mu.Lock()
	s.audioEnd = f.Timestamp + f.Duration()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.CapturedAudio.Add(ctx, f.Duration().Seconds())
	}
}

// drainFor consumes and discards frames for the given duration, keeping the
// capture device unblocked while the socket is down. It reports whether the
// frame channel closed.
func (s *Streamer) drainFor(ctx context.Context, frames <-chan audio.Frame, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// receiveLoop reads server events until the socket closes, forwarding
// completed transcriptions to the sink.
func (s *Streamer) receiveLoop(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "conversation.item.input_audio_transcription.completed":
			s.deliver(ctx, evt.Transcript)
		case "error":
			msg := "unknown error"
			if evt.Error != nil && evt.Error.Message != "" {
				msg = evt.Error.Message
			}
			s.log.Warn("realtime server error", slog.String("message", msg))
		}
	}
}

// deliver writes one completed transcription to the sink. Start and End are
// approximate: the audio clock bounds since the previous completion.
func (s *Streamer) deliver(ctx context.Context, transcript string) {
	if transcript == "" {
		return
	}
	s.mu.Lock()
	e := sink.Entry{
		Seq:     s.nextSeq,
		Start:   s.lastEnd,
		End:     s.audioEnd,
		Text:    transcript,
		Backend: backendName,
	}
	s.nextSeq++
	s.lastEnd = s.audioEnd
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSegment(ctx, (e.End - e.Start).Seconds())
	}
	if err := s.out.Write(ctx, e); err != nil {
		s.log.Error("sink write failed",
			slog.Uint64("seq", e.Seq),
			slog.Any("error", err))
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
