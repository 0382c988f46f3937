// Package openai provides a Transcriber backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/earshot-audio/earshot/pkg/transcribe"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini-transcribe"

// Compile-time assertion that Client implements transcribe.Transcriber.
var _ transcribe.Transcriber = (*Client)(nil)

// config holds optional configuration for the client.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible gateways and tests.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Client implements transcribe.Transcriber using the OpenAI API. It is
// stateless and safe for concurrent use.
type Client struct {
	client oai.Client
	model  string
}

// New constructs an OpenAI transcription client. model may be empty, in
// which case [DefaultModel] applies.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Name implements transcribe.Transcriber.
func (c *Client) Name() string { return "openai" }

// Transcribe uploads the WAV container to the transcriptions endpoint.
// API failures are reported as [transcribe.RemoteError] carrying the HTTP
// status the service answered with.
func (c *Client) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.WAV), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(c.model),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		remote := &transcribe.RemoteError{Backend: c.Name(), Err: err}
		var apierr *oai.Error
		if errors.As(err, &apierr) {
			remote.Status = apierr.StatusCode
		}
		return transcribe.Result{}, remote
	}

	return transcribe.Result{Text: resp.Text}, nil
}
