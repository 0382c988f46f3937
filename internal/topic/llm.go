package topic

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Compile-time assertion that LLM implements Completer.
var _ Completer = (*LLM)(nil)

// LLM is a Completer backed by github.com/mozilla-ai/any-llm-go, so topic
// refinement can run against hosted APIs or a local Ollama instance alike.
type LLM struct {
	backend anyllmlib.Provider
	model   string
}

// NewLLM creates a completer for the given provider name. providerName is
// one of: "openai", "anthropic", "gemini", "ollama", "mistral", "groq".
// Without an API key option the provider falls back to its environment
// variable (OPENAI_API_KEY and friends).
func NewLLM(providerName, model string, opts ...anyllmlib.Option) (*LLM, error) {
	if model == "" {
		return nil, fmt.Errorf("topic: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("topic: create %q backend: %w", providerName, err)
	}
	return &LLM{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq", providerName)
	}
}

// Complete implements Completer with a single non-streaming call.
func (l *LLM) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := l.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: l.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("topic: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("topic: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}
