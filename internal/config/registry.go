package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earshot-audio/earshot/pkg/transcribe"
	"github.com/earshot-audio/earshot/pkg/vad"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(TranscriberConfig) (transcribe.Transcriber, error)
	vad         map[string]func(VADConfig) (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]func(TranscriberConfig) (transcribe.Transcriber, error)),
		vad:         make(map[string]func(VADConfig) (vad.Engine, error)),
	}
}

// RegisterTranscriber registers a transcription backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(TranscriberConfig) (transcribe.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateTranscriber instantiates the backend registered under entry.Name.
// Returns [ErrNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateTranscriber(entry TranscriberConfig) (transcribe.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates the VAD engine registered under entry.Engine.
func (r *Registry) CreateVAD(entry VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, entry.Engine)
	}
	return factory(entry)
}
