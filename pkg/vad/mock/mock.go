// Package mock provides a scripted vad.Engine for tests.
package mock

import (
	"github.com/earshot-audio/earshot/pkg/vad"
)

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates sessions that replay a fixed label script, ignoring frame
// content. When the script runs out the last label repeats.
type Engine struct {
	// Labels is the voiced/unvoiced sequence each session replays.
	Labels []bool
}

// NewSession returns a session replaying the engine's label script.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{labels: e.Labels}, nil
}

type session struct {
	labels []bool
	pos    int
}

func (s *session) Classify(_ []byte) (bool, error) {
	if len(s.labels) == 0 {
		return false, nil
	}
	if s.pos >= len(s.labels) {
		return s.labels[len(s.labels)-1], nil
	}
	label := s.labels[s.pos]
	s.pos++
	return label, nil
}

func (s *session) Reset()       { s.pos = 0 }
func (s *session) Close() error { return nil }
