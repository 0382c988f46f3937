// Package mock provides a scripted transcribe.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/transcribe"
)

// Compile-time assertion that Transcriber implements the interface.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcriber records every request and answers with canned data. The
// zero value returns empty results for all requests.
type Transcriber struct {
	// Text is returned for every request when Fn is nil.
	Text string

	// Err, when set, is returned instead of a result.
	Err error

	// Fn, when set, computes the response per request. It overrides Text
	// and Err.
	Fn func(ctx context.Context, req transcribe.Request) (transcribe.Result, error)

	mu    sync.Mutex
	calls []transcribe.Request
}

func (m *Transcriber) Name() string { return "mock" }

func (m *Transcriber) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.Fn != nil {
		return m.Fn(ctx, req)
	}
	if m.Err != nil {
		return transcribe.Result{}, m.Err
	}
	return transcribe.Result{Text: m.Text}, nil
}

// Calls returns a copy of all requests seen so far.
func (m *Transcriber) Calls() []transcribe.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcribe.Request, len(m.calls))
	copy(out, m.calls)
	return out
}
