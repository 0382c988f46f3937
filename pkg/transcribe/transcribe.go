// Package transcribe defines the Transcriber interface for sending finished
// audio segments to a speech-to-text backend.
//
// Transcription is a batch operation: the caller hands over one complete
// audio container and blocks until text or an error comes back. Streaming
// recognition is a separate concern and lives in internal/stream.
//
// Backend failures are reported as [RemoteError] so callers can tell a
// misbehaving service apart from local bugs. A remote failure is terminal
// for the segment that triggered it; implementations must not retry
// internally.
package transcribe

import (
	"context"
	"fmt"
)

// Request is one segment to transcribe.
type Request struct {
	// WAV is the complete audio container, ready for upload.
	WAV []byte

	// Language is an optional BCP-47 hint (e.g. "en"). Empty lets the
	// backend detect the language.
	Language string

	// Prompt is optional context for the recogniser, typically the current
	// conversation topic and the preceding transcript line. Backends that
	// support prompting use it to bias decoding.
	Prompt string
}

// Result is the backend's transcription of one request.
type Result struct {
	// Text is the recognised speech. May be empty when the backend heard
	// nothing intelligible.
	Text string
}

// Transcriber converts one audio segment to text.
//
// Implementations must be safe for concurrent use; the dispatcher calls
// Transcribe from multiple workers.
type Transcriber interface {
	// Transcribe blocks until the backend returns text or fails. The
	// context bounds the whole exchange; implementations must honour its
	// cancellation.
	Transcribe(ctx context.Context, req Request) (Result, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// RemoteError reports a failed exchange with a transcription backend.
type RemoteError struct {
	// Backend is the Transcriber name.
	Backend string

	// Status is the HTTP status code when the backend answered with one,
	// 0 otherwise.
	Status int

	Err error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transcribe: %s returned HTTP %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("transcribe: %s: %v", e.Backend, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
