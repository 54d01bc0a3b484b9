// Package tts defines the Backend interface for text-to-speech renderers.
//
// A Backend takes one [Utterance] (text plus an emotion tag) and renders it
// audibly, returning only when the whole utterance has finished or failed.
// Two implementations ship with TutorVox: a remote synthesis service
// (tts/openvoice) and a local synthesizer (tts/local). The session runtime
// selects between them once per utterance; the fallback chain itself lives in
// internal/resilience.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyAudio is returned when a synthesis call succeeds at the transport
// level but yields a zero-length audio payload.
var ErrEmptyAudio = errors.New("tts: empty audio payload")

// ErrUnsupported is returned by a backend that cannot run on this host (for
// example, the local synthesizer binary is not installed). It is terminal for
// the utterance.
var ErrUnsupported = errors.New("tts: speech synthesis not supported")

// Backend renders utterances as audible speech.
type Backend interface {
	// Name returns a short label used in logs and metrics (e.g. "openvoice").
	Name() string

	// Speak renders u and blocks until playback completes. Cancelling ctx
	// stops speech immediately and returns ctx.Err(). Any other error means
	// the utterance was not (fully) rendered.
	Speak(ctx context.Context, u Utterance) error
}

// StatusError reports a non-2xx HTTP response from a synthesis service.
type StatusError struct {
	// Op names the failed request, e.g. "POST /synthesize_stream".
	Op string

	// Code is the HTTP status code.
	Code int

	// Body holds a bounded prefix of the response body.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.Code, e.Body)
}
