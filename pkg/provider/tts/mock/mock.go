// Package mock provides a test double for the tts.Backend interface.
//
// Use Backend to script failures, block until cancellation, and verify which
// utterances were rendered.
//
// Example:
//
//	b := &mock.Backend{NameValue: "openvoice", SpeakErr: errors.New("503")}
//	err := b.Speak(ctx, tts.Utterance{Text: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tutorvox/pkg/provider/tts"
)

var _ tts.Backend = (*Backend)(nil)

// Backend is a mock implementation of tts.Backend.
type Backend struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// SpeakErr, if non-nil, is returned by Speak after it has been recorded.
	SpeakErr error

	// Block makes Speak wait until ctx is cancelled or Release is closed.
	Block bool

	// Release ends a blocked Speak once closed.
	Release chan struct{}

	// Started, if non-nil, receives every utterance as Speak begins.
	Started chan tts.Utterance

	// --- Call records ---

	// SpeakCalls records every utterance passed to Speak in order.
	SpeakCalls []tts.Utterance
}

// Name implements tts.Backend.
func (b *Backend) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NameValue == "" {
		return "mock"
	}
	return b.NameValue
}

// Speak implements tts.Backend.
func (b *Backend) Speak(ctx context.Context, u tts.Utterance) error {
	b.mu.Lock()
	b.SpeakCalls = append(b.SpeakCalls, u)
	block, release, started, err := b.Block, b.Release, b.Started, b.SpeakErr
	b.mu.Unlock()

	if started != nil {
		started <- u
	}
	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Calls returns a copy of the recorded utterances.
func (b *Backend) Calls() []tts.Utterance {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]tts.Utterance, len(b.SpeakCalls))
	copy(out, b.SpeakCalls)
	return out
}

// CallCount returns the number of Speak invocations.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.SpeakCalls)
}

// Reset clears all recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SpeakCalls = nil
}
