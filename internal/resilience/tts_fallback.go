package resilience

import (
	"context"

	"github.com/MrWong99/tutorvox/pkg/provider/tts"
)

// TTSFallback implements [tts.Backend] with automatic failover across speech
// backends. Each utterance is attempted on the primary, then once on every
// fallback in order. An interrupted utterance is never retried elsewhere.
type TTSFallback struct {
	group *FallbackGroup[tts.Backend]
}

// Compile-time interface assertion.
var _ tts.Backend = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// Entry names are taken from [tts.Backend.Name].
func NewTTSFallback(primary tts.Backend, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional backend tried after the primary.
func (f *TTSFallback) AddFallback(b tts.Backend) {
	f.group.AddFallback(b.Name(), b)
}

// Name implements tts.Backend. It reports the primary's name.
func (f *TTSFallback) Name() string {
	return f.group.entries[0].name
}

// Breaker returns the circuit breaker guarding the named backend, if any.
func (f *TTSFallback) Breaker(name string) *CircuitBreaker {
	return f.group.Breaker(name)
}

// Speak implements tts.Backend.
func (f *TTSFallback) Speak(ctx context.Context, u tts.Utterance) error {
	return f.group.Execute(ctx, func(ctx context.Context, b tts.Backend) error {
		return b.Speak(ctx, u)
	})
}
