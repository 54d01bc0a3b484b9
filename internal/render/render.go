// Package render defines the presentation hooks the runtime calls into and a
// styled terminal implementation of them.
//
// Components never format output themselves: they report notices, the
// connection flag, state labels and upstream health through [Hooks]. The
// terminal renderer ([Terminal]) is one implementation; the transcript
// recorder and test mocks are others. [Multi] fans one call out to several.
package render

import (
	"fmt"

	"github.com/MrWong99/tutorvox/internal/health"
	"github.com/MrWong99/tutorvox/internal/session"
)

// Kind classifies a transcript line.
type Kind string

const (
	// KindSystem is an informational notice.
	KindSystem Kind = "system"

	// KindError is a user-visible failure.
	KindError Kind = "error"

	// KindUser is something the user said or typed.
	KindUser Kind = "user"

	// KindAI is an answer from the tutor.
	KindAI Kind = "ai"
)

// Hooks receives everything the runtime wants to show. Implementations must
// be safe for concurrent use.
type Hooks interface {
	// Notice appends a system, error or user line to the transcript.
	Notice(kind Kind, text string)

	// Assistant appends a tutor answer tagged with its emotion.
	Assistant(text, emotion string)

	// Connection updates the connection indicator.
	Connection(connected bool)

	// Status replaces the current state label.
	Status(label string)

	// Health replaces the upstream service table.
	Health(services []health.ServiceStatus)

	// Prompt asks the user for input.
	Prompt(text string)
}

// FormatTranscription renders a recognized utterance with its confidence,
// e.g. `"hello" (confidence: 95.0%)`. confidence is in [0,1].
func FormatTranscription(text string, confidence float64) string {
	return fmt.Sprintf(`"%s" (confidence: %.1f%%)`, text, confidence*100)
}

// StateLabel is the status line text for a snapshot.
func StateLabel(snap session.Snapshot) string {
	switch snap.State() {
	case session.StateListening:
		return "Listening..."
	case session.StateProcessing:
		return "Processing..."
	case session.StateSpeaking:
		if snap.Backend == session.BackendFallback {
			return "Speaking (Local TTS)..."
		}
		return "Speaking (OpenVoice)..."
	case session.StateError:
		return "Error"
	default:
		return "Idle"
	}
}

// Nop implements [Hooks] by discarding everything. Embed it to implement a
// subset of the hooks.
type Nop struct{}

var _ Hooks = Nop{}

func (Nop) Notice(Kind, string) {}
func (Nop) Assistant(string, string) {}
func (Nop) Connection(bool) {}
func (Nop) Status(string) {}
func (Nop) Health([]health.ServiceStatus) {}
func (Nop) Prompt(string) {}

// Multi forwards every call to each of hooks in order.
func Multi(hooks ...Hooks) Hooks {
	return multi(append([]Hooks(nil), hooks...))
}

type multi []Hooks

func (m multi) Notice(kind Kind, text string) {
	for _, h := range m {
		h.Notice(kind, text)
	}
}

func (m multi) Assistant(text, emotion string) {
	for _, h := range m {
		h.Assistant(text, emotion)
	}
}

func (m multi) Connection(connected bool) {
	for _, h := range m {
		h.Connection(connected)
	}
}

func (m multi) Status(label string) {
	for _, h := range m {
		h.Status(label)
	}
}

func (m multi) Health(services []health.ServiceStatus) {
	for _, h := range m {
		h.Health(services)
	}
}

func (m multi) Prompt(text string) {
	for _, h := range m {
		h.Prompt(text)
	}
}
