package session

// State is the mutually exclusive presentation label derived from the
// session flags.
type State int

const (
	// StateIdle means nothing is in progress.
	StateIdle State = iota

	// StateListening means a capture cycle is streaming audio.
	StateListening

	// StateProcessing means a turn was submitted and no reply has arrived.
	StateProcessing

	// StateSpeaking means an utterance is being rendered.
	StateSpeaking

	// StateError means the last action failed. The next successful action
	// leaves it.
	StateError
)

// String returns the label shown to the user.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateProcessing:
		return "Processing"
	case StateSpeaking:
		return "Speaking"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// deriveState composes the flags with priority
// Error > Speaking > Processing > Listening > Idle. A turn submitted while
// the microphone is open shows as Processing until the reply arrives.
func deriveState(s Snapshot) State {
	switch {
	case s.Errored:
		return StateError
	case s.Speaking:
		return StateSpeaking
	case s.Processing:
		return StateProcessing
	case s.Listening:
		return StateListening
	default:
		return StateIdle
	}
}
