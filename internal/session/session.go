// Package session holds the per-process conversation context shared by the
// connection, capture, speech and dispatch components.
//
// A [Session] carries the session identifier, which is generated once and
// reused for every request, together with the independent runtime flags:
// connected, listening, speaking, processing and errored. The
// presentation-facing [State] is derived from those flags on demand.
//
// Session is safe for concurrent use. Every mutation goes through a method
// that holds the lock only for the duration of the write; observers
// registered with [WithOnChange] are notified after the lock is released.
package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IDPrefix starts every generated session identifier.
const IDPrefix = "session_"

const idSuffixLen = 9

// NewID returns a fresh identifier of the form "session_" followed by nine
// lowercase alphanumeric characters.
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return IDPrefix + raw[:idSuffixLen]
}

// Backend selects which speech output backend the user prefers.
type Backend string

const (
	// BackendPrimary tries the remote synthesis service first and falls back
	// to the local synthesizer on failure.
	BackendPrimary Backend = "primary"

	// BackendFallback uses only the local synthesizer.
	BackendFallback Backend = "fallback"
)

// IsValid reports whether b is a known backend.
func (b Backend) IsValid() bool {
	return b == BackendPrimary || b == BackendFallback
}

// Snapshot is a consistent copy of all session flags taken under one lock.
type Snapshot struct {
	ID         string
	Connected  bool
	Listening  bool
	Speaking   bool
	Processing bool
	Errored    bool
	LastError  string
	Backend    Backend
}

// State derives the presentation label from the snapshot flags.
func (s Snapshot) State() State {
	return deriveState(s)
}

// Option configures a Session.
type Option func(*Session)

// WithID overrides the generated session identifier.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithBackend sets the initially selected speech backend.
func WithBackend(b Backend) Option {
	return func(s *Session) {
		if b.IsValid() {
			s.backend = b
		}
	}
}

// WithOnChange registers fn to receive a snapshot after every mutation that
// changes the derived state or the connection flag.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Session) { s.onChange = fn }
}

// Session is the single logical conversation for the lifetime of the process.
type Session struct {
	id       string
	onChange func(Snapshot)

	mu         sync.Mutex
	connected  bool
	listening  bool
	speaking   bool
	processing bool
	errored    bool
	lastError  string
	backend    Backend
}

// New creates a Session with a freshly generated identifier and the primary
// backend selected.
func New(opts ...Option) *Session {
	s := &Session{
		id:      NewID(),
		backend: BackendPrimary,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the session identifier. It never changes.
func (s *Session) ID() string { return s.id }

// Snapshot returns a consistent copy of the current flags.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:         s.id,
		Connected:  s.connected,
		Listening:  s.listening,
		Speaking:   s.speaking,
		Processing: s.processing,
		Errored:    s.errored,
		LastError:  s.lastError,
		Backend:    s.backend,
	}
}

// State returns the derived presentation state.
func (s *Session) State() State {
	return s.Snapshot().State()
}

// Connected reports whether the streaming connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Listening reports whether a capture cycle is active.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Speaking reports whether an utterance is being rendered.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Backend returns the selected speech backend.
func (s *Session) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// SetConnected records the connection flag. Losing the connection also ends
// listening, because frames can no longer reach the server.
func (s *Session) SetConnected(v bool) {
	s.mutate(func() {
		s.connected = v
		if !v {
			s.listening = false
		}
	})
}

// SetListening records the listening flag. Starting to listen clears a
// previous error.
func (s *Session) SetListening(v bool) {
	s.mutate(func() {
		s.listening = v
		if v {
			s.clearErrorLocked()
		}
	})
}

// SetSpeaking records the speaking flag. Starting to speak ends processing
// and clears a previous error.
func (s *Session) SetSpeaking(v bool) {
	s.mutate(func() {
		s.speaking = v
		if v {
			s.processing = false
			s.clearErrorLocked()
		}
	})
}

// SetProcessing records that a turn is awaiting a reply. Submitting a turn
// clears a previous error.
func (s *Session) SetProcessing(v bool) {
	s.mutate(func() {
		s.processing = v
		if v {
			s.clearErrorLocked()
		}
	})
}

// SetError forces the Error state and clears speaking and processing.
// Listening is left untouched so an active capture cycle keeps streaming.
func (s *Session) SetError(msg string) {
	s.mutate(func() {
		s.errored = true
		s.lastError = msg
		s.speaking = false
		s.processing = false
	})
}

// ClearError leaves the Error state.
func (s *Session) ClearError() {
	s.mutate(s.clearErrorLocked)
}

func (s *Session) clearErrorLocked() {
	s.errored = false
	s.lastError = ""
}

// SetBackend selects the speech backend. Unknown values are ignored and
// reported as false.
func (s *Session) SetBackend(b Backend) bool {
	if !b.IsValid() {
		return false
	}
	s.mutate(func() { s.backend = b })
	return true
}

// CanToggleListen reports whether a listen toggle may act. Toggles are
// ignored entirely while disconnected.
func (s *Session) CanToggleListen() bool {
	return s.Connected()
}

// CanInterrupt reports whether an interrupt may act: the session must be
// both speaking and connected.
func (s *Session) CanInterrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking && s.connected
}

// mutate applies fn under the lock and notifies the observer when the
// derived state or the connection flag changed.
func (s *Session) mutate(fn func()) {
	s.mu.Lock()
	before := s.snapshotLocked()
	fn()
	after := s.snapshotLocked()
	s.mu.Unlock()

	if s.onChange == nil {
		return
	}
	if before.State() != after.State() || before.Connected != after.Connected || before.Backend != after.Backend {
		s.onChange(after)
	}
}
