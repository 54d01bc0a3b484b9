// Package dispatch routes server events to their handlers.
//
// Every event tag maps to exactly one [HandlerFunc]. The [Dispatcher] is
// driven by the application's event loop, so handlers run one at a time in
// network arrival order. Unknown tags are logged at debug level and dropped.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/session"
	"github.com/MrWong99/tutorvox/internal/speech"
	"github.com/MrWong99/tutorvox/internal/stream"
)

// NoticeInterruptionHandled is shown when the server acknowledges an
// interrupt.
const NoticeInterruptionHandled = "Interruption handled"

// Speaker is the part of the speech controller the dispatcher drives.
type Speaker interface {
	Speak(ctx context.Context, text, emotion string) *speech.Utterance
	PlayURL(ctx context.Context, audioURL string) *speech.Utterance
	Speaking() bool
	Halt()
}

var _ Speaker = (*speech.Controller)(nil)

// HandlerFunc handles one server event.
type HandlerFunc func(ctx context.Context, ev stream.Event)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithHooks sets where events are shown.
func WithHooks(h render.Hooks) Option {
	return func(d *Dispatcher) { d.hooks = h }
}

// WithURLDelivery makes tts_complete actionable. Without it the server's
// notification is ignored because the audio is already streamed per reply.
func WithURLDelivery(enabled bool) Option {
	return func(d *Dispatcher) { d.urlDelivery = enabled }
}

// Dispatcher routes events by tag.
type Dispatcher struct {
	session     *session.Session
	speaker     Speaker
	hooks       render.Hooks
	urlDelivery bool

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New creates a Dispatcher with a handler registered for every known tag.
func New(sess *session.Session, speaker Speaker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session: sess,
		speaker: speaker,
		hooks:   render.Nop{},
	}
	for _, o := range opts {
		o(d)
	}
	d.handlers = map[string]HandlerFunc{
		stream.EventSystem:                d.handleSystem,
		stream.EventStatus:                d.handleStatus,
		stream.EventTranscription:         d.handleTranscription,
		stream.EventAIResponse:            d.handleAIResponse,
		stream.EventTTSComplete:           d.handleTTSComplete,
		stream.EventTTSError:              d.handleServerError,
		stream.EventInterruptionHandled:   d.handleInterruptionHandled,
		stream.EventContinuationAvailable: d.handleContinuation,
		stream.EventError:                 d.handleServerError,
	}
	return d
}

// Register replaces the handler for tag, or adds one for a new tag.
func (d *Dispatcher) Register(tag string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[tag] = h
}

// Dispatch runs the handler for ev.Type. It reports whether a handler ran.
func (d *Dispatcher) Dispatch(ctx context.Context, ev stream.Event) bool {
	d.mu.RLock()
	h, ok := d.handlers[ev.Type]
	d.mu.RUnlock()
	if !ok {
		slog.Debug("dispatch: dropping unknown event", "type", ev.Type)
		return false
	}
	h(ctx, ev)
	return true
}

// Reply shows an assistant answer and starts speaking it. Used for both
// streamed ai_response events and REST chat replies.
func (d *Dispatcher) Reply(ctx context.Context, text, emotion string) *speech.Utterance {
	if emotion == "" {
		emotion = "default"
	}
	d.hooks.Assistant(text, emotion)
	return d.speaker.Speak(ctx, text, emotion)
}

// ── Handlers ────────────────────────────────────────────────────────────────

func (d *Dispatcher) handleSystem(_ context.Context, ev stream.Event) {
	d.hooks.Notice(render.KindSystem, ev.Message)
}

func (d *Dispatcher) handleStatus(_ context.Context, ev stream.Event) {
	d.hooks.Status(ev.Message)
}

func (d *Dispatcher) handleTranscription(_ context.Context, ev stream.Event) {
	d.hooks.Notice(render.KindUser, render.FormatTranscription(ev.Text, ev.Confidence))
}

func (d *Dispatcher) handleAIResponse(ctx context.Context, ev stream.Event) {
	d.Reply(ctx, ev.Text, ev.Emotion)
}

// handleTTSComplete plays server-rendered audio. It only acts in URL delivery
// mode, with the primary backend selected, on a successful result that names
// an audio location.
func (d *Dispatcher) handleTTSComplete(ctx context.Context, ev stream.Event) {
	if !d.urlDelivery || d.session.Backend() != session.BackendPrimary {
		return
	}
	if !ev.Success || ev.AudioURL == "" {
		slog.Debug("dispatch: ignoring tts_complete", "success", ev.Success, "audio_url", ev.AudioURL)
		return
	}
	d.speaker.PlayURL(ctx, ev.AudioURL)
}

// handleServerError covers both tts_error and error.
func (d *Dispatcher) handleServerError(_ context.Context, ev stream.Event) {
	slog.Warn("dispatch: server reported error", "type", ev.Type, "message", ev.Message)
	d.hooks.Notice(render.KindError, ev.Message)
	d.speaker.Halt()
	d.session.SetError(ev.Message)
}

// handleInterruptionHandled clears the speaking flag. The interrupted
// utterance was already torn down locally, so anything still playing is a
// newer reply and keeps going.
func (d *Dispatcher) handleInterruptionHandled(_ context.Context, _ stream.Event) {
	d.hooks.Notice(render.KindSystem, NoticeInterruptionHandled)
	if !d.speaker.Speaking() {
		d.session.SetSpeaking(false)
	}
}

func (d *Dispatcher) handleContinuation(_ context.Context, ev stream.Event) {
	d.hooks.Notice(render.KindSystem, ContinuationPrompt(ev.Text))
}

// ContinuationPrompt is the notice offering to continue a cut-short answer.
func ContinuationPrompt(text string) string {
	return fmt.Sprintf(`Would you like me to continue explaining: "%s"?`, text)
}
