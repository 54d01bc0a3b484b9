// Package speech renders tutor answers as audio.
//
// The [Controller] owns the single in-flight utterance of a session. Every
// new utterance first tears down the previous one, so playback never
// overlaps. With the primary backend selected, an utterance runs through a
// [resilience.TTSFallback] chain (remote synthesis, then the local
// synthesizer once); with the fallback selected only the local synthesizer is
// used. Interrupt and Stop cancel the utterance synchronously: when they
// return the audio has been torn down.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/tutorvox/internal/observe"
	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/resilience"
	"github.com/MrWong99/tutorvox/internal/session"
	"github.com/MrWong99/tutorvox/pkg/provider/tts"
)

// User-facing notices.
const (
	NoticeFallback        = "OpenVoice TTS failed, falling back to local TTS"
	NoticeUnsupported     = "Local TTS not supported."
	NoticePlaybackFailed  = "Failed to play audio response"
	NoticeInterruptPrompt = "What would you like to ask?"
	StatusStopped         = "Stopped"
)

// Stopper is the synthesis service's session-scoped stop endpoint.
type Stopper interface {
	Stop(ctx context.Context) error
}

// URLPlayer plays audio the synthesis service already rendered.
type URLPlayer interface {
	PlayURL(ctx context.Context, audioURL string) error
}

// Config wires the backends.
type Config struct {
	// Primary is the remote synthesis backend. May be nil, in which case only
	// Fallback is used.
	Primary tts.Backend

	// Fallback is the local synthesizer. Required.
	Fallback tts.Backend

	// Stopper is notified on Stop. May be nil.
	Stopper Stopper

	// URLPlayer plays non-streamed audio. May be nil.
	URLPlayer URLPlayer

	// CircuitBreaker guards the primary. Nil means the primary is always
	// tried first.
	CircuitBreaker *resilience.CircuitBreakerConfig
}

// Option configures a [Controller].
type Option func(*Controller)

// WithHooks sets where speech notices are shown.
func WithHooks(h render.Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithMetrics records utterance latency and fallbacks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller renders utterances for one session.
type Controller struct {
	session  *session.Session
	primary  tts.Backend
	fallback tts.Backend
	chain    tts.Backend
	stopper  Stopper
	urls     URLPlayer
	hooks    render.Hooks
	metrics  *observe.Metrics

	mu      sync.Mutex
	current *Utterance
}

// New creates a Controller for sess.
func New(sess *session.Session, cfg Config, opts ...Option) (*Controller, error) {
	if sess == nil {
		return nil, errors.New("speech: session must not be nil")
	}
	if cfg.Fallback == nil {
		return nil, errors.New("speech: fallback backend must not be nil")
	}
	c := &Controller{
		session:  sess,
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		stopper:  cfg.Stopper,
		urls:     cfg.URLPlayer,
		hooks:    render.Nop{},
	}
	for _, o := range opts {
		o(c)
	}
	if cfg.Primary != nil {
		chain := resilience.NewTTSFallback(cfg.Primary, resilience.FallbackConfig{
			CircuitBreaker: cfg.CircuitBreaker,
			OnFallback:     c.onFallback,
		})
		chain.AddFallback(cfg.Fallback)
		c.chain = chain
	}
	return c, nil
}

// onFallback announces a primary failure. A primary skipped by its open
// breaker was already announced when the breaker tripped.
func (c *Controller) onFallback(from, to string, err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		slog.Debug("speech: primary circuit open", "from", from, "to", to)
		return
	}
	slog.Warn("speech: falling back", "from", from, "to", to, "error", err)
	if c.metrics != nil {
		c.metrics.RecordFallback(context.Background(), from, to)
	}
	c.hooks.Notice(render.KindError, NoticeFallback)
}

// Utterance is one in-flight render.
type Utterance struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the utterance has finished, failed or been torn down.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Wait blocks until the utterance ends and returns its error. A torn down
// utterance returns [context.Canceled].
func (u *Utterance) Wait() error {
	<-u.done
	return u.err
}

// backendFor picks the strategy for the session's current selection.
func (c *Controller) backendFor() tts.Backend {
	if c.chain == nil || c.session.Backend() == session.BackendFallback {
		return c.fallback
	}
	return c.chain
}

// Speak starts rendering text with emotion and returns immediately. A
// previous utterance is torn down first. Failures are reported through the
// hooks and move the session to Error.
func (c *Controller) Speak(ctx context.Context, text, emotion string) *Utterance {
	u := tts.Utterance{Text: text, Emotion: tts.ParseEmotion(emotion)}
	b := c.backendFor()
	return c.start(ctx, "speech.speak", b.Name(), func(ctx context.Context) error {
		return b.Speak(ctx, u)
	})
}

// PlayURL starts playing already synthesized audio. Without a URL player it
// is a no-op that returns a finished utterance.
func (c *Controller) PlayURL(ctx context.Context, audioURL string) *Utterance {
	if c.urls == nil {
		u := &Utterance{cancel: func() {}, done: make(chan struct{})}
		close(u.done)
		return u
	}
	name := "url"
	if c.primary != nil {
		name = c.primary.Name()
	}
	return c.start(ctx, "speech.play_url", name, func(ctx context.Context) error {
		return c.urls.PlayURL(ctx, audioURL)
	})
}

func (c *Controller) start(ctx context.Context, spanName, backend string, fn func(context.Context) error) *Utterance {
	c.teardown()

	uctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	u := &Utterance{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.current = u
	c.session.SetSpeaking(true)
	c.mu.Unlock()

	go c.run(uctx, u, spanName, backend, fn)
	return u
}

func (c *Controller) run(ctx context.Context, u *Utterance, spanName, backend string, fn func(context.Context) error) {
	defer close(u.done)

	ctx = observe.WithSessionID(ctx, c.session.ID())
	ctx, span := observe.StartSpan(ctx, spanName,
		trace.WithAttributes(attribute.String("backend", backend)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	u.err = err

	cancelled := errors.Is(err, context.Canceled)
	if c.metrics != nil {
		status := observe.Status(err)
		if cancelled {
			status = "cancelled"
		}
		c.metrics.RecordTTS(ctx, backend, status, time.Since(start))
	}
	if !cancelled {
		observe.Fail(span, err)
	}
	msg := NoticePlaybackFailed
	if errors.Is(err, tts.ErrUnsupported) {
		msg = NoticeUnsupported
	}

	// Only the owner of c.current may touch the session flags, and only
	// while holding c.mu.
	c.mu.Lock()
	current := c.current == u
	if current {
		c.current = nil
		switch {
		case cancelled:
		case err == nil:
			c.session.SetSpeaking(false)
		default:
			c.session.SetError(msg)
		}
	}
	c.mu.Unlock()

	if !current || cancelled || err == nil {
		return
	}
	observe.Logger(ctx).Warn("speech: utterance failed", "backend", backend, "error", err)
	c.hooks.Notice(render.KindError, msg)
}

// teardown cancels the in-flight utterance, if any, and waits for it to end.
func (c *Controller) teardown() bool {
	c.mu.Lock()
	u := c.current
	c.current = nil
	c.mu.Unlock()
	if u == nil {
		return false
	}
	u.cancel()
	<-u.done
	return true
}

// Speaking reports whether an utterance is in flight.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Interrupt cancels the current utterance and asks the user what to ask
// instead. It does nothing unless the session is both speaking and
// connected, and reports whether it acted.
func (c *Controller) Interrupt() bool {
	if !c.session.CanInterrupt() {
		return false
	}
	c.teardown()
	c.session.SetSpeaking(false)
	c.hooks.Prompt(NoticeInterruptPrompt)
	return true
}

// Halt tears down any playback without notifying anyone.
func (c *Controller) Halt() {
	c.teardown()
	c.session.SetSpeaking(false)
}

// Stop unconditionally halts playback and tells the synthesis service to
// stop. A failing stop request is logged only.
func (c *Controller) Stop(ctx context.Context) {
	c.Halt()
	if c.stopper == nil {
		c.hooks.Status(StatusStopped)
		return
	}
	if err := c.stopper.Stop(ctx); err != nil {
		slog.Warn("speech: stop request failed", "session_id", c.session.ID(), "error", err)
		return
	}
	c.hooks.Status(StatusStopped)
}

// Close tears down playback. Used on shutdown.
func (c *Controller) Close() {
	c.teardown()
}
