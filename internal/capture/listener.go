package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/tutorvox/internal/observe"
	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/session"
	"github.com/MrWong99/tutorvox/internal/stream"
	"github.com/MrWong99/tutorvox/pkg/audio"
)

// NoticeMicUnavailable is shown when the microphone cannot be acquired or
// stops delivering audio.
const NoticeMicUnavailable = "Microphone access denied or not available."

// Transport is the part of the streaming connection a listen cycle needs.
type Transport interface {
	FrameSender
	SendControl(ctx context.Context, msg stream.Control) error
}

// ListenerOption configures a [Listener].
type ListenerOption func(*Listener)

// WithListenerMetrics records open cycles on m.
func WithListenerMetrics(m *observe.Metrics) ListenerOption {
	return func(l *Listener) { l.metrics = m }
}

// WithHooks sets where microphone failures are shown.
func WithHooks(h render.Hooks) ListenerOption {
	return func(l *Listener) { l.hooks = h }
}

// Listener starts and stops listen cycles for one session. At most one cycle
// is open at a time.
type Listener struct {
	dev       audio.CaptureDevice
	cfg       Config
	transport Transport
	session   *session.Session
	hooks     render.Hooks
	metrics   *observe.Metrics

	mu    sync.Mutex
	cycle *Cycle
}

// NewListener creates a Listener capturing from dev.
func NewListener(dev audio.CaptureDevice, cfg Config, transport Transport, sess *session.Session, opts ...ListenerOption) *Listener {
	l := &Listener{
		dev:       dev,
		cfg:       cfg,
		transport: transport,
		session:   sess,
		hooks:     render.Nop{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Toggle starts listening when idle and stops when listening. It is ignored
// entirely while disconnected.
func (l *Listener) Toggle(ctx context.Context) {
	if !l.session.CanToggleListen() {
		slog.Debug("capture: listen toggle ignored while disconnected")
		return
	}
	if l.Active() {
		l.Stop()
		return
	}
	l.Start(ctx)
}

// Start acquires the microphone, announces the cycle to the server and marks
// the session listening. On acquisition failure the session stays out of
// listening and the user is told. It reports whether a cycle is now open.
func (l *Listener) Start(ctx context.Context) bool {
	if !l.session.Connected() {
		return false
	}

	l.mu.Lock()
	if l.cycle != nil {
		l.mu.Unlock()
		return true
	}
	var c *Cycle
	opts := []CycleOption{WithOnDeviceError(func(err error) {
		l.mu.Lock()
		failed := c
		l.mu.Unlock()
		l.deviceFailed(failed, err)
	})}
	if l.metrics != nil {
		opts = append(opts, WithMetrics(l.metrics))
	}
	c, err := Start(ctx, l.dev, l.cfg, l.transport, opts...)
	if err == nil {
		l.cycle = c
	}
	l.mu.Unlock()

	if err != nil {
		slog.Warn("capture: microphone unavailable", "error", err)
		l.session.SetListening(false)
		l.hooks.Notice(render.KindError, NoticeMicUnavailable)
		return false
	}
	if err := l.transport.SendControl(ctx, stream.StartListening()); err != nil && !errors.Is(err, stream.ErrNotConnected) {
		slog.Warn("capture: send start_listening", "error", err)
	}
	l.session.SetListening(true)
	slog.Info("capture: listening", "session_id", l.session.ID())
	return true
}

// Stop ends the current cycle. The listening flag is cleared before the
// device is released, so no frame captured after Stop reaches the wire. Safe
// to call when no cycle is open.
func (l *Listener) Stop() {
	l.mu.Lock()
	c := l.cycle
	l.cycle = nil
	l.mu.Unlock()

	l.session.SetListening(false)
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("capture: release microphone", "error", err)
	}
	slog.Info("capture: stopped listening", "session_id", l.session.ID())
}

// Active reports whether a cycle is open.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycle != nil
}

// deviceFailed ends c after the device stopped on its own.
func (l *Listener) deviceFailed(c *Cycle, err error) {
	l.mu.Lock()
	current := l.cycle == c
	if current {
		l.cycle = nil
	}
	l.mu.Unlock()

	_ = c.Close()
	if !current {
		return
	}
	slog.Warn("capture: microphone lost", "error", err)
	l.session.SetListening(false)
	l.hooks.Notice(render.KindError, NoticeMicUnavailable)
}
