// Package app wires all TutorVox subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates every subsystem for one
// session, Run connects and executes the dispatch loop, and Shutdown tears
// everything down in order.
//
// All reactions happen on the dispatch loop, one [Event] at a time: server
// events from the streaming connection, lines read from the input, and
// completions posted by long operations (chat turns, history, clear). Long
// operations run in their own goroutine and post their result back, so the
// loop never waits on the network.
//
// For testing, inject test doubles via functional options (WithChat,
// WithPrimary, WithCaptureDevice, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/tutorvox/internal/capture"
	"github.com/MrWong99/tutorvox/internal/config"
	"github.com/MrWong99/tutorvox/internal/dispatch"
	"github.com/MrWong99/tutorvox/internal/health"
	"github.com/MrWong99/tutorvox/internal/observe"
	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/resilience"
	"github.com/MrWong99/tutorvox/internal/session"
	"github.com/MrWong99/tutorvox/internal/speech"
	"github.com/MrWong99/tutorvox/internal/stream"
	"github.com/MrWong99/tutorvox/internal/transcript"
	"github.com/MrWong99/tutorvox/pkg/audio"
	"github.com/MrWong99/tutorvox/pkg/audio/command"
	"github.com/MrWong99/tutorvox/pkg/provider/chat"
	"github.com/MrWong99/tutorvox/pkg/provider/tts"
	"github.com/MrWong99/tutorvox/pkg/provider/tts/local"
	"github.com/MrWong99/tutorvox/pkg/provider/tts/openvoice"
)

// eventQueueSize bounds the dispatch loop's inbox. Producers block when it is
// full, which keeps server events in arrival order.
const eventQueueSize = 64

// StatusSource reports what the synthesis service is doing for the session.
type StatusSource interface {
	Status(ctx context.Context) (*openvoice.Status, error)
}

var _ StatusSource = (*openvoice.Provider)(nil)

// App owns all subsystem lifetimes for one session.
type App struct {
	cfg *config.Config

	// Injected or built in New.
	display   render.Hooks
	input     io.Reader
	chat      chat.Provider
	device    audio.CaptureDevice
	player    audio.Player
	primary   tts.Backend
	fallback  tts.Backend
	status    StatusSource
	sessionID string
	exportDir string
	metrics   *observe.Metrics
	scrape    http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	hooks      render.Hooks
	recorder   *transcript.Recorder
	session    *session.Session
	stream     *stream.Manager
	speech     *speech.Controller
	listener   *capture.Listener
	dispatcher *dispatch.Dispatcher
	poller     *health.Poller
	probe      http.Handler
	debug      *http.Server
	debugLn    net.Listener

	events chan Event
	quit   chan struct{}

	// pendingInterrupt is set after an accepted interrupt: the next input
	// line is sent as the interrupt text. Only touched on the loop.
	pendingInterrupt bool

	// closers are called in order during Shutdown.
	closers []func() error

	runOnce  sync.Once
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHooks sets where the session is rendered. Default: a terminal renderer
// on stdout.
func WithHooks(h render.Hooks) Option {
	return func(a *App) { a.display = h }
}

// WithInput sets where user lines are read from. Default: stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.input = r }
}

// WithChat injects a chat provider instead of the REST client.
func WithChat(c chat.Provider) Option {
	return func(a *App) { a.chat = c }
}

// WithCaptureDevice injects a microphone instead of the capture command.
func WithCaptureDevice(d audio.CaptureDevice) Option {
	return func(a *App) { a.device = d }
}

// WithPlayer injects a playback device instead of the player command.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithPrimary injects the remote synthesis backend. When b also implements
// [speech.Stopper], [speech.URLPlayer] or [StatusSource] those capabilities
// are used as well.
func WithPrimary(b tts.Backend) Option {
	return func(a *App) { a.primary = b }
}

// WithFallback injects the local synthesizer.
func WithFallback(b tts.Backend) Option {
	return func(a *App) { a.fallback = b }
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(a *App) { a.sessionID = id }
}

// WithExportDir sets where /export writes transcripts. Default: the working
// directory.
func WithExportDir(dir string) Option {
	return func(a *App) { a.exportDir = dir }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on the probe server's /metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together for one session. It
// does not connect; call [App.Run].
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	a := &App{
		cfg:       cfg,
		input:     os.Stdin,
		exportDir: ".",
		events:    make(chan Event, eventQueueSize),
		quit:      make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.display == nil {
		a.display = render.NewTerminal(os.Stdout)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.sessionID == "" {
		a.sessionID = session.NewID()
	}

	// ── 1. Session and rendering ─────────────────────────────────────────
	a.recorder = transcript.NewRecorder(a.sessionID)
	a.hooks = render.Multi(a.display, a.recorder)
	a.session = session.New(
		session.WithID(a.sessionID),
		session.WithBackend(session.Backend(cfg.Speech.Backend)),
		session.WithOnChange(a.onSessionChange),
	)

	// ── 2. Synthesis backends ────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 3. Chat client ───────────────────────────────────────────────────
	if a.chat == nil {
		c, err := chat.New(cfg.Endpoints.Chat, a.sessionID, chat.WithTimeout(cfg.Chat.Timeout))
		if err != nil {
			return nil, fmt.Errorf("app: init chat: %w", err)
		}
		a.chat = c
	}

	// ── 4. Streaming connection ──────────────────────────────────────────
	mgr, err := stream.New(stream.Config{
		URL:            cfg.Endpoints.Stream,
		Token:          cfg.Stream.Token,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
	}, a.session, stream.WithHooks(a.hooks), stream.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init stream: %w", err)
	}
	a.stream = mgr
	a.closers = append(a.closers, a.stream.Close)

	// ── 5. Microphone ────────────────────────────────────────────────────
	if a.device == nil {
		a.device = command.NewCapture(cfg.Audio.CaptureCommand)
	}
	a.listener = capture.NewListener(a.device, capture.Config{
		DeviceRate: cfg.Audio.DeviceRate,
		SampleRate: cfg.Audio.SampleRate,
		BufferSize: cfg.Audio.BufferSize,
	}, a.stream, a.session,
		capture.WithHooks(a.hooks),
		capture.WithListenerMetrics(a.metrics),
	)

	// ── 6. Message dispatcher ────────────────────────────────────────────
	a.dispatcher = dispatch.New(a.session, a.speech,
		dispatch.WithHooks(a.hooks),
		dispatch.WithURLDelivery(cfg.Speech.Delivery == config.DeliveryURL),
	)

	// ── 7. Health poller ─────────────────────────────────────────────────
	a.poller = health.NewPoller(
		health.DefaultServices(cfg.Endpoints.Stream, cfg.Endpoints.Chat, cfg.Endpoints.TTS),
		health.WithInterval(cfg.Health.Interval),
		health.WithTimeout(cfg.Health.Timeout),
		health.WithMetrics(a.metrics),
		health.WithOnResult(a.hooks.Health),
	)

	// ── 8. Probe server ──────────────────────────────────────────────────
	if err := a.initProbe(); err != nil {
		return nil, fmt.Errorf("app: init probe server: %w", err)
	}

	slog.Info("app: session ready",
		"session_id", a.sessionID,
		"stream", a.stream.URL(),
		"backend", a.session.Backend(),
		"delivery", cfg.Speech.Delivery,
	)
	return a, nil
}

// initSpeech builds the playback device, both synthesis backends and the
// speech controller.
func (a *App) initSpeech() error {
	if a.player == nil {
		a.player = command.NewPlayer(a.cfg.Audio.PlayerCommand)
	}
	if a.primary == nil {
		p, err := openvoice.New(a.cfg.Endpoints.TTS, a.sessionID, a.player,
			openvoice.WithDelivery(openvoice.Delivery(a.cfg.Speech.Delivery)),
		)
		if err != nil {
			return err
		}
		a.primary = p
	}
	if a.fallback == nil {
		l, err := local.New(a.player,
			local.WithCommand(a.cfg.Speech.Local.Command),
			local.WithVoice(a.cfg.Speech.Local.Voice),
		)
		if err != nil {
			return err
		}
		a.fallback = l
	}

	sc := speech.Config{
		Primary:  a.primary,
		Fallback: a.fallback,
	}
	if s, ok := a.primary.(speech.Stopper); ok {
		sc.Stopper = s
	}
	if u, ok := a.primary.(speech.URLPlayer); ok {
		sc.URLPlayer = u
	}
	if s, ok := a.primary.(StatusSource); ok {
		a.status = s
	}
	if cb := a.cfg.Speech.CircuitBreaker; cb.MaxFailures > 0 {
		sc.CircuitBreaker = &resilience.CircuitBreakerConfig{
			Name:         a.primary.Name(),
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
		}
	}

	ctl, err := speech.New(a.session, sc, speech.WithHooks(a.hooks), speech.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.speech = ctl
	return nil
}

// initProbe builds the /healthz, /readyz and /metrics handler and, when a
// listen address is configured, binds the probe server.
func (a *App) initProbe() error {
	mux := http.NewServeMux()
	health.New([]health.Checker{{
		Name: "stream",
		Check: func(context.Context) error {
			if !a.stream.Connected() {
				return stream.ErrNotConnected
			}
			return nil
		},
	}}, health.WithServices(a.poller.Last)).Register(mux)
	if a.scrape != nil {
		mux.Handle("GET /metrics", a.scrape)
	}
	a.probe = observe.Middleware(a.metrics)(mux)

	addr := a.cfg.Debug.ListenAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.debugLn = ln
	a.debug = &http.Server{
		Handler:           a.probe,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("app: probe server listening", "addr", ln.Addr().String())
	return nil
}

// Session returns the session the App drives.
func (a *App) Session() *session.Session { return a.session }

// ProbeHandler returns the handler behind the probe server.
func (a *App) ProbeHandler() http.Handler { return a.probe }

// ProbeAddr returns the bound probe server address, or "" when disabled.
func (a *App) ProbeAddr() string {
	if a.debugLn == nil {
		return ""
	}
	return a.debugLn.Addr().String()
}

// Reconfigure applies the hot-reloadable part of a config change. Sections
// listed in d.RestartRequired are only logged.
func (a *App) Reconfigure(d config.ConfigDiff) {
	if d.BackendChanged && a.session.SetBackend(session.Backend(d.NewBackend)) {
		slog.Info("app: speech backend reloaded", "backend", d.NewBackend)
		if d.NewBackend == config.BackendFallback {
			a.hooks.Notice(render.KindSystem, NoticeUseFallback)
		} else {
			a.hooks.Notice(render.KindSystem, NoticeUsePrimary)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config change needs a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects the streaming connection, starts polling and reading input,
// and executes the dispatch loop until ctx is cancelled, the input ends or
// the user quits. It returns ctx.Err() on cancellation and nil otherwise.
// Run may only be called once.
func (a *App) Run(ctx context.Context) error {
	started := false
	a.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("app: run called twice")
	}
	defer close(a.quit)
	ctx = observe.WithSessionID(ctx, a.sessionID)

	a.hooks.Status(render.StateLabel(a.session.Snapshot()))
	a.stream.OnEvent(func(ev stream.Event) { a.post(serverEvent{ev: ev}) })
	a.stream.Start(ctx)

	go a.poller.Run(ctx)
	go a.readInput()
	if a.debug != nil {
		go func() {
			if err := a.debug.Serve(a.debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("app: probe server error", "err", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			if done := a.handle(ctx, ev); done {
				return nil
			}
		}
	}
}

// post hands ev to the dispatch loop. It blocks while the inbox is full and
// drops ev once the loop has exited.
func (a *App) post(ev Event) {
	select {
	case a.events <- ev:
	case <-a.quit:
	}
}

// onSessionChange renders the new state label. Losing the connection while a
// listen cycle is open releases the microphone on the loop.
func (a *App) onSessionChange(snap session.Snapshot) {
	a.hooks.Status(render.StateLabel(snap))
	if !snap.Connected && a.listener != nil && a.listener.Active() {
		go a.post(connectionLost{})
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the microphone, halts playback and tears down all
// subsystems. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "session_id", a.sessionID, "closers", len(a.closers))

		// Release the microphone and the speaker first.
		a.listener.Stop()
		a.speech.Close()

		if a.debug != nil {
			if err := a.debug.Shutdown(ctx); err != nil {
				slog.Warn("app: probe server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
