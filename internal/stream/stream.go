// Package stream manages the persistent websocket connection to the
// streaming host.
//
// A [Manager] dials ws://host/ws/{session_id}?token=..., forwards every
// inbound text frame to one registered handler as an [Event] in arrival
// order, and writes control messages and binary audio frames. When the
// connection drops it marks the session disconnected, tells the user, and
// lets a fixed-delay [Reconnector] bring it back.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tutorvox/internal/observe"
	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/session"
)

// User-facing notices emitted on connection changes.
const (
	NoticeConnected    = "Connected to AI Teacher"
	NoticeDisconnected = "Disconnected from AI Teacher"
	NoticeError        = "Connection error occurred"
)

// readLimit bounds a single inbound message.
const readLimit = 1 << 20

// ErrNotConnected is returned by [Manager.SendControl] while no connection is
// open. Nothing is written in that case.
var ErrNotConnected = errors.New("stream: not connected")

// Frame drop reasons recorded on the frames_dropped metric.
const (
	dropDisconnected = "disconnected"
	dropNotListening = "not_listening"
)

// Config holds the connection parameters.
type Config struct {
	// URL is the ws or wss base URL of the streaming host.
	URL string

	// Token is carried as the token query parameter.
	Token string

	// ReconnectDelay is the fixed wait before each reconnect attempt.
	// Defaults to [DefaultReconnectDelay].
	ReconnectDelay time.Duration
}

// Option configures a [Manager].
type Option func(*Manager)

// WithHooks sets where connection notices are shown.
func WithHooks(h render.Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// WithMetrics records frames, events and reconnects on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithAfter overrides the reconnect timer. Used by tests.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(m *Manager) { m.after = after }
}

// Manager owns the streaming connection for one session.
type Manager struct {
	url     string
	delay   time.Duration
	session *session.Session
	hooks   render.Hooks
	metrics *observe.Metrics
	after   func(time.Duration) <-chan time.Time

	reconnector *Reconnector

	mu      sync.Mutex
	conn    *websocket.Conn
	handler func(Event)
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Manager for sess. It does not connect; call [Manager.Start].
func New(cfg Config, sess *session.Session, opts ...Option) (*Manager, error) {
	if sess == nil {
		return nil, errors.New("stream: session must not be nil")
	}
	u, err := DialURL(cfg.URL, sess.ID(), cfg.Token)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		url:     u,
		delay:   cfg.ReconnectDelay,
		session: sess,
		hooks:   render.Nop{},
	}
	for _, o := range opts {
		o(m)
	}
	m.reconnector = NewReconnector(ReconnectorConfig{
		Connect: m.connect,
		Delay:   m.delay,
		After:   m.after,
		Metrics: m.metrics,
	})
	return m, nil
}

// DialURL builds base/ws/{sessionID}?token={token}. base must use the ws or
// wss scheme.
func DialURL(base, sessionID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("stream: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("stream: url %q must use ws or wss", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("stream: url %q has no host", base)
	}
	if sessionID == "" {
		return "", errors.New("stream: session id must not be empty")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + sessionID
	u.RawPath = ""
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// URL returns the full dial URL, token included.
func (m *Manager) URL() string { return m.url }

// OnEvent registers fn as the sole consumer of inbound events. fn is called
// from the read goroutine, one event at a time, in arrival order. A later
// call replaces the previous handler.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Start makes the first connection attempt and starts the reconnect monitor.
// A failed first attempt is retried after the reconnect delay like any other
// drop; Start itself never fails.
func (m *Manager) Start(ctx context.Context) {
	m.reconnector.Monitor(ctx)
	if err := m.connect(ctx); err != nil {
		slog.Warn("stream: initial connect failed", "error", err)
		m.reconnector.NotifyDisconnect()
	}
}

// Connected reports whether a connection is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// connect performs one dial attempt and, on success, starts the read loop.
func (m *Manager) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, m.url, nil)
	if err != nil {
		if ctx.Err() == nil {
			m.hooks.Notice(render.KindError, NoticeError)
		}
		return fmt.Errorf("stream: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client closing")
		return errors.New("stream: manager closed")
	}
	m.conn = conn
	m.wg.Add(1)
	m.mu.Unlock()

	m.session.SetConnected(true)
	m.hooks.Connection(true)
	m.hooks.Notice(render.KindSystem, NoticeConnected)
	slog.Info("stream: connected", "session_id", m.session.ID())

	go m.readLoop(ctx, conn)
	return nil
}

// readLoop forwards inbound text frames until the connection ends, then
// reports the drop and schedules a reconnect.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer m.wg.Done()

	var err error
	for {
		var (
			typ  websocket.MessageType
			data []byte
		)
		typ, data, err = conn.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			slog.Debug("stream: dropping binary message", "bytes", len(data))
			continue
		}
		ev, perr := ParseEvent(data)
		if perr != nil {
			slog.Warn("stream: dropping malformed event", "error", perr)
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordServerEvent(ctx, ev.Type)
		}
		m.mu.Lock()
		fn := m.handler
		m.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	closed := m.closed
	m.mu.Unlock()
	_ = conn.CloseNow()

	if closed || ctx.Err() != nil {
		return
	}

	slog.Info("stream: disconnected", "session_id", m.session.ID(), "error", err)
	m.session.SetConnected(false)
	m.hooks.Connection(false)
	if websocket.CloseStatus(err) == -1 {
		m.hooks.Notice(render.KindError, NoticeError)
	}
	m.hooks.Notice(render.KindSystem, NoticeDisconnected)
	m.reconnector.NotifyDisconnect()
}

// SendControl writes msg as a JSON text frame. It returns [ErrNotConnected]
// without writing anything while disconnected.
func (m *Manager) SendControl(ctx context.Context, msg Control) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("stream: encode %s: %w", msg.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("stream: send %s: %w", msg.Type, err)
	}
	return nil
}

// SendAudioFrame writes frame as a binary message. The frame is silently
// dropped unless the session is both connected and listening.
func (m *Manager) SendAudioFrame(ctx context.Context, frame []byte) error {
	snap := m.session.Snapshot()
	if !snap.Connected {
		m.recordDrop(ctx, dropDisconnected)
		return nil
	}
	if !snap.Listening {
		m.recordDrop(ctx, dropNotListening)
		return nil
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		m.recordDrop(ctx, dropDisconnected)
		return nil
	}
	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("stream: send frame: %w", err)
	}
	if m.metrics != nil {
		m.metrics.RecordFrameSent(ctx)
	}
	return nil
}

func (m *Manager) recordDrop(ctx context.Context, reason string) {
	if m.metrics != nil {
		m.metrics.RecordFrameDropped(ctx, reason)
	}
}

// Close stops reconnecting, closes the connection and waits for the read
// loop to exit. Safe to call multiple times.
func (m *Manager) Close() error {
	m.reconnector.Stop()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
			slog.Debug("stream: close handshake", "error", err)
		}
	}
	m.wg.Wait()
	m.session.SetConnected(false)
	return nil
}
