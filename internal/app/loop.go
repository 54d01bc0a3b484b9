package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/tutorvox/internal/observe"
	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/session"
	"github.com/MrWong99/tutorvox/internal/stream"
	"github.com/MrWong99/tutorvox/pkg/provider/chat"
	"github.com/MrWong99/tutorvox/pkg/provider/tts/openvoice"
)

// User-facing notices emitted by the dispatch loop.
const (
	NoticeTimeout        = "Request timed out. Please try again."
	NoticeChatFailed     = "Failed to get response from AI"
	NoticeCleared        = "Conversation cleared"
	NoticeServerCleared  = "Session cleared on server"
	NoticeNotConnected   = "Not connected to AI Teacher"
	NoticeHistoryFailed  = "Failed to load history"
	NoticeHistoryEmpty   = "No history on server"
	NoticeExportFailed   = "Failed to export conversation"
	NoticeStatusFailed   = "Failed to get TTS status"
	NoticeStatusMissing  = "TTS status not available"
	NoticeUsePrimary     = "Using OpenVoice TTS"
	NoticeUseFallback    = "Using local TTS"
	NoticeUnknownBackend = "Usage: /tts primary|fallback"
)

// helpText lists the commands understood on the input.
const helpText = `Commands:
  /listen             start or stop the microphone
  /interrupt          cut the current answer short and ask something else
  /stop               stop listening and speaking
  /tts primary|fallback  select the speech backend
  /clear              clear the conversation here and on the server
  /history            show the server-side conversation history
  /export             write the transcript to a JSON file
  /status             show the synthesis service status
  /health             check the three services now
  /quit               exit
Any other line is sent to the tutor.`

// ─── Events ──────────────────────────────────────────────────────────────────

// Event is one unit of work for the dispatch loop.
type Event interface {
	event()
}

type (
	// serverEvent is a message from the streaming connection.
	serverEvent struct{ ev stream.Event }

	// inputLine is one line typed by the user.
	inputLine struct{ text string }

	// inputClosed reports the end of the input.
	inputClosed struct{ err error }

	// connectionLost asks the loop to end an open listen cycle.
	connectionLost struct{}

	// chatDone completes a chat turn.
	chatDone struct {
		reply *chat.Reply
		err   error
	}

	// historyDone completes a history request.
	historyDone struct {
		entries []chat.HistoryEntry
		err     error
	}

	// clearDone completes a server-side clear.
	clearDone struct{ err error }

	// statusDone completes a synthesis status request.
	statusDone struct {
		status *openvoice.Status
		err    error
	}
)

func (serverEvent) event()    {}
func (inputLine) event()      {}
func (inputClosed) event()    {}
func (connectionLost) event() {}
func (chatDone) event()       {}
func (historyDone) event()    {}
func (clearDone) event()      {}
func (statusDone) event()     {}

// handle reacts to one event and reports whether the loop should end.
func (a *App) handle(ctx context.Context, ev Event) bool {
	switch ev := ev.(type) {
	case serverEvent:
		a.dispatcher.Dispatch(ctx, ev.ev)
	case inputLine:
		return a.handleLine(ctx, ev.text)
	case inputClosed:
		if ev.err != nil {
			slog.Warn("app: input failed", "err", ev.err)
		}
		slog.Info("app: input closed")
		return true
	case connectionLost:
		a.listener.Stop()
	case chatDone:
		a.finishTurn(ctx, ev)
	case historyDone:
		a.showHistory(ev)
	case clearDone:
		if ev.err != nil {
			slog.Warn("app: clear server session failed", "session_id", a.sessionID, "err", ev.err)
			return false
		}
		a.hooks.Notice(render.KindSystem, NoticeServerCleared)
	case statusDone:
		a.showStatus(ev)
	default:
		slog.Debug("app: unknown event", "type", fmt.Sprintf("%T", ev))
	}
	return false
}

// readInput posts every input line and then the end of the input.
func (a *App) readInput() {
	sc := bufio.NewScanner(a.input)
	for sc.Scan() {
		a.post(inputLine{text: sc.Text()})
	}
	a.post(inputClosed{err: sc.Err()})
}

// ─── Input ───────────────────────────────────────────────────────────────────

// handleLine runs a command or submits a turn.
func (a *App) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if a.pendingInterrupt {
		a.pendingInterrupt = false
		if line == "" || strings.HasPrefix(line, "/") {
			slog.Debug("app: interrupt abandoned")
		} else {
			a.sendInterrupt(ctx, line)
			return false
		}
	}
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		return a.command(ctx, line)
	}
	if !a.session.Connected() {
		a.hooks.Notice(render.KindError, NoticeNotConnected)
		return false
	}
	a.submit(ctx, line)
	return false
}

// sendInterrupt tells the server what the user asked instead and submits it
// as a new turn.
func (a *App) sendInterrupt(ctx context.Context, text string) {
	if err := a.stream.SendControl(ctx, stream.Interrupt(text)); err != nil {
		slog.Warn("app: send interrupt", "err", err)
	}
	a.submit(ctx, text)
}

// command runs one slash command and reports whether the loop should end.
func (a *App) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/listen":
		a.listener.Toggle(ctx)
	case "/interrupt":
		if a.speech.Interrupt() {
			a.pendingInterrupt = true
		}
	case "/stop":
		a.stop(ctx)
	case "/tts":
		a.selectBackend(arg)
	case "/clear":
		a.clear(ctx)
	case "/history":
		go func() {
			entries, err := a.chat.History(ctx)
			a.post(historyDone{entries: entries, err: err})
		}()
	case "/export":
		path, err := a.recorder.WriteFile(a.exportDir)
		if err != nil {
			slog.Warn("app: export transcript", "err", err)
			a.hooks.Notice(render.KindError, NoticeExportFailed)
			return false
		}
		a.hooks.Notice(render.KindSystem, "Conversation exported to "+path)
	case "/status":
		if a.status == nil {
			a.hooks.Notice(render.KindError, NoticeStatusMissing)
			return false
		}
		go func() {
			st, err := a.status.Status(ctx)
			a.post(statusDone{status: st, err: err})
		}()
	case "/health":
		go a.poller.Check(ctx)
	case "/help":
		a.hooks.Notice(render.KindSystem, helpText)
	case "/quit", "/exit":
		return true
	default:
		a.hooks.Notice(render.KindError, fmt.Sprintf("Unknown command %s (try /help)", name))
	}
	return false
}

// stop ends listening and speaking and tells the synthesis service to stop.
// It does nothing while disconnected.
func (a *App) stop(ctx context.Context) {
	if !a.session.Connected() {
		return
	}
	a.listener.Stop()
	a.speech.Stop(ctx)
}

// selectBackend switches the speech backend for the next utterance.
func (a *App) selectBackend(arg string) {
	b := session.Backend(strings.ToLower(arg))
	if !a.session.SetBackend(b) {
		a.hooks.Notice(render.KindError, NoticeUnknownBackend)
		return
	}
	slog.Info("app: speech backend selected", "backend", b)
	if b == session.BackendFallback {
		a.hooks.Notice(render.KindSystem, NoticeUseFallback)
		return
	}
	a.hooks.Notice(render.KindSystem, NoticeUsePrimary)
}

// clear forgets the local transcript at once and the server session in the
// background.
func (a *App) clear(ctx context.Context) {
	a.recorder.Clear()
	a.hooks.Notice(render.KindSystem, NoticeCleared)
	go func() {
		a.post(clearDone{err: a.chat.Clear(ctx)})
	}()
}

// ─── Turns ───────────────────────────────────────────────────────────────────

// submit shows text, marks the session processing and sends the turn in the
// background.
func (a *App) submit(ctx context.Context, text string) {
	a.hooks.Notice(render.KindUser, text)
	a.session.SetProcessing(true)

	go func() {
		ctx, span := observe.StartSpan(ctx, "chat.turn")
		defer span.End()

		start := time.Now()
		reply, err := a.chat.Send(ctx, text)
		a.metrics.RecordChat(ctx, observe.Status(err), time.Since(start))
		observe.Fail(span, err)
		a.post(chatDone{reply: reply, err: err})
	}()
}

// finishTurn speaks a reply or reports why there is none.
func (a *App) finishTurn(ctx context.Context, ev chatDone) {
	if ev.err != nil {
		msg := NoticeChatFailed
		if errors.Is(ev.err, chat.ErrTimeout) {
			msg = NoticeTimeout
		}
		slog.Warn("app: chat turn failed", "session_id", a.sessionID, "err", ev.err)
		a.hooks.Notice(render.KindError, msg)
		a.session.SetError(msg)
		return
	}
	a.dispatcher.Reply(ctx, ev.reply.AIResponse, ev.reply.Emotion)
}

func (a *App) showHistory(ev historyDone) {
	if ev.err != nil {
		slog.Warn("app: load history", "err", ev.err)
		a.hooks.Notice(render.KindError, NoticeHistoryFailed)
		return
	}
	if len(ev.entries) == 0 {
		a.hooks.Notice(render.KindSystem, NoticeHistoryEmpty)
		return
	}
	for _, e := range ev.entries {
		a.hooks.Notice(render.KindSystem, fmt.Sprintf("%s: %s", e.Role, e.Text))
	}
}

func (a *App) showStatus(ev statusDone) {
	if ev.err != nil {
		slog.Warn("app: tts status", "err", ev.err)
		a.hooks.Notice(render.KindError, NoticeStatusFailed)
		return
	}
	st := ev.status
	msg := fmt.Sprintf("TTS active: %t, speaking: %t", st.TTSActive, st.IsSpeaking)
	if st.CurrentText != "" {
		msg += fmt.Sprintf(", text: %q", st.CurrentText)
	}
	a.hooks.Notice(render.KindSystem, msg)
}
