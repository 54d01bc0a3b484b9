package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/tutorvox/internal/render"
	rendermock "github.com/MrWong99/tutorvox/internal/render/mock"
	"github.com/MrWong99/tutorvox/internal/session"
	"github.com/MrWong99/tutorvox/internal/speech"
	"github.com/MrWong99/tutorvox/internal/stream"
	"github.com/MrWong99/tutorvox/pkg/provider/tts"
	ttsmock "github.com/MrWong99/tutorvox/pkg/provider/tts/mock"
)

// fakeSpeaker records speech requests.
type fakeSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	urls     []string
	halts    int
	speaking bool
}

func (f *fakeSpeaker) Speak(_ context.Context, text, emotion string) *speech.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text+"|"+emotion)
	return nil
}

func (f *fakeSpeaker) PlayURL(_ context.Context, u string) *speech.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, u)
	return nil
}

func (f *fakeSpeaker) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

func (f *fakeSpeaker) Halt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halts++
}

func newDispatcher(opts ...Option) (*Dispatcher, *session.Session, *fakeSpeaker, *rendermock.Hooks) {
	sess := session.New()
	sess.SetConnected(true)
	sp := &fakeSpeaker{}
	hooks := &rendermock.Hooks{}
	d := New(sess, sp, append([]Option{WithHooks(hooks)}, opts...)...)
	return d, sess, sp, hooks
}

func TestDispatch_Notices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   stream.Event
		want rendermock.Line
	}{
		{
			name: "system",
			ev:   stream.Event{Type: stream.EventSystem, Message: "Welcome"},
			want: rendermock.Line{Kind: render.KindSystem, Text: "Welcome"},
		},
		{
			name: "transcription",
			ev:   stream.Event{Type: stream.EventTranscription, Text: "what is a cell", Confidence: 0.934},
			want: rendermock.Line{Kind: render.KindUser, Text: `"what is a cell" (confidence: 93.4%)`},
		},
		{
			name: "continuation",
			ev:   stream.Event{Type: stream.EventContinuationAvailable, Text: "mitosis"},
			want: rendermock.Line{Kind: render.KindSystem, Text: `Would you like me to continue explaining: "mitosis"?`},
		},
		{
			name: "interruption handled",
			ev:   stream.Event{Type: stream.EventInterruptionHandled},
			want: rendermock.Line{Kind: render.KindSystem, Text: NoticeInterruptionHandled},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, _, _, hooks := newDispatcher()
			if !d.Dispatch(t.Context(), tt.ev) {
				t.Fatal("no handler ran")
			}
			lines := hooks.Lines()
			if len(lines) != 1 || lines[0] != tt.want {
				t.Fatalf("lines = %+v, want [%+v]", lines, tt.want)
			}
		})
	}
}

func TestDispatch_Status(t *testing.T) {
	t.Parallel()

	d, _, _, hooks := newDispatcher()
	d.Dispatch(t.Context(), stream.Event{Type: stream.EventStatus, Message: "Processing..."})
	if s := hooks.Statuses(); len(s) != 1 || s[0] != "Processing..." {
		t.Fatalf("statuses = %v", s)
	}
	if len(hooks.Lines()) != 0 {
		t.Fatal("status must not add transcript lines")
	}
}

func TestDispatch_AIResponseSpeaks(t *testing.T) {
	t.Parallel()

	d, _, sp, hooks := newDispatcher()
	d.Dispatch(t.Context(), stream.Event{Type: stream.EventAIResponse, Text: "Plants convert light...", Emotion: "friendly"})

	want := rendermock.Line{Kind: render.KindAI, Text: "Plants convert light...", Emotion: "friendly"}
	if lines := hooks.Lines(); len(lines) != 1 || lines[0] != want {
		t.Fatalf("lines = %+v", lines)
	}
	if len(sp.spoken) != 1 || sp.spoken[0] != "Plants convert light...|friendly" {
		t.Fatalf("spoken = %v", sp.spoken)
	}
}

func TestReply_DefaultsEmotion(t *testing.T) {
	t.Parallel()

	d, _, sp, hooks := newDispatcher()
	d.Reply(t.Context(), "hello", "")
	if hooks.Lines()[0].Emotion != "default" || sp.spoken[0] != "hello|default" {
		t.Fatalf("lines = %+v spoken = %v", hooks.Lines(), sp.spoken)
	}
}

func TestDispatch_ServerErrors(t *testing.T) {
	t.Parallel()

	for _, tag := range []string{stream.EventError, stream.EventTTSError} {
		t.Run(tag, func(t *testing.T) {
			t.Parallel()
			d, sess, sp, hooks := newDispatcher()
			sess.SetSpeaking(true)

			d.Dispatch(t.Context(), stream.Event{Type: tag, Message: "synthesis failed"})

			if hooks.Count(render.KindError, "synthesis failed") != 1 {
				t.Fatalf("lines = %+v", hooks.Lines())
			}
			if sp.halts != 1 {
				t.Fatalf("halts = %d, want 1", sp.halts)
			}
			snap := sess.Snapshot()
			if snap.State() != session.StateError || snap.Speaking || snap.LastError != "synthesis failed" {
				t.Fatalf("snapshot = %+v", snap)
			}
		})
	}
}

func TestDispatch_InterruptionHandledClearsSpeaking(t *testing.T) {
	t.Parallel()

	d, sess, sp, _ := newDispatcher()
	sess.SetSpeaking(true)

	d.Dispatch(t.Context(), stream.Event{Type: stream.EventInterruptionHandled})
	if sess.Speaking() || sess.State() != session.StateIdle {
		t.Fatalf("state = %v, want Idle", sess.State())
	}
	if sp.halts != 0 {
		t.Fatalf("halts = %d, want 0", sp.halts)
	}
}

func TestDispatch_InterruptionHandledKeepsNewerReply(t *testing.T) {
	t.Parallel()

	sess := session.New()
	sess.SetConnected(true)
	local := &ttsmock.Backend{NameValue: "local", Block: true, Started: make(chan tts.Utterance, 2)}
	ctrl, err := speech.New(sess, speech.Config{Fallback: local})
	if err != nil {
		t.Fatalf("speech.New: %v", err)
	}
	defer ctrl.Close()
	d := New(sess, ctrl)

	first := d.Reply(t.Context(), "long answer", "default")
	<-local.Started
	if !ctrl.Interrupt() {
		t.Fatal("Interrupt refused")
	}
	if !errors.Is(first.Wait(), context.Canceled) {
		t.Fatalf("first err = %v, want Canceled", first.Wait())
	}

	// The reply to the interrupt text arrives before the acknowledgement.
	second := d.Reply(t.Context(), "short answer", "friendly")
	<-local.Started
	d.Dispatch(t.Context(), stream.Event{Type: stream.EventInterruptionHandled})

	select {
	case <-second.Done():
		t.Fatal("acknowledgement tore down the newer reply")
	default:
	}
	if !sess.Speaking() || !ctrl.Speaking() {
		t.Fatalf("state = %v, want Speaking", sess.State())
	}
}

func TestDispatch_TTSComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     bool
		backend session.Backend
		ev      stream.Event
		play    bool
	}{
		{"streaming mode ignores", false, session.BackendPrimary, stream.Event{Success: true, AudioURL: "/a.wav"}, false},
		{"fallback backend ignores", true, session.BackendFallback, stream.Event{Success: true, AudioURL: "/a.wav"}, false},
		{"failure ignored", true, session.BackendPrimary, stream.Event{Success: false, AudioURL: "/a.wav"}, false},
		{"missing url ignored", true, session.BackendPrimary, stream.Event{Success: true}, false},
		{"plays", true, session.BackendPrimary, stream.Event{Success: true, AudioURL: "/a.wav"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, sess, sp, _ := newDispatcher(WithURLDelivery(tt.url))
			sess.SetBackend(tt.backend)
			ev := tt.ev
			ev.Type = stream.EventTTSComplete
			d.Dispatch(t.Context(), ev)
			if got := len(sp.urls) == 1; got != tt.play {
				t.Fatalf("played = %v (%v), want %v", got, sp.urls, tt.play)
			}
			if tt.play && sp.urls[0] != "/a.wav" {
				t.Fatalf("url = %q", sp.urls[0])
			}
		})
	}
}

func TestDispatch_UnknownTagDropped(t *testing.T) {
	t.Parallel()

	d, sess, sp, hooks := newDispatcher()
	before := sess.Snapshot()
	if d.Dispatch(t.Context(), stream.Event{Type: "telemetry"}) {
		t.Fatal("unknown tag should not be handled")
	}
	if len(hooks.Lines()) != 0 || len(sp.spoken) != 0 || sess.Snapshot() != before {
		t.Fatal("unknown tag must have no effect")
	}
}

func TestRegister_OverridesHandler(t *testing.T) {
	t.Parallel()

	d, _, _, hooks := newDispatcher()
	var got []string
	d.Register(stream.EventSystem, func(_ context.Context, ev stream.Event) { got = append(got, ev.Message) })
	d.Register("quiz", func(_ context.Context, ev stream.Event) { got = append(got, "quiz:"+ev.Text) })

	d.Dispatch(t.Context(), stream.Event{Type: stream.EventSystem, Message: "hi"})
	d.Dispatch(t.Context(), stream.Event{Type: "quiz", Text: "q1"})
	if len(got) != 2 || got[0] != "hi" || got[1] != "quiz:q1" {
		t.Fatalf("got = %v", got)
	}
	if len(hooks.Lines()) != 0 {
		t.Fatal("default system handler should have been replaced")
	}
}
