package render_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tutorvox/internal/health"
	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/render/mock"
	"github.com/MrWong99/tutorvox/internal/session"
)

func TestFormatTranscription(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		conf float64
		want string
	}{
		{"hello", 0.95, `"hello" (confidence: 95.0%)`},
		{"what is gravity", 0.875, `"what is gravity" (confidence: 87.5%)`},
		{"what is gravity", 0.8765, `"what is gravity" (confidence: 87.6%)`},
		{"", 0, `"" (confidence: 0.0%)`},
	}
	for _, tc := range tests {
		if got := render.FormatTranscription(tc.text, tc.conf); got != tc.want {
			t.Errorf("FormatTranscription(%q, %v) = %q, want %q", tc.text, tc.conf, got, tc.want)
		}
	}
}

func TestStateLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		snap session.Snapshot
		want string
	}{
		{session.Snapshot{}, "Idle"},
		{session.Snapshot{Listening: true}, "Listening..."},
		{session.Snapshot{Processing: true}, "Processing..."},
		{session.Snapshot{Speaking: true, Backend: session.BackendPrimary}, "Speaking (OpenVoice)..."},
		{session.Snapshot{Speaking: true, Backend: session.BackendFallback}, "Speaking (Local TTS)..."},
		{session.Snapshot{Errored: true, Speaking: true}, "Error"},
	}
	for _, tc := range tests {
		if got := render.StateLabel(tc.snap); got != tc.want {
			t.Errorf("StateLabel(%+v) = %q, want %q", tc.snap, got, tc.want)
		}
	}
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)
}

func TestTerminal_Lines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := render.NewTerminal(&buf, render.WithClock(fixedClock))

	term.Notice(render.KindSystem, "Connected to AI Teacher")
	term.Notice(render.KindError, "Connection error occurred")
	term.Notice(render.KindUser, "what is a noun?")
	term.Assistant("A noun names a thing.", "cheerful")
	term.Connection(true)
	term.Connection(false)
	term.Status("Listening...")
	term.Prompt("What would you like to ask?")

	out := buf.String()
	for _, want := range []string{
		"14:05:09 system Connected to AI Teacher",
		"error Connection error occurred",
		"you what is a noun?",
		"teacher A noun names a thing. [cheerful]",
		"● Connected",
		"○ Disconnected",
		"state Listening...",
		"? What would you like to ask?",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 8 {
		t.Errorf("lines = %d, want 8", n)
	}
}

func TestTerminal_Health(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := render.NewTerminal(&buf)
	term.Health([]health.ServiceStatus{
		{Name: "ASR Service", Status: health.StatusHealthy},
		{Name: "Orchestrator", Status: health.StatusUnhealthy},
		{Name: "TTS Service", Status: health.StatusUnreachable},
	})

	out := buf.String()
	for _, want := range []string{
		"Services",
		"ASR Service: healthy",
		"Orchestrator: unhealthy",
		"TTS Service: unreachable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMulti_FansOut(t *testing.T) {
	t.Parallel()

	a, b := &mock.Hooks{}, &mock.Hooks{}
	h := render.Multi(a, b, render.Nop{})

	h.Notice(render.KindSystem, "Stopped")
	h.Assistant("hi", "default")
	h.Connection(true)
	h.Status("Idle")
	h.Health(nil)
	h.Prompt("?")

	for i, m := range []*mock.Hooks{a, b} {
		if len(m.Lines()) != 2 || m.Count(render.KindSystem, "Stopped") != 1 {
			t.Errorf("hooks %d lines = %+v", i, m.Lines())
		}
		if len(m.Connections()) != 1 || len(m.Statuses()) != 1 || len(m.HealthRounds()) != 1 || len(m.Prompts()) != 1 {
			t.Errorf("hooks %d missed a call", i)
		}
	}
}
