package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/tutorvox/internal/health"
)

// styles holds the lipgloss styles bound to one renderer.
type styles struct {
	timestamp lipgloss.Style
	system    lipgloss.Style
	error     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	emotion   lipgloss.Style
	status    lipgloss.Style
	online    lipgloss.Style
	offline   lipgloss.Style
	section   lipgloss.Style
	healthy   lipgloss.Style
	unhealthy lipgloss.Style
	prompt    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		timestamp: r.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
		system:    r.NewStyle().Foreground(lipgloss.Color("243")),
		error:     r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		user:      r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		assistant: r.NewStyle().Foreground(lipgloss.Color("135")).Bold(true),
		emotion:   r.NewStyle().Foreground(lipgloss.Color("212")),
		status:    r.NewStyle().Foreground(lipgloss.Color("62")).Bold(true),
		online:    r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		offline:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		section:   r.NewStyle().Foreground(lipgloss.Color("62")).Bold(true).Underline(true),
		healthy:   r.NewStyle().Foreground(lipgloss.Color("42")),
		unhealthy: r.NewStyle().Foreground(lipgloss.Color("214")),
		prompt:    r.NewStyle().Foreground(lipgloss.Color("39")),
	}
}

// TerminalOption configures a [Terminal].
type TerminalOption func(*Terminal)

// WithClock overrides the time source used for line timestamps.
func WithClock(now func() time.Time) TerminalOption {
	return func(t *Terminal) { t.now = now }
}

// Terminal writes styled lines to a stream. Colour is enabled only when the
// stream is a terminal that supports it.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	now    func() time.Time
	styles styles
}

var _ Hooks = (*Terminal)(nil)

// NewTerminal creates a Terminal writing to w.
func NewTerminal(w io.Writer, opts ...TerminalOption) *Terminal {
	t := &Terminal{
		w:      w,
		now:    time.Now,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Notice implements [Hooks].
func (t *Terminal) Notice(kind Kind, text string) {
	var label string
	style := t.styles.system
	switch kind {
	case KindError:
		label, style = "error", t.styles.error
	case KindUser:
		label, style = "you", t.styles.user
	case KindAI:
		label, style = "teacher", t.styles.assistant
	default:
		label = "system"
	}
	t.line(style.Render(label) + " " + text)
}

// Assistant implements [Hooks].
func (t *Terminal) Assistant(text, emotion string) {
	out := t.styles.assistant.Render("teacher") + " " + text
	if emotion != "" {
		out += " " + t.styles.emotion.Render("["+emotion+"]")
	}
	t.line(out)
}

// Connection implements [Hooks].
func (t *Terminal) Connection(connected bool) {
	if connected {
		t.line(t.styles.online.Render("● Connected"))
		return
	}
	t.line(t.styles.offline.Render("○ Disconnected"))
}

// Status implements [Hooks].
func (t *Terminal) Status(label string) {
	t.line(t.styles.status.Render("state") + " " + label)
}

// Health implements [Hooks].
func (t *Terminal) Health(services []health.ServiceStatus) {
	var b strings.Builder
	b.WriteString(t.styles.section.Render("Services"))
	for _, s := range services {
		style := t.styles.healthy
		switch s.Status {
		case health.StatusUnhealthy:
			style = t.styles.unhealthy
		case health.StatusUnreachable:
			style = t.styles.error
		}
		fmt.Fprintf(&b, "\n  %s: %s", s.Name, style.Render(string(s.Status)))
	}
	t.write(b.String() + "\n")
}

// Prompt implements [Hooks].
func (t *Terminal) Prompt(text string) {
	t.line(t.styles.prompt.Render("?") + " " + text)
}

func (t *Terminal) line(s string) {
	t.write(t.styles.timestamp.Render(t.now().Format("15:04:05")) + " " + s + "\n")
}

func (t *Terminal) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, s)
}
