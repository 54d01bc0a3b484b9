// Package mock provides a recording implementation of [render.Hooks] for
// tests.
package mock

import (
	"sync"

	"github.com/MrWong99/tutorvox/internal/health"
	"github.com/MrWong99/tutorvox/internal/render"
)

// Line is one recorded transcript entry.
type Line struct {
	Kind    render.Kind
	Text    string
	Emotion string
}

// Hooks records every call.
type Hooks struct {
	mu          sync.Mutex
	lines       []Line
	connections []bool
	statuses    []string
	health      [][]health.ServiceStatus
	prompts     []string
}

var _ render.Hooks = (*Hooks)(nil)

// Notice implements [render.Hooks].
func (h *Hooks) Notice(kind render.Kind, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, Line{Kind: kind, Text: text})
}

// Assistant implements [render.Hooks].
func (h *Hooks) Assistant(text, emotion string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, Line{Kind: render.KindAI, Text: text, Emotion: emotion})
}

// Connection implements [render.Hooks].
func (h *Hooks) Connection(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections = append(h.connections, connected)
}

// Status implements [render.Hooks].
func (h *Hooks) Status(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, label)
}

// Health implements [render.Hooks].
func (h *Hooks) Health(services []health.ServiceStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health = append(h.health, append([]health.ServiceStatus(nil), services...))
}

// Prompt implements [render.Hooks].
func (h *Hooks) Prompt(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = append(h.prompts, text)
}

// Lines returns a copy of all transcript lines.
func (h *Hooks) Lines() []Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Line(nil), h.lines...)
}

// Texts returns the text of every line of the given kind.
func (h *Hooks) Texts(kind render.Kind) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, l := range h.lines {
		if l.Kind == kind {
			out = append(out, l.Text)
		}
	}
	return out
}

// Count returns how many lines with exactly this kind and text were recorded.
func (h *Hooks) Count(kind render.Kind, text string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.lines {
		if l.Kind == kind && l.Text == text {
			n++
		}
	}
	return n
}

// Connections returns a copy of every connection update.
func (h *Hooks) Connections() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.connections...)
}

// Statuses returns a copy of every status label.
func (h *Hooks) Statuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses...)
}

// HealthRounds returns a copy of every health table update.
func (h *Hooks) HealthRounds() [][]health.ServiceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]health.ServiceStatus(nil), h.health...)
}

// Prompts returns a copy of every prompt.
func (h *Hooks) Prompts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.prompts...)
}

// Reset clears all recorded calls.
func (h *Hooks) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = nil
	h.connections = nil
	h.statuses = nil
	h.health = nil
	h.prompts = nil
}
