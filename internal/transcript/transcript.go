// Package transcript keeps the visible conversation in memory and exports it
// as JSON on demand.
//
// [Recorder] is a [render.Hooks] implementation, so it sees exactly the lines
// the user sees. Nothing is persisted unless [Recorder.WriteFile] is called.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/tutorvox/internal/render"
)

// TimeLayout is how each message's display time is recorded.
const TimeLayout = "15:04:05"

var _ render.Hooks = (*Recorder)(nil)

// Message is one transcript line.
type Message struct {
	Type    render.Kind `json:"type"`
	Content string      `json:"content"`
	Time    string      `json:"time"`

	// Emotion tags assistant lines.
	Emotion string `json:"emotion,omitempty"`
}

// Export is the document written by [Recorder.WriteFile].
type Export struct {
	SessionID  string    `json:"session_id"`
	Messages   []Message `json:"messages"`
	ExportedAt time.Time `json:"exported_at"`
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder collects transcript lines for one session. It is safe for
// concurrent use.
type Recorder struct {
	render.Nop

	sessionID string
	now       func() time.Time

	mu       sync.Mutex
	messages []Message
}

// NewRecorder creates an empty Recorder for sessionID.
func NewRecorder(sessionID string, opts ...Option) *Recorder {
	r := &Recorder{sessionID: sessionID, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Notice implements [render.Hooks].
func (r *Recorder) Notice(kind render.Kind, text string) {
	r.append(Message{Type: kind, Content: text})
}

// Assistant implements [render.Hooks].
func (r *Recorder) Assistant(text, emotion string) {
	r.append(Message{Type: render.KindAI, Content: text, Emotion: emotion})
}

func (r *Recorder) append(m Message) {
	m.Time = r.now().Format(TimeLayout)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

// Messages returns a copy of the recorded lines in order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Len returns the number of recorded lines.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Clear drops every recorded line.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// Export snapshots the transcript.
func (r *Recorder) Export() Export {
	msgs := r.Messages()
	if msgs == nil {
		msgs = []Message{}
	}
	return Export{
		SessionID:  r.sessionID,
		Messages:   msgs,
		ExportedAt: r.now().UTC(),
	}
}

// FileName is the export file name for sessionID at t.
func FileName(sessionID string, t time.Time) string {
	return fmt.Sprintf("conversation_%s_%d.json", sessionID, t.UnixMilli())
}

// WriteFile writes the export as indented JSON into dir and returns the path
// of the new file.
func (r *Recorder) WriteFile(dir string) (string, error) {
	exp := r.Export()
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("transcript: marshal: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, FileName(exp.SessionID, exp.ExportedAt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("transcript: write: %w", err)
	}
	return path, nil
}
