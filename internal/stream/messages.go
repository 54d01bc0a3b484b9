package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Server event tags.
const (
	EventSystem                = "system"
	EventStatus                = "status"
	EventTranscription         = "transcription"
	EventAIResponse            = "ai_response"
	EventTTSComplete           = "tts_complete"
	EventTTSError              = "tts_error"
	EventInterruptionHandled   = "interruption_handled"
	EventContinuationAvailable = "continuation_available"
	EventError                 = "error"
)

// ErrMalformedEvent is returned by [ParseEvent] for payloads that are not a
// JSON object with a string "type" field.
var ErrMalformedEvent = errors.New("stream: malformed server event")

// Event is one inbound server message. Which fields are set depends on Type.
type Event struct {
	Type string `json:"type"`

	// Message is set for system, status, tts_error and error.
	Message string `json:"message,omitempty"`

	// Text is set for transcription, ai_response and continuation_available.
	Text string `json:"text,omitempty"`

	// Confidence is the recognition confidence in [0,1] for transcription.
	Confidence float64 `json:"confidence,omitempty"`

	// Emotion tags ai_response.
	Emotion string `json:"emotion,omitempty"`

	// Success and AudioURL are set for tts_complete.
	Success  bool   `json:"success,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`

	SessionID string `json:"session_id,omitempty"`
}

// ParseEvent decodes one text frame. Unknown tags parse successfully; routing
// decides what to do with them.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}

// Control message tags.
const (
	ControlStartListening = "start_listening"
	ControlInterrupt      = "interrupt"
)

// Control is an outbound structured message sent as a text frame.
type Control struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StartListening announces that audio frames are about to follow.
func StartListening() Control {
	return Control{Type: ControlStartListening}
}

// Interrupt tells the server the user cut the answer short with text.
func Interrupt(text string) Control {
	return Control{Type: ControlInterrupt, Text: text}
}
