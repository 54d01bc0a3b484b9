// Package chat provides a REST client for the conversation orchestrator: the
// service that turns a typed user turn into an assistant reply with an
// emotion tag, and that owns the server-side conversation history.
//
// Endpoints:
//
//	POST   /chat                      {session_id, message} -> Reply
//	GET    /sessions/{id}/history     -> {session_id, history: ["role::text", ...]}
//	DELETE /sessions/{id}             -> {session_id, message}
//
// Send applies a per-turn deadline (30 s by default) and reports expiry as
// [ErrTimeout] so the caller can show a retry hint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds one chat turn.
const DefaultTimeout = 30 * time.Second

const maxErrorBodyBytes = 512

// ErrTimeout is returned by Send when the turn deadline expires before the
// orchestrator answers.
var ErrTimeout = errors.New("chat: request timed out")

// Provider is the orchestrator surface the session runtime depends on.
type Provider interface {
	// Send submits one user turn and returns the assistant reply.
	Send(ctx context.Context, message string) (*Reply, error)

	// History returns the server-side conversation for the session.
	History(ctx context.Context) ([]HistoryEntry, error)

	// Clear deletes the server-side conversation for the session.
	Clear(ctx context.Context) error
}

var _ Provider = (*Client)(nil)

// Reply is the JSON body returned by POST /chat.
type Reply struct {
	SessionID      string  `json:"session_id"`
	UserMessage    string  `json:"user_message"`
	AIResponse     string  `json:"ai_response"`
	Emotion        string  `json:"emotion"`
	ProcessingTime float64 `json:"processing_time"`
	AudioURL       string  `json:"audio_url,omitempty"`
	AudioDuration  float64 `json:"audio_duration"`
	TTSSuccess     bool    `json:"tts_success"`
	TTSError       string  `json:"tts_error,omitempty"`
}

// HistoryEntry is one decoded line of the server-side conversation.
type HistoryEntry struct {
	Role string
	Text string
}

// ParseHistoryEntry splits a "role::text" line. Lines without a separator
// are returned with an empty Role.
func ParseHistoryEntry(line string) HistoryEntry {
	role, text, ok := strings.Cut(line, "::")
	if !ok {
		return HistoryEntry{Text: line}
	}
	return HistoryEntry{Role: role, Text: text}
}

// StatusError reports a non-2xx response from the orchestrator.
type StatusError struct {
	Op   string
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.Code, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-turn deadline applied by Send.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// Client implements Provider over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL    string
	sessionID  string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client for the orchestrator at baseURL.
func New(baseURL, sessionID string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("chat: baseURL must not be empty")
	}
	if sessionID == "" {
		return nil, errors.New("chat: sessionID must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionID:  sessionID,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Send implements Provider.
func (c *Client) Send(ctx context.Context, message string) (*Reply, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"session_id": c.sessionID,
		"message":    message,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrTimeout) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("chat: POST /chat: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("POST /chat", resp); err != nil {
		return nil, err
	}
	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		if errors.Is(context.Cause(ctx), ErrTimeout) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("chat: decode reply: %w", err)
	}
	if reply.Emotion == "" {
		reply.Emotion = "default"
	}
	return &reply, nil
}

// History implements Provider.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	path := "/sessions/" + url.PathEscape(c.sessionID) + "/history"
	resp, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		SessionID string   `json:"session_id"`
		History   []string `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("chat: decode history: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(payload.History))
	for _, line := range payload.History {
		entries = append(entries, ParseHistoryEntry(line))
	}
	return entries, nil
}

// Clear implements Provider.
func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(c.sessionID))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// do issues a body-less request and checks its status.
func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("chat: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: %s %s: %w", method, path, err)
	}
	if err := checkStatus(method+" "+path, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return fmt.Errorf("chat: %w", &StatusError{
		Op:   op,
		Code: resp.StatusCode,
		Body: strings.TrimSpace(string(body)),
	})
}
