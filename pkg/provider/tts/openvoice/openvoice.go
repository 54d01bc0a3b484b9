// Package openvoice provides the primary TTS backend: a REST client for the
// session-scoped OpenVoice synthesis service. It implements tts.Backend.
//
// Two delivery modes are supported:
//
//   - DeliveryStreaming (default): POST /synthesize_stream returns the WAV
//     bytes directly in the response body.
//
//   - DeliveryURL: POST /synthesize returns JSON metadata with an audio_url
//     that is fetched with a second GET. Relative URLs are resolved against
//     the service base URL.
//
// Either way the payload is handed to an audio.Player, and Speak returns when
// playback finishes. A zero-length payload is reported as tts.ErrEmptyAudio
// and a non-2xx response as *tts.StatusError so the caller can fall back.
//
// Typical usage:
//
//	p, err := openvoice.New("http://localhost:8002", sessionID, player,
//	    openvoice.WithTimeout(60*time.Second),
//	)
//	err = p.Speak(ctx, tts.Utterance{Text: "Hello", Emotion: tts.EmotionFriendly})
package openvoice

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

	"github.com/MrWong99/tutorvox/pkg/audio"
	"github.com/MrWong99/tutorvox/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Backend = (*Provider)(nil)

// ---- constants ----

const (
	defaultTimeout       = 60 * time.Second
	synthesizeStreamPath = "/synthesize_stream"
	synthesizePath       = "/synthesize"
	stopPathPrefix       = "/stop/"
	statusPathPrefix     = "/status/"
	maxErrorBodyBytes    = 512
	maxAudioPayloadBytes = 64 << 20
	backendName          = "openvoice"
)

// ---- Delivery ----

// Delivery selects how synthesised audio reaches the client.
type Delivery string

const (
	// DeliveryStreaming receives audio bytes in the synthesis response body.
	DeliveryStreaming Delivery = "streaming"

	// DeliveryURL receives an audio location and fetches it separately.
	DeliveryURL Delivery = "url"
)

// IsValid reports whether d is a recognised delivery mode.
func (d Delivery) IsValid() bool {
	return d == DeliveryStreaming || d == DeliveryURL
}

// ---- options ----

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithDelivery selects the delivery mode. Defaults to [DeliveryStreaming].
func WithDelivery(d Delivery) Option {
	return func(p *Provider) {
		if d.IsValid() {
			p.delivery = d
		}
	}
}

// ---- Provider ----

// Provider implements tts.Backend against the OpenVoice REST API. It is safe
// for concurrent use.
type Provider struct {
	baseURL    string
	sessionID  string
	player     audio.Player
	httpClient *http.Client
	delivery   Delivery
}

// New creates a Provider for the service at baseURL (e.g.
// "http://localhost:8002"). Every request carries sessionID. player renders
// the synthesised audio.
func New(baseURL, sessionID string, player audio.Player, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("openvoice: baseURL must not be empty")
	}
	if sessionID == "" {
		return nil, errors.New("openvoice: sessionID must not be empty")
	}
	if player == nil {
		return nil, errors.New("openvoice: player must not be nil")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionID:  sessionID,
		player:     player,
		httpClient: &http.Client{Timeout: defaultTimeout},
		delivery:   DeliveryStreaming,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// synthesizeRequest is the JSON body for both synthesis endpoints.
type synthesizeRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
	Stream    bool   `json:"stream,omitempty"`
}

// SynthesisResult is the JSON body returned by POST /synthesize.
type SynthesisResult struct {
	Success       bool    `json:"success"`
	AudioURL      string  `json:"audio_url"`
	AudioDuration float64 `json:"audio_duration"`
}

// Status is the JSON body returned by GET /status/{session_id}.
type Status struct {
	SessionID   string `json:"session_id"`
	IsSpeaking  bool   `json:"is_speaking"`
	CurrentText string `json:"current_text"`
	TTSActive   bool   `json:"tts_active"`
}

// ---- tts.Backend ----

// Name implements tts.Backend.
func (p *Provider) Name() string { return backendName }

// Delivery returns the configured delivery mode.
func (p *Provider) Delivery() Delivery { return p.delivery }

// Speak implements tts.Backend. It synthesises u with the configured delivery
// mode and plays the result.
func (p *Provider) Speak(ctx context.Context, u tts.Utterance) error {
	var (
		payload []byte
		err     error
	)
	switch p.delivery {
	case DeliveryURL:
		var res *SynthesisResult
		res, err = p.Synthesize(ctx, u)
		if err == nil {
			payload, err = p.Fetch(ctx, res.AudioURL)
		}
	default:
		payload, err = p.SynthesizeStream(ctx, u)
	}
	if err != nil {
		return err
	}
	if err := p.player.Play(ctx, payload); err != nil {
		return fmt.Errorf("openvoice: playback: %w", err)
	}
	return nil
}

// PlayURL fetches audioURL and plays it. Used for server-initiated
// tts_complete notifications.
func (p *Provider) PlayURL(ctx context.Context, audioURL string) error {
	payload, err := p.Fetch(ctx, audioURL)
	if err != nil {
		return err
	}
	if err := p.player.Play(ctx, payload); err != nil {
		return fmt.Errorf("openvoice: playback: %w", err)
	}
	return nil
}

// ---- REST calls ----

// SynthesizeStream calls POST /synthesize_stream and returns the audio bytes.
func (p *Provider) SynthesizeStream(ctx context.Context, u tts.Utterance) ([]byte, error) {
	resp, err := p.postJSON(ctx, synthesizeStreamPath, synthesizeRequest{
		SessionID: p.sessionID,
		Text:      u.Text,
		Emotion:   string(u.Emotion),
		Stream:    true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus("POST "+synthesizeStreamPath, resp); err != nil {
		return nil, err
	}
	return readAudio(resp.Body)
}

// Synthesize calls POST /synthesize and returns the audio metadata.
func (p *Provider) Synthesize(ctx context.Context, u tts.Utterance) (*SynthesisResult, error) {
	resp, err := p.postJSON(ctx, synthesizePath, synthesizeRequest{
		SessionID: p.sessionID,
		Text:      u.Text,
		Emotion:   string(u.Emotion),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus("POST "+synthesizePath, resp); err != nil {
		return nil, err
	}
	var res SynthesisResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("openvoice: decode synthesize response: %w", err)
	}
	if !res.Success || res.AudioURL == "" {
		return nil, fmt.Errorf("openvoice: synthesize: %w", tts.ErrEmptyAudio)
	}
	return &res, nil
}

// Fetch downloads the audio at audioURL. Relative locations are resolved
// against the service base URL.
func (p *Provider) Fetch(ctx context.Context, audioURL string) ([]byte, error) {
	target, err := p.ResolveURL(audioURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("openvoice: create fetch request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openvoice: GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if err := checkStatus("GET "+target, resp); err != nil {
		return nil, err
	}
	return readAudio(resp.Body)
}

// ResolveURL returns audioURL unchanged when absolute and prefixes the service
// base URL when it starts with "/".
func (p *Provider) ResolveURL(audioURL string) (string, error) {
	if audioURL == "" {
		return "", fmt.Errorf("openvoice: %w: missing audio url", tts.ErrEmptyAudio)
	}
	if strings.HasPrefix(audioURL, "/") {
		return p.baseURL + audioURL, nil
	}
	u, err := url.Parse(audioURL)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("openvoice: invalid audio url %q", audioURL)
	}
	return audioURL, nil
}

// Stop calls POST /stop/{session_id}. The service acknowledges with a small
// JSON body that is discarded.
func (p *Provider) Stop(ctx context.Context) error {
	path := stopPathPrefix + url.PathEscape(p.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("openvoice: create stop request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openvoice: POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return checkStatus("POST "+path, resp)
}

// Status calls GET /status/{session_id}.
func (p *Provider) Status(ctx context.Context) (*Status, error) {
	path := statusPathPrefix + url.PathEscape(p.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("openvoice: create status request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openvoice: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus("GET "+path, resp); err != nil {
		return nil, err
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("openvoice: decode status: %w", err)
	}
	return &st, nil
}

// ---- helpers ----

// postJSON marshals body and POSTs it to path.
func (p *Provider) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openvoice: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("openvoice: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openvoice: POST %s: %w", path, err)
	}
	return resp, nil
}

// checkStatus converts a non-2xx response into a *tts.StatusError.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return fmt.Errorf("openvoice: %w", &tts.StatusError{
		Op:   op,
		Code: resp.StatusCode,
		Body: strings.TrimSpace(string(body)),
	})
}

// readAudio reads a bounded audio payload and rejects empty bodies.
func readAudio(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAudioPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("openvoice: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openvoice: %w", tts.ErrEmptyAudio)
	}
	return data, nil
}
