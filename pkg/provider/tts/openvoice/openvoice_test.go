package openvoice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	audiomock "github.com/MrWong99/tutorvox/pkg/audio/mock"
	"github.com/MrWong99/tutorvox/pkg/provider/tts"
)

// ---- test helpers ----

// recordedRequest captures the decoded JSON body of a synthesis call.
type recordedRequest struct {
	Path string
	Body synthesizeRequest
}

// fakeService is a minimal stand-in for the OpenVoice REST API.
type fakeService struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	audio    []byte
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		var body synthesizeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, Body: body})
		f.mu.Unlock()
	}
	mux.HandleFunc("POST /synthesize_stream", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if f.status != 0 {
			http.Error(w, "synthesis failed", f.status)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(f.audio)
	})
	mux.HandleFunc("POST /synthesize", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SynthesisResult{Success: true, AudioURL: "/audio/tts_1.wav", AudioDuration: 1.5})
	})
	mux.HandleFunc("GET /audio/tts_1.wav", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(f.audio)
	})
	mux.HandleFunc("POST /stop/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{Path: r.URL.Path})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true,"message":"Speech stopped"}`))
	})
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Status{SessionID: r.PathValue("id"), IsSpeaking: true})
	})
	return mux
}

func (f *fakeService) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestProvider(t *testing.T, svc *fakeService, opts ...Option) (*Provider, *audiomock.Player) {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	player := &audiomock.Player{}
	p, err := New(srv.URL, "session_abc123xyz", player, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, player
}

// ---- constructor ----

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	player := &audiomock.Player{}
	if _, err := New("", "s", player); err == nil {
		t.Error("expected error for empty base URL")
	}
	if _, err := New("http://x", "", player); err == nil {
		t.Error("expected error for empty session ID")
	}
	if _, err := New("http://x", "s", nil); err == nil {
		t.Error("expected error for nil player")
	}
}

// ---- streaming delivery ----

func TestSpeak_StreamingPlaysPayload(t *testing.T) {
	t.Parallel()
	svc := &fakeService{audio: []byte("RIFF-wav-bytes")}
	p, player := newTestProvider(t, svc)

	err := p.Speak(t.Context(), tts.Utterance{Text: "Plants convert light...", Emotion: tts.EmotionFriendly})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	calls := svc.calls()
	if len(calls) != 1 {
		t.Fatalf("requests = %d, want 1", len(calls))
	}
	got := calls[0].Body
	if got.SessionID != "session_abc123xyz" || got.Text != "Plants convert light..." || got.Emotion != "friendly" || !got.Stream {
		t.Errorf("request body = %+v", got)
	}
	played := player.Calls()
	if len(played) != 1 || string(played[0]) != "RIFF-wav-bytes" {
		t.Errorf("played = %q, want the synthesised payload", played)
	}
}

func TestSpeak_StatusErrorFails(t *testing.T) {
	t.Parallel()
	svc := &fakeService{status: http.StatusInternalServerError}
	p, player := newTestProvider(t, svc)

	err := p.Speak(t.Context(), tts.Utterance{Text: "x", Emotion: tts.EmotionDefault})
	var se *tts.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *tts.StatusError", err)
	}
	if se.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", se.Code)
	}
	if len(player.Calls()) != 0 {
		t.Error("nothing should be played on failure")
	}
}

func TestSpeak_EmptyPayloadFails(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	p, _ := newTestProvider(t, svc)

	err := p.Speak(t.Context(), tts.Utterance{Text: "x"})
	if !errors.Is(err, tts.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestSpeak_PlaybackErrorFails(t *testing.T) {
	t.Parallel()
	svc := &fakeService{audio: []byte("wav")}
	p, player := newTestProvider(t, svc)
	player.PlayError = errors.New("device busy")

	if err := p.Speak(t.Context(), tts.Utterance{Text: "x"}); err == nil {
		t.Fatal("expected playback error to surface")
	}
}

func TestSpeak_NetworkErrorFails(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New(url, "s", &audiomock.Player{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Speak(t.Context(), tts.Utterance{Text: "x"}); err == nil {
		t.Fatal("expected network error")
	}
}

func TestSpeak_CancelledContext(t *testing.T) {
	t.Parallel()
	svc := &fakeService{audio: []byte("wav")}
	p, player := newTestProvider(t, svc)
	player.Block = true

	ctx, cancel := context.WithCancel(t.Context())
	player.Started = make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Speak(ctx, tts.Utterance{Text: "x"}) }()
	<-player.Started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// ---- URL delivery ----

func TestSpeak_URLDelivery(t *testing.T) {
	t.Parallel()
	svc := &fakeService{audio: []byte("fetched-wav")}
	p, player := newTestProvider(t, svc, WithDelivery(DeliveryURL))

	if err := p.Speak(t.Context(), tts.Utterance{Text: "hello", Emotion: tts.EmotionSad}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	calls := svc.calls()
	if len(calls) != 1 || calls[0].Path != "/synthesize" {
		t.Fatalf("requests = %+v, want one POST /synthesize", calls)
	}
	if calls[0].Body.Stream {
		t.Error("non-streaming request must not set stream")
	}
	if played := player.Calls(); len(played) != 1 || string(played[0]) != "fetched-wav" {
		t.Errorf("played = %q", played)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()
	p, err := New("http://tts:8002/", "s", &audiomock.Player{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/audio/a.wav", "http://tts:8002/audio/a.wav", false},
		{"http://cdn/a.wav", "http://cdn/a.wav", false},
		{"", "", true},
		{"audio/a.wav", "", true},
	}
	for _, tc := range tests {
		got, err := p.ResolveURL(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ResolveURL(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ResolveURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ---- stop / status ----

func TestStop(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	p, _ := newTestProvider(t, svc)
	if err := p.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	calls := svc.calls()
	if len(calls) != 1 || calls[0].Path != "/stop/session_abc123xyz" {
		t.Errorf("requests = %+v, want POST /stop/session_abc123xyz", calls)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	p, _ := newTestProvider(t, svc)
	st, err := p.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.SessionID != "session_abc123xyz" || !st.IsSpeaking {
		t.Errorf("status = %+v", st)
	}
}
