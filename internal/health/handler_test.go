package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func pass(context.Context) error { return nil }

// probe serves path on a mux with h registered and decodes the report.
func probe(t *testing.T, h *Handler, path string) (int, report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var rep report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("%s body %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "stream", Check: func(context.Context) error { return errors.New("down") }}})
	h.started = time.Now().Add(-90 * time.Second)

	code, rep := probe(t, h, "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok even with a failing checker", code, rep.Status)
	}
	if rep.Uptime != "1m30s" {
		t.Errorf("uptime = %q, want 1m30s", rep.Uptime)
	}
	if rep.Checks != nil {
		t.Errorf("healthz ran checks: %v", rep.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		wantMsg  map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
		},
		{
			name:     "connected",
			checkers: []Checker{{Name: "stream", Check: pass}, {Name: "speech", Check: pass}},
			wantCode: http.StatusOK,
			wantMsg:  map[string]string{"stream": "ok", "speech": "ok"},
		},
		{
			name: "disconnected",
			checkers: []Checker{
				{Name: "stream", Check: func(context.Context) error { return errors.New("not connected") }},
				{Name: "speech", Check: pass},
			},
			wantCode: http.StatusServiceUnavailable,
			wantMsg:  map[string]string{"stream": "fail: not connected", "speech": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, rep := probe(t, New(tt.checkers), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if rep.Status != wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, wantStatus)
			}
			if len(rep.Checks) != len(tt.wantMsg) {
				t.Fatalf("checks = %v, want %v", rep.Checks, tt.wantMsg)
			}
			for name, want := range tt.wantMsg {
				if rep.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, rep.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each checker waits for the other; sequential evaluation would time out.
	a, b := make(chan struct{}), make(chan struct{})
	meet := func(mine, theirs chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-theirs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	h := New([]Checker{
		{Name: "a", Check: meet(a, b)},
		{Name: "b", Check: meet(b, a)},
	}, WithCheckTimeout(2*time.Second))

	if code, rep := probe(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("code = %d, checks %v", code, rep.Checks)
	}
}

func TestReadyz_CheckTimeout(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "speech", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}, WithCheckTimeout(20*time.Millisecond))

	code, rep := probe(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	if got := rep.Checks["speech"]; got != "fail: "+context.DeadlineExceeded.Error() {
		t.Errorf("checks[speech] = %q", got)
	}
}

func TestReadyz_ListsUpstream(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "stream", Check: pass}}, WithServices(func() []ServiceStatus {
		return []ServiceStatus{
			{Name: "ASR Service", Status: StatusHealthy},
			{Name: "TTS Service", Status: StatusUnreachable},
		}
	}))

	code, rep := probe(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("code = %d: an unreachable upstream must not fail readiness", code)
	}
	want := []upstream{{"ASR Service", StatusHealthy}, {"TTS Service", StatusUnreachable}}
	if len(rep.Upstream) != len(want) {
		t.Fatalf("upstream = %v, want %v", rep.Upstream, want)
	}
	for i := range want {
		if rep.Upstream[i] != want[i] {
			t.Errorf("upstream[%d] = %v, want %v", i, rep.Upstream[i], want[i])
		}
	}
}

func TestRegister_RejectsOtherMethods(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(nil).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/readyz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /readyz = %d, want 405", rec.Code)
	}
}
