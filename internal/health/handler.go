// Package health reports on the services the client depends on.
//
// [Poller] asks GET /health of the speech recognition, orchestrator and
// synthesis hosts on an interval and classifies each answer. [Handler] serves
// the local probe endpoints of the client itself:
//
//   - GET /healthz answers 200 while the process runs.
//   - GET /readyz answers 200 only when every [Checker] passes. The latest
//     upstream poll is listed for information and never changes the code.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds one readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker is one named readiness condition. Check returns nil when the
// condition holds.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status   string            `json:"status"`
	Uptime   string            `json:"uptime,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
	Upstream []upstream        `json:"upstream,omitempty"`
}

type upstream struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithServices lists the result of fn on /readyz. fn is usually
// [Poller.Last].
func WithServices(fn func() []ServiceStatus) HandlerOption {
	return func(h *Handler) { h.services = fn }
}

// WithCheckTimeout bounds each [Checker]. Non-positive values are ignored.
func WithCheckTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	services func() []ServiceStatus
	timeout  time.Duration
	started  time.Time
}

// New returns a handler evaluating checkers on every /readyz request.
func New(checkers []Checker, opts ...HandlerOption) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200 with the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz runs all checkers concurrently and answers 503 when any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: h.runChecks(r.Context())}
	code := http.StatusOK
	for _, v := range rep.Checks {
		if v != "ok" {
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
			break
		}
	}
	if h.services != nil {
		for _, s := range h.services() {
			rep.Upstream = append(rep.Upstream, upstream{Name: s.Name, Status: s.Status})
		}
	}
	writeReport(w, code, rep)
}

func (h *Handler) runChecks(ctx context.Context) map[string]string {
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(h.checkers))
		g   errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			res := "ok"
			if err := c.Check(cctx); err != nil {
				res = "fail: " + err.Error()
			}
			mu.Lock()
			out[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func writeReport(w http.ResponseWriter, code int, rep report) {
	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
