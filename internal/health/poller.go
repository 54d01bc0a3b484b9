package health

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorvox/internal/observe"
)

// Status classifies one upstream probe.
type Status string

const (
	// StatusHealthy means GET /health answered with a 2xx status.
	StatusHealthy Status = "healthy"

	// StatusUnhealthy means the host answered with a non-2xx status.
	StatusUnhealthy Status = "unhealthy"

	// StatusUnreachable means the request failed at the transport level.
	StatusUnreachable Status = "unreachable"
)

const (
	// DefaultInterval is the time between two polling rounds.
	DefaultInterval = 10 * time.Second

	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 5 * time.Second
)

// Service names one upstream host to probe.
type Service struct {
	// Name is the display label, e.g. "ASR Service".
	Name string

	// URL is the http(s) base URL of the host. "/health" is appended.
	URL string
}

// ServiceStatus is the outcome of probing one [Service].
type ServiceStatus struct {
	Name   string
	URL    string
	Status Status
}

// DefaultServices returns the three rows shown to the user. The streaming
// endpoint is a websocket URL; it is probed over the matching http scheme.
func DefaultServices(streamURL, chatURL, ttsURL string) []Service {
	return []Service{
		{Name: "ASR Service", URL: HTTPBase(streamURL)},
		{Name: "Orchestrator", URL: chatURL},
		{Name: "TTS Service", URL: ttsURL},
	}
}

// HTTPBase converts a ws/wss URL to http/https and drops any path. Other
// URLs are returned with only the trailing slash removed.
func HTTPBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
		u.Path = ""
	case "wss":
		u.Scheme = "https"
		u.Path = ""
	}
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/")
}

// PollerOption configures a [Poller].
type PollerOption func(*Poller)

// WithInterval sets the time between polling rounds.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout bounds each individual probe.
func WithTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client used for probes.
func WithHTTPClient(c *http.Client) PollerOption {
	return func(p *Poller) { p.client = c }
}

// WithMetrics records every probe on m.
func WithMetrics(m *observe.Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithOnResult registers fn to receive every completed round, in service
// order.
func WithOnResult(fn func([]ServiceStatus)) PollerOption {
	return func(p *Poller) { p.onResult = fn }
}

// Poller checks a fixed list of upstream hosts. All hosts of one round are
// probed concurrently.
type Poller struct {
	services []Service
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	metrics  *observe.Metrics
	onResult func([]ServiceStatus)

	mu   sync.Mutex
	last []ServiceStatus
}

// NewPoller creates a Poller for services.
func NewPoller(services []Service, opts ...PollerOption) *Poller {
	s := make([]Service, len(services))
	copy(s, services)
	p := &Poller{
		services: s,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Check runs one round and returns the results in service order. A failing
// host never fails the round; it is reported as unhealthy or unreachable.
func (p *Poller) Check(ctx context.Context) []ServiceStatus {
	out := make([]ServiceStatus, len(p.services))
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range p.services {
		g.Go(func() error {
			out[i] = ServiceStatus{Name: svc.Name, URL: svc.URL, Status: p.probe(gctx, svc)}
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	p.last = out
	p.mu.Unlock()

	if p.onResult != nil {
		p.onResult(append([]ServiceStatus(nil), out...))
	}
	return out
}

// Run checks immediately and then once per interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Last returns a copy of the most recent round, or nil before the first.
func (p *Poller) Last() []ServiceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	return append([]ServiceStatus(nil), p.last...)
}

func (p *Poller) probe(ctx context.Context, svc Service) Status {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status := p.do(ctx, svc)
	if p.metrics != nil {
		p.metrics.RecordHealthCheck(ctx, svc.Name, string(status))
	}
	return status
}

func (p *Poller) do(ctx context.Context, svc Service) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(svc.URL, "/")+"/health", nil)
	if err != nil {
		slog.Debug("health: build request", "service", svc.Name, "err", err)
		return StatusUnreachable
	}
	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("health: probe failed", "service", svc.Name, "err", err)
		return StatusUnreachable
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusUnhealthy
	}
	return StatusHealthy
}
