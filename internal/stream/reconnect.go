package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tutorvox/internal/observe"
)

// DefaultReconnectDelay is the fixed wait before every reconnect attempt.
const DefaultReconnectDelay = 5 * time.Second

// Reconnector re-establishes a connection after it drops.
//
// The delay between attempts is fixed: there is no backoff growth and no
// attempt cap. A failed attempt schedules the next one after the same delay,
// forever, until [Reconnector.Stop] is called or the monitor context ends.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	connect func(context.Context) error
	delay   time.Duration
	after   func(time.Duration) <-chan time.Time
	metrics *observe.Metrics

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Connect performs one connection attempt. A nil error ends the current
	// reconnect cycle.
	Connect func(context.Context) error

	// Delay is waited before each attempt. Defaults to 5s if zero.
	Delay time.Duration

	// After returns a channel that fires once d has elapsed. Defaults to
	// [time.After]. May be overridden in tests.
	After func(d time.Duration) <-chan time.Time

	// Metrics records attempt outcomes. May be nil.
	Metrics *observe.Metrics
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	after := cfg.After
	if after == nil {
		after = time.After
	}
	return &Reconnector{
		connect:      cfg.Connect,
		delay:        delay,
		after:        after,
		metrics:      cfg.Metrics,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Delay returns the fixed wait before each attempt.
func (r *Reconnector) Delay() time.Duration { return r.delay }

// Monitor starts a goroutine that runs one reconnect cycle per
// [Reconnector.NotifyDisconnect] until ctx ends or [Reconnector.Stop].
func (r *Reconnector) Monitor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-r.disconnected:
				r.cycle(ctx)
			}
		}
	}()
}

// NotifyDisconnect requests a reconnect cycle. Requests made while one is
// already pending are merged into it.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop ends monitoring and any wait in progress.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// sleep waits the reconnect delay and reports false when monitoring ended
// first.
func (r *Reconnector) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.done:
		return false
	case <-r.after(r.delay):
		return true
	}
}

// cycle retries after every delay until an attempt connects.
func (r *Reconnector) cycle(ctx context.Context) {
	attempt := 0
	for r.sleep(ctx) {
		attempt++
		err := r.connect(ctx)
		if r.metrics != nil {
			r.metrics.RecordReconnect(ctx, observe.Status(err))
		}
		if err == nil {
			slog.Info("stream: reconnected", "attempt", attempt)
			return
		}
		slog.Warn("stream: reconnect failed", "attempt", attempt, "next_in", r.delay, "error", err)
	}
}
