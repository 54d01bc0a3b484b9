// Package resilience guards the speech backends.
//
// [CircuitBreaker] stops calling a synthesizer that keeps failing and lets a
// few trial utterances through once it has rested. [FallbackGroup] tries a
// list of backends of one type in order, each behind its own optional
// breaker. [TTSFallback] is that group specialised for speech output: the
// remote synthesizer first, then a single attempt on the local one.
//
// A cancelled or interrupted utterance is never counted against a backend.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a bounded number of trial calls through. Enough
	// successes close the breaker; one failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker defaults applied by [NewCircuitBreaker] to zero fields.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, usually the backend name.
	Name string

	// MaxFailures is how many failures in a row open the breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before allowing trials.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of concurrent trial calls allowed and
	// the number of successful trials needed to close again.
	HalfOpenMax int
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = DefaultHalfOpenMax
	}
	return c
}

// CircuitBreaker counts the failures of one backend and short-circuits calls
// to it while it is considered down.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int    // trial calls in flight
	passed   int    // successful trials since entering half-open
	gen      uint64 // bumped on every state change
}

// NewCircuitBreaker returns a closed breaker. Zero fields of cfg take the
// package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Execute calls fn unless the breaker is open and returns fn's error. Errors
// caused by context cancellation leave the breaker untouched.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(trial, gen, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a trial
// of the returned generation.
func (cb *CircuitBreaker) admit() (trial bool, gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, cb.gen, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateClosed {
		return false, cb.gen, nil
	}
	if cb.trials+cb.passed >= cb.cfg.HalfOpenMax {
		return false, cb.gen, ErrCircuitOpen
	}
	cb.trials++
	return true, cb.gen, nil
}

// settle books the outcome of an admitted call. A trial whose half-open
// period has already ended is ignored.
func (cb *CircuitBreaker) settle(trial bool, gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		if gen != cb.gen {
			return
		}
		cb.trials--
	}
	switch {
	case isCancellation(err):
		return
	case err != nil:
		cb.failures++
		if trial || cb.failures >= cb.cfg.MaxFailures {
			cb.openedAt = cb.now()
			cb.moveTo(StateOpen)
		}
	case trial:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			cb.moveTo(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// isCancellation reports whether err means the caller gave up rather than
// the backend failing.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// moveTo switches state and resets the counters of the new state. Must be
// called with cb.mu held.
func (cb *CircuitBreaker) moveTo(s State) {
	if cb.state == s {
		return
	}
	prev := cb.state
	cb.state = s
	cb.gen++
	cb.trials, cb.passed = 0, 0
	if s == StateClosed {
		cb.failures = 0
	}

	attrs := []any{"backend", cb.cfg.Name, "from", prev.String(), "to", s.String()}
	if s == StateOpen {
		slog.Warn("resilience: speech backend breaker opened", append(attrs, "failures", cb.failures)...)
		return
	}
	slog.Info("resilience: speech backend breaker changed", attrs...)
}

// State reports the current state. An open breaker whose reset timeout has
// passed already reports [StateHalfOpen]; the switch itself happens on the
// next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the number of failures since the last success.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Reset closes the breaker and forgets all failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
	cb.failures = 0
}
