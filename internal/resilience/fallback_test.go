package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func breakerCfg(maxFailures int, reset time.Duration) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: reset}
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: breakerCfg(3, 0)})
	fg.AddFallback("secondary", "secondary")

	var called string
	err := fg.Execute(t.Context(), func(_ context.Context, v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	var hops []string
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		OnFallback: func(from, to string, _ error) { hops = append(hops, from+"->"+to) },
	})
	fg.AddFallback("secondary", "secondary")

	var called []string
	err := fg.Execute(t.Context(), func(_ context.Context, v string) error {
		called = append(called, v)
		if v == "primary" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(called, []string{"primary", "secondary"}) {
		t.Fatalf("called = %v, want [primary secondary]", called)
	}
	if !slices.Equal(hops, []string{"primary->secondary"}) {
		t.Fatalf("hops = %v", hops)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	calls := 0
	err := fg.Execute(t.Context(), func(context.Context, string) error {
		calls++
		return errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, should wrap the last failure", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want each entry exactly once", calls)
	}
}

func TestFallbackGroup_CancellationStopsChain(t *testing.T) {
	fallbacks := 0
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		OnFallback: func(string, string, error) { fallbacks++ },
	})
	fg.AddFallback("secondary", "secondary")

	ctx, cancel := context.WithCancel(t.Context())
	var called []string
	err := fg.Execute(ctx, func(_ context.Context, v string) error {
		called = append(called, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Fatal("cancellation must not be reported as ErrAllFailed")
	}
	if !slices.Equal(called, []string{"primary"}) || fallbacks != 0 {
		t.Fatalf("called = %v, fallbacks = %d; want only primary", called, fallbacks)
	}
}

func TestFallbackGroup_CancelledBeforeStart(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	err := fg.Execute(ctx, func(context.Context, string) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: breakerCfg(2, time.Hour)})
	fg.AddFallback("secondary", "secondary")

	// Fail the primary enough to open its breaker.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(t.Context(), func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Fatal("primary breaker should be open")
	}

	var called []string
	err := fg.Execute(t.Context(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(called, []string{"secondary"}) {
		t.Fatalf("called = %v, want [secondary] (primary circuit should be open)", called)
	}
}

func TestFallbackGroup_NoBreakerNeverSkips(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")
	if fg.Breaker("primary") != nil {
		t.Fatal("breaker should be nil when disabled")
	}

	primaryCalls := 0
	for i := 0; i < 10; i++ {
		_ = fg.Execute(t.Context(), func(_ context.Context, v string) error {
			if v == "primary" {
				primaryCalls++
				return errTest
			}
			return nil
		})
	}
	if primaryCalls != 10 {
		t.Fatalf("primary calls = %d, want 10", primaryCalls)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	fg := NewFallbackGroup(1, "a", FallbackConfig{})
	fg.AddFallback("b", 2)
	if got := fg.Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Names() = %v", got)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{CircuitBreaker: breakerCfg(3, 0)})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(t.Context(), fg, func(_ context.Context, v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})

	_, err := ExecuteWithResult(t.Context(), fg, func(context.Context, int) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
