package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return errBoom })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return nil })
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())

	for i := 0; i < 2; i++ {
		if err := fail(cb); err != errBoom {
			t.Fatalf("expected wrapped error, got %v", err)
		}
		if cb.State() != StateClosed {
			t.Fatalf("breaker tripped early at failure %d", i+1)
		}
	}

	if err := fail(cb); err != errBoom {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatal("breaker should be open after threshold failures")
	}

	if err := succeed(cb); err != ErrBreakerOpen {
		t.Fatalf("open breaker must reject requests, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())

	fail(cb)
	fail(cb)
	succeed(cb)
	fail(cb)
	fail(cb)

	if cb.State() != StateClosed {
		t.Fatal("non-consecutive failures must not trip the breaker")
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		fail(cb)
	}
	if cb.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatal("breaker should probe after the open timeout")
	}

	if err := succeed(cb); err != nil {
		t.Fatalf("first probe failed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatal("one success should not close the breaker yet")
	}
	if err := succeed(cb); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatal("breaker should close after the success threshold")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		fail(cb)
	}
	time.Sleep(30 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatal("breaker should be half-open")
	}

	fail(cb)
	if cb.State() != StateOpen {
		t.Fatal("a half-open failure must reopen the breaker")
	}
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 1
	cfg.SuccessThreshold = 3
	cb := New("test", cfg, zap.NewNop())

	for i := 0; i < 3; i++ {
		fail(cb)
	}
	time.Sleep(30 * time.Millisecond)

	if err := succeed(cb); err != nil {
		t.Fatalf("first probe failed: %v", err)
	}
	err := cb.Execute(context.Background(), func() error { return nil })
	if err != ErrTooManyRequests {
		t.Fatalf("expected ErrTooManyRequests, got %v", err)
	}
}

func TestPanicCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cb := New("test", cfg, zap.NewNop())

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic should propagate")
			}
		}()
		cb.Execute(context.Background(), func() error { panic("bad") })
	}()

	if cb.State() != StateOpen {
		t.Fatal("panic must count as a failure")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CB_TEST_FAILURE_THRESHOLD", "7")
	t.Setenv("CB_TEST_TIMEOUT", "45s")

	cfg := ConfigFromEnv("CB_TEST", testConfig())
	if cfg.FailureThreshold != 7 {
		t.Fatalf("expected overridden threshold 7, got %d", cfg.FailureThreshold)
	}
	if cfg.Timeout != 45*time.Second {
		t.Fatalf("expected overridden timeout 45s, got %v", cfg.Timeout)
	}
	if cfg.MaxRequests != 2 {
		t.Fatalf("unset values must keep defaults, got %d", cfg.MaxRequests)
	}
}
