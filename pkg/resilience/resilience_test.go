// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	serrors "github.com/jllopis/sextant/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverableTypedError(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		return serrors.New(serrors.CodeProtocol, "bad frame", nil)
	})
	if !serrors.HasCode(err, serrors.CodeProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryRecoverableTypedError(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return serrors.New(serrors.CodeTimeout, "timed out", nil).WithRecoverable(true)
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rc := DefaultRetryConfig().WithInitialDelay(time.Second)
	attempts := 0
	err := rc.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	})
	if !serrors.HasCode(err, serrors.CodeCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryGenericResult(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first fails")
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("expected ok, got %q, %v", v, err)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute, Name: "aux"})
	fail := func(context.Context) error { return errors.New("down") }

	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after one failure, got %s", cb.State())
	}
	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Call(context.Background(), func(context.Context) error { called = true; return nil })
	if called {
		t.Error("fn must not run while open")
	}
	if !IsOpenError(err) {
		t.Errorf("expected open error, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("down") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	now = now.Add(2 * time.Second)
	if err := cb.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe should run: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Timeout: time.Second})
	now := time.Now()
	cb.now = func() time.Time { return now }
	cb.Open()

	now = now.Add(2 * time.Second)
	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Errorf("expected reopen after failed probe, got %s", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
}

func TestWithFallback(t *testing.T) {
	primaryErr := errors.New("aux unavailable")
	fallback := func(_ context.Context, err error) (string, error) {
		if !errors.Is(err, primaryErr) {
			t.Errorf("fallback got unexpected cause %v", err)
		}
		return "primary", nil
	}

	v, err := WithFallback(context.Background(),
		func(context.Context) (string, error) { return "", primaryErr },
		fallback, nil)
	if err != nil || v != "primary" {
		t.Fatalf("expected fallback value, got %q, %v", v, err)
	}

	_, err = WithFallback(context.Background(),
		func(context.Context) (string, error) { return "", primaryErr },
		fallback, func(error) bool { return false })
	if !errors.Is(err, primaryErr) {
		t.Errorf("expected primary error when fallback is refused, got %v", err)
	}
}

func TestWithFallbackDoesNotMaskCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	_, err := WithFallback(ctx,
		func(ctx context.Context) (int, error) { return 0, ctx.Err() },
		func(context.Context, error) (int, error) { ran = true; return 1, nil }, nil)
	if ran {
		t.Error("fallback must not run after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
