package resilience

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      3,
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &BackendError{Backend: "llm", StatusCode: 429, Err: errors.New("too many requests")}, true},
		{"server error", &BackendError{Backend: "llm", StatusCode: 503, Err: errors.New("unavailable")}, true},
		{"bad request", &BackendError{Backend: "llm", StatusCode: 400, Err: errors.New("bad request")}, false},
		{"unauthorized", &BackendError{Backend: "recherche", StatusCode: 401, Err: errors.New("no key")}, false},
		{"no status means network", &BackendError{Backend: "social", Err: errors.New("connection reset")}, true},
		{"net error", &net.DNSError{Err: "timeout", IsTimeout: true}, true},
		{"canceled", context.Canceled, false},
		{"plain error", errors.New("réponse illisible"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		if attempts < 3 {
			return &BackendError{Backend: "llm", StatusCode: 500, Err: errors.New("flap")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	wantErr := &BackendError{Backend: "llm", StatusCode: 400, Err: errors.New("format invalide")}
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return wantErr
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
	var be *BackendError
	if !errors.As(err, &be) || be.StatusCode != 400 {
		t.Errorf("Retry() = %v, want the original 400", err)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return &BackendError{Backend: "llm", StatusCode: 429, Err: errors.New("toujours limité")}
	})
	if err == nil {
		t.Fatal("Retry() = nil, want error after exhausting retries")
	}
	// Initial attempt plus three retries.
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, RetryConfig{InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second, MaxRetries: 5}, func() error {
		attempts++
		cancel()
		return &BackendError{Backend: "llm", StatusCode: 500, Err: errors.New("flap")}
	})
	if err == nil {
		t.Fatal("Retry() = nil, want context error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 after cancellation", attempts)
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := NewBreaker("llm", BreakerConfig{FailureThreshold: 2, Window: time.Minute, Cooldown: 20 * time.Millisecond})

	boom := errors.New("backend down")
	for i := 0; i < 2; i++ {
		if _, err := b.Execute(func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("Execute() = %v, want %v", err, boom)
		}
	}

	// Threshold reached: the breaker rejects without calling the backend.
	called := false
	_, err := b.Execute(func() (any, error) { called = true; return nil, nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("backend was called while the circuit was open")
	}

	// After the cooldown a single probe is allowed and success closes it.
	time.Sleep(30 * time.Millisecond)
	out, err := b.Execute(func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("probe Execute() = %v, want nil", err)
	}
	if out != "ok" {
		t.Errorf("probe result = %v, want ok", out)
	}
	if got := b.State(); got != "closed" {
		t.Errorf("State() = %q, want closed", got)
	}
}

func TestCallTripsOnlyAfterRetries(t *testing.T) {
	b := NewBreaker("recherche", BreakerConfig{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Minute})

	attempts := 0
	op := func() error {
		attempts++
		return &BackendError{Backend: "recherche", StatusCode: 502, Err: errors.New("bad gateway")}
	}

	// Each Call exhausts its retry budget before counting one breaker failure.
	if err := Call(context.Background(), b, fastRetry(), op); err == nil {
		t.Fatal("Call() = nil, want error")
	}
	if attempts != 4 {
		t.Fatalf("attempts after first Call = %d, want 4", attempts)
	}
	if err := Call(context.Background(), b, fastRetry(), op); err == nil {
		t.Fatal("second Call() = nil, want error")
	}

	err := Call(context.Background(), b, fastRetry(), op)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("third Call() = %v, want ErrCircuitOpen", err)
	}
	if attempts != 8 {
		t.Errorf("attempts = %d, want 8 (open circuit skips the backend)", attempts)
	}
}
