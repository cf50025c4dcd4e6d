// Package resilience wraps outbound backend calls (LLM, web research, social
// sentiment, embeddings) with the shared retry and circuit-breaker policy:
// exponential backoff with jitter on transient failures, a per-backend
// breaker that short-circuits to the caller's fallback once a backend keeps
// failing.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"veilleur/internal/logger"
)

// ErrCircuitOpen is returned while a backend's breaker is open.
var ErrCircuitOpen = errors.New("backend circuit open")

// BackendError carries the HTTP-level outcome of a backend call so the retry
// policy can classify it.
type BackendError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether the error is worth retrying: rate limits and
// server-side failures are, other client errors are not.
func (e *BackendError) Retryable() bool {
	if e.StatusCode == 429 {
		return true
	}
	if e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode == 0 {
		// No status means the request never completed: network trouble.
		return true
	}
	return false
}

// IsRetryable classifies an arbitrary error under the shared policy:
// 429/5xx backend errors and network errors retry, everything else
// (parse failures, 4xx, cancellation) does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// RetryConfig tunes the exponential backoff.
type RetryConfig struct {
	InitialInterval time.Duration // Default 2s
	MaxInterval     time.Duration // Default 30s
	MaxRetries      uint64        // Default 3
}

// DefaultRetryConfig returns the 2s-to-30s, three-retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		MaxRetries:      3,
	}
}

// Retry runs op under the backoff policy. Non-retryable errors abort
// immediately; context cancellation always aborts.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 2 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.RandomizationFactor = 0.5
	policy.MaxElapsedTime = 0 // bounded by MaxRetries, not wall clock

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, cfg.MaxRetries), ctx))
}

// BreakerConfig tunes one backend's circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        // Consecutive failures before opening, default 5
	Window           time.Duration // Rolling window for counts while closed, default 60s
	Cooldown         time.Duration // Open duration before the half-open probe, default 30s
}

// Breaker is a per-backend circuit breaker. In the open state calls fail
// with ErrCircuitOpen without touching the backend.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a named breaker. Half-open allows a single probe.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Backend circuit state change", "backend", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", b.cb.Name(), ErrCircuitOpen)
	}
	return out, err
}

// State exposes the breaker state for status reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Call is the composed policy used by backend clients: the breaker wraps the
// retried operation, so a backend only trips after its retries are exhausted.
func Call(ctx context.Context, breaker *Breaker, retry RetryConfig, op func() error) error {
	_, err := breaker.Execute(func() (any, error) {
		return nil, Retry(ctx, retry, op)
	})
	return err
}
