// Package retry runs operations with capped exponential backoff and jitter.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/goran-ethernal/ChainProjector/pkg/config"
)

const jitterFraction = 0.25

// Policy decides which errors are retried and observes every retry.
type Policy struct {
	// Retryable reports whether err may clear on a later attempt. Nil retries nothing.
	Retryable func(err error) bool
	// OnRetry is called before each retry with the attempt that failed.
	OnRetry func(attempt int, err error)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed after %v (last error: %v)", e.Attempts, e.Elapsed, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Backoff computes the wait before the given attempt. The first attempt never waits.
// The delay grows by BackoffMultiplier, is capped at MaxBackoff and carries ±25% jitter.
func Backoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	jitterRange := backoff * jitterFraction
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// Do executes fn until it succeeds, fails with a non-retryable error, runs out of attempts or
// ctx is done. A nil cfg executes fn once.
func Do(ctx context.Context, cfg *config.RetryConfig, policy Policy, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if policy.Retryable == nil || !policy.Retryable(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		if wait := Backoff(attempt+1, cfg); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxAttempts, Elapsed: time.Since(startTime), Err: lastErr}
}
