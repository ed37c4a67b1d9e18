// Package resilience provides retry-with-backoff and circuit-breaker wrappers
// for calls against external dependencies (AI backend, cache, durable store).
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number for linear backoff.
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns the policy used for external calls when the
// caller does not override it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Retry executes fn, retrying with linear backoff (BaseDelay * attempt) until
// it succeeds or MaxAttempts is exhausted. The last error is returned wrapped
// with the attempt count. The backoff sleep is context-aware.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		waitTime := policy.BaseDelay * time.Duration(attempt)
		slog.Debug("operation failed, retrying",
			"attempt", attempt,
			"wait_time", waitTime,
			"error", lastErr)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errors.Wrapf(lastErr, "failed after %d attempts", policy.MaxAttempts)
}
