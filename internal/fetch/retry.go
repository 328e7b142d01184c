package fetch

import (
	"context"
	"time"
)

// RetryConfig controls exponential backoff for transient failures.
type RetryConfig struct {
	Attempts int           // total attempts, including the first
	Delay    time.Duration // delay before the second attempt
	MaxDelay time.Duration // backoff cap
}

// backoffDelay returns the sleep before attempt n (1-based; n=1 is the
// first retry). Doubling per attempt, capped at MaxDelay.
func (c RetryConfig) backoffDelay(n int) time.Duration {
	d := c.Delay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// withRetry runs fn up to cfg.Attempts times, sleeping with exponential
// backoff between attempts. Retries stop early when retryable reports the
// error is not worth another attempt, or when ctx is done. The last error
// is returned on exhaustion.
func withRetry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func() error) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts {
			return lastErr
		}

		timer := time.NewTimer(cfg.backoffDelay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
	return lastErr
}
