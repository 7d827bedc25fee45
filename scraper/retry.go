package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// RetryPolicy retries an operation with exponential back-off.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

// Do runs fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is done.
func (r RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts {
			break
		}

		log.Printf("[warn] retry: %s failed (attempt %d/%d): %v, retrying in %v", op, attempt, attempts, lastErr, delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, errors.Join(lastErr, ctx.Err()))
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return true
}
