// Package retry provides bounded exponential backoff for chain reads.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy configures a bounded retry loop.
// The first attempt is not a retry, so at most MaxRetries+1 calls are made.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BaseDelay is the delay before the first retry; it doubles on every retry
	BaseDelay time.Duration

	// MaxDelay caps a single backoff delay (0 = uncapped)
	MaxDelay time.Duration
}

// Validate validates the policy
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max retry delay cannot be negative")
	}
	return nil
}

// Backoff returns the delay before the given retry (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := p.BaseDelay * time.Duration(1<<uint(shift))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	return delay
}

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do returns it immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ExhaustedError is returned by Do when every attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// RetryFunc is notified before every retry with the failed attempt's error
type RetryFunc func(attempt int, delay time.Duration, err error)

// Do calls fn until it succeeds, returns a permanent error, the policy is
// exhausted, or ctx is done. The context error is returned as-is on cancellation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry RetryFunc) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt)
			if onRetry != nil {
				onRetry(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
	}

	return &ExhaustedError{Attempts: p.MaxRetries + 1, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
