// Package retry runs an operation a bounded number of times with a
// configurable wait between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryAfterError carries a delay requested by the remote side, such as an
// HTTP 429 Retry-After header.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// Policy describes how often and how long to wait between attempts.
// Attempts are numbered from zero.
type Policy struct {
	MaxAttempts int

	// Retryable reports whether err is worth another attempt. Nil means
	// every error is retried.
	Retryable func(err error) bool

	// Backoff returns the wait after the given failed attempt.
	Backoff func(attempt int, err error) time.Duration

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential waits base * 2^attempt, unless the error asks for a specific
// delay via RetryAfterError.
func Exponential(base time.Duration) func(int, error) time.Duration {
	return func(attempt int, err error) time.Duration {
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > 0 {
			return ra.After
		}
		return base << attempt
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. There is no wait after the final attempt. The last
// error is returned.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		var d time.Duration
		if p.Backoff != nil {
			d = p.Backoff(attempt, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
