package util

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how an operation is retried. A zero MaxAttempts is
// treated as one attempt. Retryable decides whether an error is worth
// another attempt; nil retries every error.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	Retryable   func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, next time.Duration)
}

// DefaultRetryPolicy retries three times starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// RetryError is returned once every attempt has failed. It unwraps to the
// last underlying error so callers can still match its kind.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// RetryValue calls op until it succeeds, returns a non-retryable error, or
// the attempt ceiling is reached. Non-retryable errors are returned as is;
// exhaustion returns a *RetryError wrapping the last failure. A cancelled
// ctx during backoff returns the context error.
func RetryValue[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}

	var (
		attempts int
		lastErr  error
		fatal    error
	)
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			fatal = err
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempts, err, next)
			}
		}),
	)
	if err == nil {
		return res, nil
	}

	var zero T
	switch {
	case fatal != nil:
		return zero, fatal
	case ctx.Err() != nil:
		return zero, ctx.Err()
	default:
		return zero, &RetryError{Attempts: attempts, Err: lastErr}
	}
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or an error
// wrapping the last failure if all attempts fail. The function respects
// context cancellation between retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	_, err := RetryValue(ctx, RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay},
		func(context.Context) (struct{}, error) {
			return struct{}{}, fn()
		})
	return err
}
