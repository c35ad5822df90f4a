// Package retry provides fixed-delay retry policies for brokerage requests.
//
// Policies are plain values passed into each retryable call site, so the
// attempt budget for an operation is visible where the operation runs rather
// than hidden in a counter field somewhere. Exhausting a policy returns
// ErrExhausted wrapped with the last underlying error; callers decide
// whether that is fatal.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrExhausted reports that every attempt a Policy allows has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is a fixed-delay retry budget. There is deliberately no backoff:
// the operations retried here wait on market-data subscription lag or a
// brokerage session coming back, and neither gets healthier faster because
// we slow down.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs fn up to p.MaxAttempts times, sleeping p.Delay between attempts.
// It returns nil on the first success, the context error if ctx is done
// while waiting, and an ErrExhausted-wrapping error once all attempts fail.
func (p Policy) Do(ctx context.Context, logger zerolog.Logger, label string, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, logger, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, logger zerolog.Logger, label string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		return zero, fmt.Errorf("retry: policy for %s has no attempts", label)
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", label, err)
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		logger.Warn().Err(err).Str("op", label).Int("attempt", attempt).Int("max_attempts", p.MaxAttempts).Msg("attempt failed")

		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled during retry delay: %w", label, ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s after %d attempts: %w: %w", label, p.MaxAttempts, ErrExhausted, lastErr)
}
