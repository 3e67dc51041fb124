package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrRetriesExhausted wraps the last error of a task that used up its attempts.
var ErrRetriesExhausted = errors.New("process: retries exhausted")

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// Attempts is the total number of runs, including the first. Minimum 1.
	Attempts int

	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration

	// Factor multiplies the delay after each failure. Values below 1 mean 2.
	Factor float64

	// MaxDelay caps the delay. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy is three attempts starting at one second, doubling.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: time.Second, Factor: 2}

// NewBackOff builds a jitter-free exponential backoff for p.
// The result never stops on its own.
func (p RetryPolicy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.Multiplier = p.Factor
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Retry returns middleware that re-runs a failing task according to p.
//
// A task is not retried once ctx is cancelled; its error is then dropped,
// since failures during shutdown are expected. When attempts run out the
// last error is returned wrapped in ErrRetriesExhausted.
func Retry(p RetryPolicy, logger Logger) Middleware {
	if logger == nil {
		logger = noopLogger{}
	}
	attempts := max(p.Attempts, 1)

	return func(name string, next Task) Task {
		return func(ctx context.Context) error {
			run := 0
			op := func() error {
				run++
				err := next(ctx)
				if err != nil && ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}

			policy := backoff.WithContext(backoff.WithMaxRetries(p.NewBackOff(), uint64(attempts-1)), ctx)
			notify := func(err error, wait time.Duration) {
				logger.Warn("task failed, retrying",
					"task", name,
					"attempt", run,
					"max_attempts", attempts,
					"delay", wait,
					"error", err,
				)
			}

			err := backoff.RetryNotify(op, policy, notify)
			switch {
			case err == nil:
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, run, err)
			}
		}
	}
}
