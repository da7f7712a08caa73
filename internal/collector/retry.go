package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pulse/internal/core"
	"pulse/internal/metrics"
)

// retrier runs network operations with a per-call timeout and bounded
// exponential backoff. Deadline overruns count as transient failures.
type retrier struct {
	source      string
	maxRetries  int
	baseDelay   time.Duration
	callTimeout time.Duration
	wait        func(ctx context.Context) error
	onRetry     func(op string, err error, next time.Duration)
}

func (r *retrier) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx)
}

// do runs fn until it succeeds, fails permanently, or retries are exhausted.
// Exhaustion returns an error wrapping core.ErrTransientFetch.
func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	operation := func() error {
		if r.wait != nil {
			if err := r.wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		last = err
		if errors.Is(err, core.ErrResolution) || errors.Is(err, core.ErrStorage) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		metrics.FetchRetries.WithLabelValues(r.source, op).Inc()
		if r.onRetry != nil {
			r.onRetry(op, err, next)
		}
	}

	err := backoff.RetryNotify(operation, r.newBackOff(ctx), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrResolution) || errors.Is(err, core.ErrStorage) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if last == nil {
		last = err
	}
	return fmt.Errorf("%w: %s %s failed after %d retries: %v", core.ErrTransientFetch, r.source, op, r.maxRetries, last)
}
