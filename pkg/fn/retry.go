package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// OnRetry, if set, is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetry provides sensible retry defaults.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// Retry retries f up to MaxAttempts times with exponential backoff.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var result Result[T]
	wait := opts.InitialWait
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Err[T](err)
		}
		result = f(ctx)
		if result.IsOk() || attempt == opts.MaxAttempts {
			return result
		}

		sleepDur := wait
		if opts.Jitter {
			sleepDur = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleepDur > opts.MaxWait {
			sleepDur = opts.MaxWait
		}
		if opts.OnRetry != nil {
			_, err := result.Unwrap()
			opts.OnRetry(attempt, err, sleepDur)
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(sleepDur):
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}

// RetryErr is Retry for functions that only return an error.
func RetryErr(ctx context.Context, opts RetryOpts, f func(context.Context) error) error {
	_, err := Retry(ctx, opts, func(ctx context.Context) Result[struct{}] {
		return FromPair(struct{}{}, f(ctx))
	}).Unwrap()
	return err
}
