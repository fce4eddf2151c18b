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
	// ShouldRetry reports whether a failed attempt may be repeated.
	// Nil retries every error.
	ShouldRetry func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Backoff returns the sleep before attempt n+1 (n counted from zero).
// Waits double from InitialWait and are capped at MaxWait; with Jitter the
// result is scaled by a random factor in [0.5, 1.5).
func (o RetryOpts) Backoff(n int, rnd func() float64) time.Duration {
	wait := o.InitialWait
	for i := 0; i < n; i++ {
		wait *= 2
		if o.MaxWait > 0 && wait > o.MaxWait {
			wait = o.MaxWait
			break
		}
	}
	if o.Jitter {
		if rnd == nil {
			rnd = rand.Float64
		}
		wait = time.Duration(float64(wait) * (0.5 + rnd()))
	}
	if o.MaxWait > 0 && wait > o.MaxWait {
		wait = o.MaxWait
	}
	return wait
}

// Retry retries f up to MaxAttempts times with exponential backoff.
// A cancelled context stops the loop at the next sleep and its error is returned.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	var result Result[T]

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(result.err) {
			break
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}

		sleepDur := opts.Backoff(attempt, nil)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, result.err, sleepDur)
		}

		t := time.NewTimer(sleepDur)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
	return result
}

// RetryStage wraps a Stage with retry logic.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
