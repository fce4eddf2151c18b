package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// LimiterOpts configures the token bucket.
type LimiterOpts struct {
	// Rate is the number of tokens added per second. Zero or less disables limiting.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter is a token bucket shared by every caller of one collaborator.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Limit(opts.Rate)
	if opts.Rate <= 0 {
		limit = rate.Inf
	}
	return &Limiter{rl: rate.NewLimiter(limit, opts.Burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error { return l.rl.Wait(ctx) }
