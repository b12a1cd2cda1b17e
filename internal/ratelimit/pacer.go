package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out repeated runs: the first Wait returns at once, each later
// Wait blocks until interval has passed since the previous one.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer allowing one run per interval. A non-positive
// interval never blocks.
func NewPacer(interval time.Duration) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next run may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
