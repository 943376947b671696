package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces outbound calls process-wide, independent of the per-key quota.
// The upstream tolerates bursts poorly even below quota, so every dispatch
// waits its turn here before touching the network.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer enforcing the given minimum interval between
// calls. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call slot or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
