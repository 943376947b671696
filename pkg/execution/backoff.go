package execution

import (
	"context"
	"time"

	"github.com/juju/clock"
)

// Backoff maps an attempt number onto a delay. It is a pure function of the
// attempt so retry timing can be tested without real time passing; the
// suspension itself goes through Sleep with an injected clock.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retrying after the given 1-based attempt:
// Base doubling each attempt, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base << (attempt - 1)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Sleep blocks for d on the supplied clock, returning early with the context
// error if the caller gives up first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
