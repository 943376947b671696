// Package ratelimit enforces the upstream's per-key hourly quota and paces
// outbound calls. The quota is a fixed rolling window per credential; the
// reservation is optimistic, made before the network call, so an aborted call
// still consumes quota. That inexactness is accepted in exchange for never
// needing to reconcile usage after the fact.
package ratelimit

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

const (
	// DefaultLimit is the upstream's documented allowance per key.
	DefaultLimit = 1000
	// DefaultWindow is the quota window length.
	DefaultWindow = time.Hour
)

type counter struct {
	mu      sync.Mutex
	calls   int
	resetAt time.Time
}

// reset zeroes the counter when the window has elapsed and advances the
// deadline by one window length. Must be called with c.mu held.
func (c *counter) reset(now time.Time, window time.Duration) {
	if now.Before(c.resetAt) {
		return
	}
	c.calls = 0
	c.resetAt = now.Add(window)
}

// WindowLimiter tracks one usage counter per credential. Counters are created
// lazily and guarded individually; the outer map lock is held only for lookup.
type WindowLimiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu       sync.RWMutex
	counters map[string]*counter
}

// Option configures a WindowLimiter.
type Option func(*WindowLimiter)

// WithLimit overrides the per-window call allowance.
func WithLimit(limit int) Option {
	return func(l *WindowLimiter) { l.limit = limit }
}

// WithWindow overrides the window length.
func WithWindow(window time.Duration) Option {
	return func(l *WindowLimiter) { l.window = window }
}

// WithClock injects the clock used for window arithmetic.
func WithClock(clk clock.Clock) Option {
	return func(l *WindowLimiter) { l.clock = clk }
}

// NewWindowLimiter creates a limiter with the upstream defaults (1000/hour).
func NewWindowLimiter(opts ...Option) *WindowLimiter {
	l := &WindowLimiter{
		limit:    DefaultLimit,
		window:   DefaultWindow,
		clock:    clock.WallClock,
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *WindowLimiter) get(credentialID string) *counter {
	l.mu.RLock()
	c, ok := l.counters[credentialID]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.counters[credentialID]; ok {
		return c
	}
	c = &counter{}
	l.counters[credentialID] = c
	return c
}

// CheckAndReserve reserves one call on the credential if headroom remains in
// the current window. A refusal mutates nothing; the caller must move on to a
// different credential.
func (l *WindowLimiter) CheckAndReserve(credentialID string) bool {
	c := l.get(credentialID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset(l.clock.Now(), l.window)
	if c.calls >= l.limit {
		return false
	}
	c.calls++
	return true
}

// Usage returns the credential's call count in the current window. The lazy
// window reset applies here too, so least-loaded selection sees fresh counts
// immediately after a window rolls over.
func (l *WindowLimiter) Usage(credentialID string) int {
	c := l.get(credentialID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset(l.clock.Now(), l.window)
	return c.calls
}

// ResetAll zeroes every counter and restarts every window. Administrative.
func (l *WindowLimiter) ResetAll() {
	now := l.clock.Now()

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.counters {
		c.mu.Lock()
		c.calls = 0
		c.resetAt = now.Add(l.window)
		c.mu.Unlock()
	}
}
