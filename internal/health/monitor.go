// Package health tracks per-credential failure state with timed auto-recovery.
// Recovery is lazy: it happens on the next read after the recovery period has
// elapsed, so no background timer is needed.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
)

// DefaultRecoveryPeriod is how long a credential stays unhealthy before the
// next read reports it healthy again.
const DefaultRecoveryPeriod = 5 * time.Minute

// Status is the externally visible health record for one credential.
type Status struct {
	Healthy   bool
	LastError string
	MarkedAt  time.Time
}

type record struct {
	mu        sync.Mutex
	healthy   bool
	lastError string
	markedAt  time.Time
}

// Monitor keeps one record per credential, created lazily on first use.
// Records are guarded individually so unrelated credentials never contend.
type Monitor struct {
	recovery time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.RWMutex
	records map[string]*record
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRecoveryPeriod overrides the auto-recovery period.
func WithRecoveryPeriod(d time.Duration) Option {
	return func(m *Monitor) { m.recovery = d }
}

// WithClock injects the clock used to observe recovery.
func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clock = clk }
}

// NewMonitor creates a Monitor. All credentials start healthy.
func NewMonitor(logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		recovery: DefaultRecoveryPeriod,
		clock:    clock.WallClock,
		logger:   logger.With("component", "health"),
		records:  make(map[string]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) get(credentialID string) *record {
	m.mu.RLock()
	r, ok := m.records[credentialID]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok = m.records[credentialID]; ok {
		return r
	}
	r = &record{healthy: true}
	m.records[credentialID] = r
	return r
}

// MarkUnhealthy records a failure for the credential. The latest cause wins;
// the transition timestamp is always refreshed so repeated failures keep the
// credential out of rotation.
func (m *Monitor) MarkUnhealthy(credentialID, reason string) {
	r := m.get(credentialID)

	r.mu.Lock()
	r.healthy = false
	r.lastError = reason
	r.markedAt = m.clock.Now()
	r.mu.Unlock()

	m.logger.Warn("credential marked unhealthy",
		"credential_id", credentialID,
		"reason", reason,
	)
}

// IsHealthy reports whether the credential may serve requests, applying the
// recovery rule first: once the recovery period has passed since the failure,
// the credential is healthy again. No credential is permanently blacklisted.
func (m *Monitor) IsHealthy(credentialID string) bool {
	r := m.get(credentialID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.healthy && m.clock.Now().Sub(r.markedAt) >= m.recovery {
		r.healthy = true
		r.lastError = ""
	}
	return r.healthy
}

// Snapshot returns the current state of every tracked credential. Recovery is
// applied on read, so the snapshot never reports a credential whose recovery
// period has already elapsed as unhealthy.
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make(map[string]Status, len(ids))
	for _, id := range ids {
		healthy := m.IsHealthy(id)
		r := m.get(id)
		r.mu.Lock()
		out[id] = Status{Healthy: healthy, LastError: r.lastError, MarkedAt: r.markedAt}
		r.mu.Unlock()
	}
	return out
}

// ResetAll restores every credential to healthy. Administrative override.
func (m *Monitor) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		r.mu.Lock()
		r.healthy = true
		r.lastError = ""
		r.mu.Unlock()
	}
}
