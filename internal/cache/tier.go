// Package cache implements the tiered snapshot store. Each tier holds
// complete, validated payloads that are replaced wholesale on refresh: a
// reader can see an absent, fresh, or stale snapshot, never a partial one.
// Staleness is informational; reads return immediately either way.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/singleflight"

	"github.com/raiden-shogun/pwapi/internal/metrics"
	pwerrors "github.com/raiden-shogun/pwapi/pkg/errors"
)

// Status describes what a read found.
type Status int

const (
	// StatusAbsent means the key has never been populated.
	StatusAbsent Status = iota
	// StatusFresh means the payload is within its TTL.
	StatusFresh
	// StatusStale means the payload outlived its TTL but is still served.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	default:
		return "absent"
	}
}

// FetchFunc produces a new payload for a key, typically through the fetch
// dispatcher.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// ValidateFunc rejects structurally invalid payloads before they are
// committed. A nil validator accepts everything.
type ValidateFunc[V any] func(V) error

// CommitHook observes successful commits (used for disk snapshots).
type CommitHook[K comparable, V any] func(key K, value V)

type entry[V any] struct {
	payload   V
	fetchedAt time.Time
	lastErr   error
}

// Tier is one independently expiring store. Entries are replaced by pointer
// swap under a short map lock; fetches run outside any lock and concurrent
// refreshes of the same key collapse into a single in-flight call.
type Tier[K comparable, V any] struct {
	name     string
	ttl      time.Duration
	fetch    FetchFunc[K, V]
	validate ValidateFunc[V]
	onCommit CommitHook[K, V]
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	entries map[K]*entry[V]
	flight  singleflight.Group
}

// TierOption configures a Tier.
type TierOption[K comparable, V any] func(*Tier[K, V])

// WithValidator sets the structural validator applied before commit.
func WithValidator[K comparable, V any](v ValidateFunc[V]) TierOption[K, V] {
	return func(t *Tier[K, V]) { t.validate = v }
}

// WithTierClock injects the clock used for TTL arithmetic.
func WithTierClock[K comparable, V any](clk clock.Clock) TierOption[K, V] {
	return func(t *Tier[K, V]) { t.clock = clk }
}

// WithCommitHook registers a hook run after each successful commit.
func WithCommitHook[K comparable, V any](h CommitHook[K, V]) TierOption[K, V] {
	return func(t *Tier[K, V]) { t.onCommit = h }
}

// WithTierMetrics attaches instrumentation.
func WithTierMetrics[K comparable, V any](m *metrics.Metrics) TierOption[K, V] {
	return func(t *Tier[K, V]) { t.metrics = m }
}

// NewTier creates a tier with the given TTL and fetch path.
func NewTier[K comparable, V any](name string, ttl time.Duration, fetch FetchFunc[K, V], logger *slog.Logger, opts ...TierOption[K, V]) *Tier[K, V] {
	t := &Tier[K, V]{
		name:    name,
		ttl:     ttl,
		fetch:   fetch,
		clock:   clock.WallClock,
		logger:  logger.With("component", "cache", "tier", name),
		entries: make(map[K]*entry[V]),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the tier's name.
func (t *Tier[K, V]) Name() string { return t.name }

// TTL returns the tier's expiry period.
func (t *Tier[K, V]) TTL() time.Duration { return t.ttl }

// Get returns the current payload for the key without blocking on network
// I/O. A stale payload is still returned; the status tells the caller whether
// a background refresh is wanted.
func (t *Tier[K, V]) Get(key K) (V, Status) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()

	if !ok {
		var zero V
		t.metrics.RecordCacheRead(t.name, StatusAbsent.String())
		return zero, StatusAbsent
	}

	status := StatusFresh
	if t.clock.Now().Sub(e.fetchedAt) >= t.ttl {
		status = StatusStale
	}
	t.metrics.RecordCacheRead(t.name, status.String())
	return e.payload, status
}

// Keys returns every populated key, for the background sweep.
func (t *Tier[K, V]) Keys() []K {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]K, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	return out
}

// Refresh fetches and commits a new payload for the key. Concurrent calls for
// the same key collapse into one upstream fetch; every caller receives that
// fetch's result. A failed or invalid fetch leaves any previous entry in
// place and records the error on it.
func (t *Tier[K, V]) Refresh(ctx context.Context, key K) (V, error) {
	v, err, _ := t.flight.Do(fmt.Sprintf("%v", key), func() (interface{}, error) {
		return t.refreshOne(ctx, key)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (t *Tier[K, V]) refreshOne(ctx context.Context, key K) (V, error) {
	payload, err := t.fetch(ctx, key)
	if err != nil {
		t.recordFailure(key, err)
		var zero V
		return zero, err
	}

	if t.validate != nil {
		if verr := t.validate(payload); verr != nil {
			err := fmt.Errorf("%w: %v", pwerrors.ErrCacheValidation, verr)
			t.recordFailure(key, err)
			var zero V
			return zero, err
		}
	}

	t.commit(key, payload)
	return payload, nil
}

// Seed installs a payload directly, bypassing fetch and validation. Used to
// warm a tier from a disk snapshot; fetchedAt is the snapshot's own time so
// an old snapshot is immediately stale, not wrongly fresh.
func (t *Tier[K, V]) Seed(key K, payload V, fetchedAt time.Time) {
	t.mu.Lock()
	t.entries[key] = &entry[V]{payload: payload, fetchedAt: fetchedAt}
	t.mu.Unlock()
}

// Invalidate drops the entry for a key.
func (t *Tier[K, V]) Invalidate(key K) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

func (t *Tier[K, V]) commit(key K, payload V) {
	e := &entry[V]{payload: payload, fetchedAt: t.clock.Now()}
	t.mu.Lock()
	t.entries[key] = e
	t.mu.Unlock()

	if t.onCommit != nil {
		t.onCommit(key, payload)
	}
}

// recordFailure keeps the previous payload observable and logs the refresh
// error; readers are never shown a failure in place of data.
func (t *Tier[K, V]) recordFailure(key K, err error) {
	t.metrics.RecordRefreshFailure(t.name)
	t.logger.Warn("refresh failed, retaining previous entry",
		"key", fmt.Sprintf("%v", key),
		"error", err.Error(),
	)

	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		t.mu.Lock()
		e.lastErr = err
		t.mu.Unlock()
	}
}
