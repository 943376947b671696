package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// Refreshable is the tier surface the scheduler drives. Keys are provided by
// the tier itself (per-entity sweeps) or pinned by the caller (the bulk tier
// has a single well-known key).
type Refreshable interface {
	Name() string
	TTL() time.Duration
	RefreshAll(ctx context.Context) error
}

// Scheduler triggers a refresh on each registered tier at its TTL cadence,
// independent of read traffic. On-demand refreshes run through the same
// singleflight group inside the tier, so the scheduler never duplicates an
// in-flight fetch and never blocks one.
type Scheduler struct {
	tiers  []Refreshable
	clock  clock.Clock
	logger *slog.Logger
}

// NewScheduler creates a scheduler for the given tiers.
func NewScheduler(logger *slog.Logger, clk clock.Clock, tiers ...Refreshable) *Scheduler {
	return &Scheduler{
		tiers:  tiers,
		clock:  clk,
		logger: logger.With("component", "cache_scheduler"),
	}
}

// Run blocks until the context is done, sweeping each tier on its own timer.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	for _, tier := range s.tiers {
		go func(tier Refreshable) {
			defer func() { done <- struct{}{} }()
			s.runTier(ctx, tier)
		}(tier)
	}
	for range s.tiers {
		<-done
	}
}

func (s *Scheduler) runTier(ctx context.Context, tier Refreshable) {
	timer := s.clock.NewTimer(tier.TTL())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}

		if err := tier.RefreshAll(ctx); err != nil {
			// Refresh errors are recoverable: the tier keeps serving the
			// previous snapshot and the next sweep tries again.
			s.logger.Warn("scheduled refresh failed",
				"tier", tier.Name(),
				"error", err.Error(),
			)
		}
		timer.Reset(tier.TTL())
	}
}

// SweepFunc adapts a tier plus a key source into a Refreshable.
type SweepFunc struct {
	TierName string
	Period   time.Duration
	Sweep    func(ctx context.Context) error
}

func (s SweepFunc) Name() string       { return s.TierName }
func (s SweepFunc) TTL() time.Duration { return s.Period }

func (s SweepFunc) RefreshAll(ctx context.Context) error { return s.Sweep(ctx) }
