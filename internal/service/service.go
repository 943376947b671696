// Package service is the surface the command layer calls: entity and bulk
// fetches served cache-first, administrative refresh, and pool diagnostics.
// It owns the three cache tiers and the query/decode glue around the fetch
// dispatcher.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/juju/clock"

	"github.com/raiden-shogun/pwapi/internal/cache"
	"github.com/raiden-shogun/pwapi/internal/domain"
	"github.com/raiden-shogun/pwapi/internal/keypool"
	"github.com/raiden-shogun/pwapi/internal/metrics"
	"github.com/raiden-shogun/pwapi/internal/upstream"
	pwerrors "github.com/raiden-shogun/pwapi/pkg/errors"
)

// bulkKey is the single key of the bulk dataset tier.
const bulkKey = "dataset"

// Executor is the dispatcher surface the service fetches through.
type Executor interface {
	Execute(ctx context.Context, scope domain.Scope, req upstream.Request) (*upstream.Response, error)
}

// Params collects the service's collaborators and tier settings.
type Params struct {
	Dispatcher  Executor
	Pool        *keypool.Pool
	Logger      *slog.Logger
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	AllianceID  int
	BulkTTL     time.Duration
	NationTTL   time.Duration
	AllianceTTL time.Duration
	SnapshotDir string
}

// Service serves cached game data backed by the fetch dispatcher.
type Service struct {
	dispatcher Executor
	pool       *keypool.Pool
	logger     *slog.Logger
	clock      clock.Clock
	metrics    *metrics.Metrics
	allianceID int

	bulk      *cache.Tier[string, domain.Dataset]
	nations   *cache.Tier[int, domain.Nation]
	alliances *cache.Tier[int, domain.AllianceSnapshot]

	classifier   *pwerrors.ErrorClassifier
	snapshotPath string
}

// New wires the service and its cache tiers.
func New(p Params) *Service {
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	s := &Service{
		dispatcher: p.Dispatcher,
		pool:       p.Pool,
		logger:     p.Logger.With("component", "service"),
		clock:      p.Clock,
		metrics:    p.Metrics,
		allianceID: p.AllianceID,
		classifier: pwerrors.NewErrorClassifier(p.Logger),
	}
	if p.SnapshotDir != "" {
		s.snapshotPath = filepath.Join(p.SnapshotDir, "bulk.json")
	}

	bulkOpts := []cache.TierOption[string, domain.Dataset]{
		cache.WithTierClock[string, domain.Dataset](p.Clock),
		cache.WithTierMetrics[string, domain.Dataset](p.Metrics),
		cache.WithValidator[string](validateDataset),
	}
	if s.snapshotPath != "" {
		bulkOpts = append(bulkOpts, cache.WithCommitHook[string](s.saveBulkSnapshot))
	}
	s.bulk = cache.NewTier("bulk", p.BulkTTL, s.fetchDataset, p.Logger, bulkOpts...)

	s.nations = cache.NewTier("nation", p.NationTTL, s.fetchNation, p.Logger,
		cache.WithTierClock[int, domain.Nation](p.Clock),
		cache.WithTierMetrics[int, domain.Nation](p.Metrics),
		cache.WithValidator[int](validateNation),
	)

	s.alliances = cache.NewTier("alliance", p.AllianceTTL, s.fetchAlliance, p.Logger,
		cache.WithTierClock[int, domain.AllianceSnapshot](p.Clock),
		cache.WithTierMetrics[int, domain.AllianceSnapshot](p.Metrics),
		cache.WithValidator[int](validateAlliance),
	)

	return s
}

// FetchNation returns the nation snapshot, serving stale data immediately
// while a background refresh runs. Only a never-populated key blocks on the
// upstream.
func (s *Service) FetchNation(ctx context.Context, nationID int) (*domain.Nation, error) {
	v, status := s.nations.Get(nationID)
	switch status {
	case cache.StatusFresh:
		return &v, nil
	case cache.StatusStale:
		s.refreshAsync(func(ctx context.Context) {
			_, _ = s.nations.Refresh(ctx, nationID)
		})
		return &v, nil
	default:
		fresh, err := s.nations.Refresh(ctx, nationID)
		if err != nil {
			return nil, err
		}
		return &fresh, nil
	}
}

// FetchBulkDataset returns the CSV dump snapshot with the same staleness
// policy as FetchNation.
func (s *Service) FetchBulkDataset(ctx context.Context) (*domain.Dataset, error) {
	v, status := s.bulk.Get(bulkKey)
	switch status {
	case cache.StatusFresh:
		return &v, nil
	case cache.StatusStale:
		s.refreshAsync(func(ctx context.Context) {
			_, _ = s.bulk.Refresh(ctx, bulkKey)
		})
		return &v, nil
	default:
		fresh, err := s.bulk.Refresh(ctx, bulkKey)
		if err != nil {
			return nil, err
		}
		return &fresh, nil
	}
}

// FetchAllianceSnapshot returns the aggregate alliance view (record plus
// member roster).
func (s *Service) FetchAllianceSnapshot(ctx context.Context, allianceID int) (*domain.AllianceSnapshot, error) {
	v, status := s.alliances.Get(allianceID)
	switch status {
	case cache.StatusFresh:
		return &v, nil
	case cache.StatusStale:
		s.refreshAsync(func(ctx context.Context) {
			_, _ = s.alliances.Refresh(ctx, allianceID)
		})
		return &v, nil
	default:
		fresh, err := s.alliances.Refresh(ctx, allianceID)
		if err != nil {
			return nil, err
		}
		return &fresh, nil
	}
}

// FetchTradePrices returns the latest market prices. Prices move constantly
// and the payload is tiny, so this goes straight through the dispatcher.
func (s *Service) FetchTradePrices(ctx context.Context) (*domain.TradePrices, error) {
	resp, err := s.dispatcher.Execute(ctx, domain.ScopeEverything, upstream.Request{
		Kind:  upstream.KindGraphQL,
		Query: tradePricesQuery(),
	})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(env.Data.TradePrices.Data) == 0 {
		return nil, fmt.Errorf("no trade price data in response")
	}
	return &env.Data.TradePrices.Data[0], nil
}

// ForceRefresh bypasses the TTL for one tier (and key, where the tier is
// keyed). Concurrent refreshes of the same key still collapse into a single
// upstream fetch.
func (s *Service) ForceRefresh(ctx context.Context, tier, key string) error {
	switch tier {
	case "bulk":
		_, err := s.bulk.Refresh(ctx, bulkKey)
		return err
	case "nation":
		id, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("%w: nation key %q", pwerrors.ErrInvalidRequest, key)
		}
		_, err = s.nations.Refresh(ctx, id)
		return err
	case "alliance":
		id := s.allianceID
		if key != "" {
			var err error
			if id, err = strconv.Atoi(key); err != nil {
				return fmt.Errorf("%w: alliance key %q", pwerrors.ErrInvalidRequest, key)
			}
		}
		_, err := s.alliances.Refresh(ctx, id)
		return err
	}
	return fmt.Errorf("%w: unknown tier %q", pwerrors.ErrInvalidRequest, tier)
}

// SanitizeError logs the full pipeline error and returns the short message
// the command layer may show a user. Internal detail (key IDs, upstream
// bodies, endpoints) never crosses this boundary.
func (s *Service) SanitizeError(ctx context.Context, err error, operation string) error {
	return s.classifier.LogAndSanitize(ctx, s.classifier.Classify(err, operation))
}

// PoolStats reports per-scope usage and health, and refreshes the
// unhealthy-key gauge as a side effect.
func (s *Service) PoolStats() map[domain.Scope]domain.ScopeStats {
	stats := s.pool.Stats()
	for scope, st := range stats {
		s.metrics.SetUnhealthyKeys(string(scope), st.UnhealthyCount)
	}
	return stats
}

// ResetPool restores every key to healthy with a fresh quota window.
// Administrative override.
func (s *Service) ResetPool() {
	s.pool.Reset()
	s.logger.Info("key pool reset")
}

// Sweeps returns the background refresh jobs for the scheduler: each tier at
// its own TTL cadence.
func (s *Service) Sweeps() []cache.SweepFunc {
	return []cache.SweepFunc{
		{
			TierName: s.bulk.Name(),
			Period:   s.bulk.TTL(),
			Sweep: func(ctx context.Context) error {
				_, err := s.bulk.Refresh(ctx, bulkKey)
				return err
			},
		},
		{
			TierName: s.nations.Name(),
			Period:   s.nations.TTL(),
			Sweep: func(ctx context.Context) error {
				var lastErr error
				for _, id := range s.nations.Keys() {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if _, err := s.nations.Refresh(ctx, id); err != nil {
						lastErr = err
					}
				}
				return lastErr
			},
		},
		{
			TierName: s.alliances.Name(),
			Period:   s.alliances.TTL(),
			Sweep: func(ctx context.Context) error {
				_, err := s.alliances.Refresh(ctx, s.allianceID)
				return err
			},
		},
	}
}

// WarmStart seeds the bulk tier from the last saved snapshot, if one exists
// and decodes. Anything else is a cold start, not an error.
func (s *Service) WarmStart() {
	if s.snapshotPath == "" {
		return
	}
	var ds domain.Dataset
	if err := cache.LoadSnapshot(s.snapshotPath, &ds); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("ignoring unreadable bulk snapshot", "error", err.Error())
		}
		return
	}
	if err := validateDataset(ds); err != nil {
		s.logger.Warn("ignoring invalid bulk snapshot", "error", err.Error())
		return
	}
	s.bulk.Seed(bulkKey, ds, ds.FetchedAt)
	s.logger.Info("bulk tier warmed from snapshot", "fetched_at", ds.FetchedAt)
}

func (s *Service) saveBulkSnapshot(_ string, ds domain.Dataset) {
	if err := cache.SaveSnapshot(s.snapshotPath, ds); err != nil {
		s.logger.Warn("bulk snapshot write failed", "error", err.Error())
	}
}

// refreshAsync runs a refresh detached from the caller's lifetime; the tier's
// singleflight keeps piled-up triggers down to one fetch.
func (s *Service) refreshAsync(fn func(ctx context.Context)) {
	go fn(context.Background())
}

func (s *Service) fetchNation(ctx context.Context, nationID int) (domain.Nation, error) {
	resp, err := s.dispatcher.Execute(ctx, domain.ScopeEverything, upstream.Request{
		Kind:  upstream.KindGraphQL,
		Query: nationQuery(nationID),
	})
	if err != nil {
		return domain.Nation{}, err
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return domain.Nation{}, err
	}
	if len(env.Data.Nations.Data) == 0 {
		return domain.Nation{}, fmt.Errorf("nation %d not found", nationID)
	}
	return env.Data.Nations.Data[0], nil
}

func (s *Service) fetchAlliance(ctx context.Context, allianceID int) (domain.AllianceSnapshot, error) {
	resp, err := s.dispatcher.Execute(ctx, domain.ScopeAlliance, upstream.Request{
		Kind:  upstream.KindGraphQL,
		Query: allianceQuery(allianceID),
	})
	if err != nil {
		return domain.AllianceSnapshot{}, err
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return domain.AllianceSnapshot{}, err
	}
	if len(env.Data.Alliances.Data) == 0 {
		return domain.AllianceSnapshot{}, fmt.Errorf("alliance %d not found", allianceID)
	}
	snapshot := env.Data.Alliances.Data[0]

	resp, err = s.dispatcher.Execute(ctx, domain.ScopeAlliance, upstream.Request{
		Kind:  upstream.KindGraphQL,
		Query: allianceMembersQuery(allianceID),
	})
	if err != nil {
		return domain.AllianceSnapshot{}, err
	}
	env, err = decodeEnvelope(resp.Body)
	if err != nil {
		return domain.AllianceSnapshot{}, err
	}
	snapshot.Members = env.Data.Nations.Data
	return snapshot, nil
}

// fetchDataset downloads the four CSV dumps that make up one bulk snapshot.
// Alliance data needs the alliance-scoped keys; the rest use the general
// pool, matching how the upstream scopes its dumps.
func (s *Service) fetchDataset(ctx context.Context, _ string) (domain.Dataset, error) {
	ds := domain.Dataset{FetchedAt: s.clock.Now()}

	downloads := []struct {
		dataset string
		scope   domain.Scope
		into    *domain.Table
	}{
		{"nations", domain.ScopeEverything, &ds.Nations},
		{"cities", domain.ScopeEverything, &ds.Cities},
		{"wars", domain.ScopeEverything, &ds.Wars},
		{"alliances", domain.ScopeAlliance, &ds.Alliances},
	}

	for _, dl := range downloads {
		resp, err := s.dispatcher.Execute(ctx, dl.scope, upstream.Request{
			Kind:    upstream.KindCSV,
			Dataset: dl.dataset,
		})
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("download %s: %w", dl.dataset, err)
		}
		table, err := parseCSV(resp.Body)
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("parse %s: %w", dl.dataset, err)
		}
		*dl.into = table
	}

	return ds, nil
}

func validateNation(n domain.Nation) error {
	if n.ID == 0 {
		return fmt.Errorf("nation missing id")
	}
	if n.NationName == "" || n.LeaderName == "" {
		return fmt.Errorf("nation %d missing required name fields", n.ID)
	}
	return nil
}

func validateAlliance(a domain.AllianceSnapshot) error {
	if a.ID == 0 || a.Name == "" {
		return fmt.Errorf("alliance snapshot missing id or name")
	}
	return nil
}

func validateDataset(ds domain.Dataset) error {
	for _, table := range []struct {
		name string
		t    domain.Table
	}{
		{"nations", ds.Nations},
		{"cities", ds.Cities},
		{"wars", ds.Wars},
		{"alliances", ds.Alliances},
	} {
		if len(table.t.Columns) == 0 || len(table.t.Rows) == 0 {
			return fmt.Errorf("%s table empty", table.name)
		}
	}
	if ds.Nations.Lookup("nation_id") < 0 {
		return fmt.Errorf("nations table missing nation_id column")
	}
	return nil
}
