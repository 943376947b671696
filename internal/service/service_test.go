package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raiden-shogun/pwapi/internal/domain"
	"github.com/raiden-shogun/pwapi/internal/health"
	"github.com/raiden-shogun/pwapi/internal/keypool"
	"github.com/raiden-shogun/pwapi/internal/ratelimit"
	"github.com/raiden-shogun/pwapi/internal/service"
	"github.com/raiden-shogun/pwapi/internal/upstream"
	pwerrors "github.com/raiden-shogun/pwapi/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor answers dispatches from a handler function and counts calls.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []upstream.Request
	handler func(req upstream.Request) (*upstream.Response, error)
}

func (f *fakeExecutor) Execute(_ context.Context, _ domain.Scope, req upstream.Request) (*upstream.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.handler(req)
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func nationBody(id int, name, leader string) *upstream.Response {
	body := fmt.Sprintf(`{"data":{"nations":{"data":[
		{"id":"%d","nation_name":"%s","leader_name":"%s","score":1500.5,"alliance_id":"13033"}
	]}}}`, id, name, leader)
	return &upstream.Response{Status: 200, Body: []byte(body)}
}

func csvBody(dataset string) *upstream.Response {
	var body string
	switch dataset {
	case "nations":
		body = "nation_id,nation_name\n101,Inazuma\n"
	default:
		body = "id,name\n1,row\n"
	}
	return &upstream.Response{Status: 200, Body: []byte(body)}
}

type fixture struct {
	svc  *service.Service
	exec *fakeExecutor
	clk  *testclock.Clock
	dir  string
}

func newFixture(t *testing.T, handler func(req upstream.Request) (*upstream.Response, error)) *fixture {
	t.Helper()
	clk := testclock.NewClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	exec := &fakeExecutor{handler: handler}

	creds := []domain.Credential{
		{ID: "everything-1", Scope: domain.ScopeEverything, Secret: "aaaa"},
		{ID: "alliance-1", Scope: domain.ScopeAlliance, Secret: "bbbb"},
	}
	limiter := ratelimit.NewWindowLimiter(ratelimit.WithClock(clk))
	monitor := health.NewMonitor(discardLogger(), health.WithClock(clk))
	pool := keypool.NewPool(creds, limiter, monitor)

	dir := t.TempDir()
	svc := service.New(service.Params{
		Dispatcher:  exec,
		Pool:        pool,
		Logger:      discardLogger(),
		Clock:       clk,
		AllianceID:  13033,
		BulkTTL:     5 * time.Minute,
		NationTTL:   5 * time.Minute,
		AllianceTTL: 30 * time.Minute,
		SnapshotDir: dir,
	})
	return &fixture{svc: svc, exec: exec, clk: clk, dir: dir}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestFetchNationColdStartBlocks(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nationBody(101, "Inazuma", "Ei"), nil
	})

	n, err := f.svc.FetchNation(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 101, n.ID)
	assert.Equal(t, "Inazuma", n.NationName)
	assert.Equal(t, 13033, n.AllianceID)
	assert.Equal(t, 1, f.exec.callCount())
}

func TestFetchNationFreshServedFromCache(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nationBody(101, "Inazuma", "Ei"), nil
	})

	_, err := f.svc.FetchNation(context.Background(), 101)
	require.NoError(t, err)

	n, err := f.svc.FetchNation(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, "Inazuma", n.NationName)
	assert.Equal(t, 1, f.exec.callCount(), "fresh read must not touch the upstream")
}

func TestFetchNationStaleServesOldAndRefreshesBehind(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nationBody(101, "Inazuma", "Ei"), nil
	})

	_, err := f.svc.FetchNation(context.Background(), 101)
	require.NoError(t, err)

	f.clk.Advance(5 * time.Minute)

	n, err := f.svc.FetchNation(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, "Inazuma", n.NationName, "stale payload is still served")

	waitFor(t, func() bool { return f.exec.callCount() == 2 })
}

func TestFetchNationRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nationBody(101, "", ""), nil
	})

	_, err := f.svc.FetchNation(context.Background(), 101)
	require.Error(t, err)
	assert.ErrorIs(t, err, pwerrors.ErrCacheValidation)
}

func TestFetchNationNotFound(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return &upstream.Response{Status: 200, Body: []byte(`{"data":{"nations":{"data":[]}}}`)}, nil
	})

	_, err := f.svc.FetchNation(context.Background(), 404404)
	assert.ErrorContains(t, err, "not found")
}

func TestFetchBulkDatasetDownloadsAllDumps(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		require.Equal(t, upstream.KindCSV, req.Kind)
		return csvBody(req.Dataset), nil
	})

	ds, err := f.svc.FetchBulkDataset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, f.exec.callCount())
	assert.Equal(t, []string{"nation_id", "nation_name"}, ds.Nations.Columns)
	require.Len(t, ds.Nations.Rows, 1)
	assert.Equal(t, "101", ds.Nations.Rows[0][0])
	assert.NotZero(t, ds.Cities.Rows)
	assert.NotZero(t, ds.Wars.Rows)
	assert.NotZero(t, ds.Alliances.Rows)
}

func TestBulkCommitWritesSnapshot(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return csvBody(req.Dataset), nil
	})

	_, err := f.svc.FetchBulkDataset(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(f.dir, "bulk.json"))
	assert.NoError(t, err)
}

func TestWarmStartSeedsBulkFromSnapshot(t *testing.T) {
	first := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return csvBody(req.Dataset), nil
	})
	_, err := first.svc.FetchBulkDataset(context.Background())
	require.NoError(t, err)

	// A second process starting against the same snapshot directory must not
	// hit the upstream to serve bulk data.
	clk := testclock.NewClock(time.Date(2026, 1, 10, 13, 0, 0, 0, time.UTC))
	exec := &fakeExecutor{handler: func(req upstream.Request) (*upstream.Response, error) {
		return nil, errors.New("upstream must not be called")
	}}
	limiter := ratelimit.NewWindowLimiter(ratelimit.WithClock(clk))
	monitor := health.NewMonitor(discardLogger(), health.WithClock(clk))
	pool := keypool.NewPool([]domain.Credential{
		{ID: "everything-1", Scope: domain.ScopeEverything, Secret: "aaaa"},
	}, limiter, monitor)

	second := service.New(service.Params{
		Dispatcher:  exec,
		Pool:        pool,
		Logger:      discardLogger(),
		Clock:       clk,
		AllianceID:  13033,
		BulkTTL:     5 * time.Minute,
		NationTTL:   5 * time.Minute,
		AllianceTTL: 30 * time.Minute,
		SnapshotDir: first.dir,
	})
	second.WarmStart()

	ds, err := second.FetchBulkDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nation_id", "nation_name"}, ds.Nations.Columns)
}

func TestWarmStartIgnoresMissingSnapshot(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return csvBody(req.Dataset), nil
	})
	f.svc.WarmStart()
	assert.Equal(t, 0, f.exec.callCount())
}

func TestFetchAllianceSnapshotAttachesMembers(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		if strings.Contains(req.Query, "alliances(") {
			body := `{"data":{"alliances":{"data":[
				{"id":"13033","name":"The Immortals","acronym":"TI","score":250000.0}
			]}}}`
			return &upstream.Response{Status: 200, Body: []byte(body)}, nil
		}
		body := `{"data":{"nations":{"data":[
			{"id":"101","nation_name":"Inazuma","leader_name":"Ei","alliance_id":"13033"},
			{"id":"102","nation_name":"Mondstadt","leader_name":"Venti","alliance_id":"13033"}
		]}}}`
		return &upstream.Response{Status: 200, Body: []byte(body)}, nil
	})

	snap, err := f.svc.FetchAllianceSnapshot(context.Background(), 13033)
	require.NoError(t, err)
	assert.Equal(t, "The Immortals", snap.Name)
	require.Len(t, snap.Members, 2)
	assert.Equal(t, "Mondstadt", snap.Members[1].NationName)
	assert.Equal(t, 2, f.exec.callCount(), "one call for the record, one for the roster")
}

func TestFetchTradePricesBypassesCache(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		body := `{"data":{"tradeprices":{"data":[
			{"id":"9000","date":"2026-01-10","food":110.5,"steel":1800.0}
		]}}}`
		return &upstream.Response{Status: 200, Body: []byte(body)}, nil
	})

	p, err := f.svc.FetchTradePrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 110.5, p.Food)

	_, err = f.svc.FetchTradePrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.exec.callCount(), "prices are never cached")
}

func TestForceRefreshNation(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nationBody(101, "Inazuma", "Ei"), nil
	})

	require.NoError(t, f.svc.ForceRefresh(context.Background(), "nation", "101"))
	assert.Equal(t, 1, f.exec.callCount())

	// Force refresh ignores the TTL entirely.
	require.NoError(t, f.svc.ForceRefresh(context.Background(), "nation", "101"))
	assert.Equal(t, 2, f.exec.callCount())
}

func TestForceRefreshRejectsUnknownTier(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nil, errors.New("unreachable")
	})

	err := f.svc.ForceRefresh(context.Background(), "weather", "")
	assert.ErrorIs(t, err, pwerrors.ErrInvalidRequest)

	err = f.svc.ForceRefresh(context.Background(), "nation", "not-a-number")
	assert.ErrorIs(t, err, pwerrors.ErrInvalidRequest)
}

func TestForceRefreshAllianceDefaultsToHome(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		if strings.Contains(req.Query, "alliances(") {
			return &upstream.Response{Status: 200, Body: []byte(`{"data":{"alliances":{"data":[{"id":"13033","name":"The Immortals"}]}}}`)}, nil
		}
		return &upstream.Response{Status: 200, Body: []byte(`{"data":{"nations":{"data":[]}}}`)}, nil
	})

	require.NoError(t, f.svc.ForceRefresh(context.Background(), "alliance", ""))

	snap, err := f.svc.FetchAllianceSnapshot(context.Background(), 13033)
	require.NoError(t, err)
	assert.Equal(t, "The Immortals", snap.Name)
	assert.Equal(t, 2, f.exec.callCount(), "snapshot read after force refresh is a cache hit")
}

func TestPoolStatsReportsConfiguredScopes(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nationBody(101, "Inazuma", "Ei"), nil
	})

	stats := f.svc.PoolStats()
	require.Contains(t, stats, domain.ScopeEverything)
	require.Contains(t, stats, domain.ScopeAlliance)
	assert.Equal(t, 1, stats[domain.ScopeEverything].HealthyCount)
}

func TestSanitizeErrorHidesPipelineDetail(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nil, errors.New("unreachable")
	})

	internal := fmt.Errorf("credential everything-1: %w", pwerrors.ErrQuotaExhausted)
	out := f.svc.SanitizeError(context.Background(), internal, "fetch_nation")
	require.Error(t, out)
	assert.NotContains(t, out.Error(), "everything-1")
}

func TestSweepsCoverEveryTier(t *testing.T) {
	f := newFixture(t, func(req upstream.Request) (*upstream.Response, error) {
		return nationBody(101, "Inazuma", "Ei"), nil
	})

	sweeps := f.svc.Sweeps()
	names := make([]string, len(sweeps))
	for i, s := range sweeps {
		names[i] = s.TierName
	}
	assert.ElementsMatch(t, []string{"bulk", "nation", "alliance"}, names)
}
