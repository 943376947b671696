package keypool_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raiden-shogun/pwapi/internal/domain"
	"github.com/raiden-shogun/pwapi/internal/health"
	"github.com/raiden-shogun/pwapi/internal/keypool"
	"github.com/raiden-shogun/pwapi/internal/ratelimit"
	pwerrors "github.com/raiden-shogun/pwapi/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	clk     *testclock.Clock
	limiter *ratelimit.WindowLimiter
	monitor *health.Monitor
	pool    *keypool.Pool
}

func newFixture(t *testing.T, limit int, creds ...domain.Credential) *fixture {
	t.Helper()
	clk := testclock.NewClock(time.Now())
	limiter := ratelimit.NewWindowLimiter(
		ratelimit.WithClock(clk),
		ratelimit.WithLimit(limit),
	)
	monitor := health.NewMonitor(discardLogger(), health.WithClock(clk))
	return &fixture{
		clk:     clk,
		limiter: limiter,
		monitor: monitor,
		pool:    keypool.NewPool(creds, limiter, monitor),
	}
}

func cred(id string, scope domain.Scope) domain.Credential {
	return domain.Credential{ID: id, Scope: scope, Secret: "secret-" + id}
}

func TestAcquireUnknownScope(t *testing.T) {
	f := newFixture(t, 10, cred("a", domain.ScopeEverything))

	_, err := f.pool.Acquire(domain.ScopeMessaging)
	assert.ErrorIs(t, err, pwerrors.ErrNoCredentialForScope)
}

func TestAcquireStaysInsideScope(t *testing.T) {
	f := newFixture(t, 10,
		cred("e1", domain.ScopeEverything),
		cred("e2", domain.ScopeEverything),
		cred("a1", domain.ScopeAlliance),
	)

	for i := 0; i < 20; i++ {
		c, err := f.pool.Acquire(domain.ScopeEverything)
		require.NoError(t, err)
		assert.Equal(t, domain.ScopeEverything, c.Scope)
	}
}

func TestAcquirePrefersLeastLoaded(t *testing.T) {
	// Scope with 4 credentials: 3 at quota, 1 with headroom. The loaded key
	// keeps winning until the window resets, even as its count grows.
	f := newFixture(t, 1000,
		cred("a", domain.ScopeAlliance),
		cred("b", domain.ScopeAlliance),
		cred("c", domain.ScopeAlliance),
		cred("d", domain.ScopeAlliance),
	)
	for _, id := range []string{"a", "b", "c"} {
		for i := 0; i < 1000; i++ {
			require.True(t, f.limiter.CheckAndReserve(id))
		}
	}
	for i := 0; i < 500; i++ {
		require.True(t, f.limiter.CheckAndReserve("d"))
	}

	c, err := f.pool.Acquire(domain.ScopeAlliance)
	require.NoError(t, err)
	assert.Equal(t, "d", c.ID)

	// One more call lands on d; it is still preferred at 501.
	require.True(t, f.limiter.CheckAndReserve("d"))
	c, err = f.pool.Acquire(domain.ScopeAlliance)
	require.NoError(t, err)
	assert.Equal(t, "d", c.ID)
}

func TestAcquireSkipsUnhealthy(t *testing.T) {
	f := newFixture(t, 10,
		cred("a", domain.ScopeEverything),
		cred("b", domain.ScopeEverything),
	)
	// Load b less than a so b would win on usage alone.
	require.True(t, f.limiter.CheckAndReserve("b"))
	require.True(t, f.limiter.CheckAndReserve("a"))
	require.True(t, f.limiter.CheckAndReserve("a"))

	f.monitor.MarkUnhealthy("b", "timeout")

	c, err := f.pool.Acquire(domain.ScopeEverything)
	require.NoError(t, err)
	assert.Equal(t, "a", c.ID)
}

func TestAcquireFailsOpenWhenAllUnhealthy(t *testing.T) {
	f := newFixture(t, 10,
		cred("a", domain.ScopeEverything),
		cred("b", domain.ScopeEverything),
	)
	f.monitor.MarkUnhealthy("a", "timeout")
	f.monitor.MarkUnhealthy("b", "timeout")
	require.True(t, f.limiter.CheckAndReserve("a"))

	// With the whole scope down the pool still answers, least-loaded first.
	c, err := f.pool.Acquire(domain.ScopeEverything)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)
}

func TestRotationSpreadsTies(t *testing.T) {
	f := newFixture(t, 1000,
		cred("a", domain.ScopeEverything),
		cred("b", domain.ScopeEverything),
		cred("c", domain.ScopeEverything),
	)

	seen := map[string]int{}
	for i := 0; i < 30; i++ {
		c, err := f.pool.Acquire(domain.ScopeEverything)
		require.NoError(t, err)
		seen[c.ID]++
		// Usage stays equal so every acquire is a three-way tie.
	}
	assert.Len(t, seen, 3, "ties should rotate across all keys: %v", seen)
}

func TestCandidatesCoverWholeScope(t *testing.T) {
	f := newFixture(t, 10,
		cred("a", domain.ScopeAlliance),
		cred("b", domain.ScopeAlliance),
		cred("c", domain.ScopeAlliance),
	)

	candidates, err := f.pool.Candidates(domain.ScopeAlliance)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)

	ids := map[string]bool{}
	for _, c := range candidates {
		ids[c.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestStats(t *testing.T) {
	f := newFixture(t, 10,
		cred("a", domain.ScopeEverything),
		cred("b", domain.ScopeEverything),
	)
	require.True(t, f.limiter.CheckAndReserve("a"))
	require.True(t, f.limiter.CheckAndReserve("a"))
	require.True(t, f.limiter.CheckAndReserve("b"))
	f.monitor.MarkUnhealthy("b", "HTTP 503")

	stats := f.pool.Stats()
	s := stats[domain.ScopeEverything]
	assert.Equal(t, 3, s.TotalCalls)
	assert.Equal(t, 1, s.HealthyCount)
	assert.Equal(t, 1, s.UnhealthyCount)
}

func TestReset(t *testing.T) {
	f := newFixture(t, 10, cred("a", domain.ScopeEverything))
	require.True(t, f.limiter.CheckAndReserve("a"))
	f.monitor.MarkUnhealthy("a", "timeout")

	f.pool.Reset()

	s := f.pool.Stats()[domain.ScopeEverything]
	assert.Equal(t, 0, s.TotalCalls)
	assert.Equal(t, 1, s.HealthyCount)
}
