// Package keypool owns the scoped credential pool. Selection is least-loaded
// among healthy keys with a stable rotation tie-break, failing open to the
// full scope list when nothing is healthy: the pool never blocks a caller on
// health alone.
package keypool

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/raiden-shogun/pwapi/internal/domain"
	pwerrors "github.com/raiden-shogun/pwapi/pkg/errors"
)

// UsageSource is the rate limiter's read surface the pool selects against.
type UsageSource interface {
	Usage(credentialID string) int
	ResetAll()
}

// HealthSource is the health monitor's read surface.
type HealthSource interface {
	IsHealthy(credentialID string) bool
	ResetAll()
}

// Pool holds the credentials per scope. The credential lists themselves are
// read-only after construction; the only mutable state is a per-scope
// rotation counter.
type Pool struct {
	scopes   map[domain.Scope][]domain.Credential
	usage    UsageSource
	health   HealthSource
	rotation map[domain.Scope]*atomic.Uint64
}

// NewPool builds a pool from the configured credentials.
func NewPool(creds []domain.Credential, usage UsageSource, health HealthSource) *Pool {
	p := &Pool{
		scopes:   make(map[domain.Scope][]domain.Credential),
		usage:    usage,
		health:   health,
		rotation: make(map[domain.Scope]*atomic.Uint64),
	}
	for _, c := range creds {
		p.scopes[c.Scope] = append(p.scopes[c.Scope], c)
	}
	for scope := range p.scopes {
		p.rotation[scope] = &atomic.Uint64{}
	}
	return p
}

// Acquire selects the best credential for the scope. It does not reserve
// quota; that happens only when a call is actually attempted.
func (p *Pool) Acquire(scope domain.Scope) (domain.Credential, error) {
	candidates, err := p.Candidates(scope)
	if err != nil {
		return domain.Credential{}, err
	}
	return candidates[0], nil
}

// Candidates returns the scope's credentials ordered best-first for one
// dispatch attempt: healthy before unhealthy, then ascending window usage,
// with ties rotated so equal keys share load evenly. The dispatcher walks
// this list when a reservation is refused; its length bounds the walk.
func (p *Pool) Candidates(scope domain.Scope) ([]domain.Credential, error) {
	creds, ok := p.scopes[scope]
	if !ok || len(creds) == 0 {
		return nil, fmt.Errorf("%w: %s", pwerrors.ErrNoCredentialForScope, scope)
	}

	type ranked struct {
		cred    domain.Credential
		healthy bool
		usage   int
	}

	rot := int(p.rotation[scope].Add(1) - 1)
	ordered := make([]ranked, 0, len(creds))
	anyHealthy := false
	// Rotate the starting offset before ranking so that sort stability turns
	// into a fair tie-break among equally loaded keys.
	for i := range creds {
		c := creds[(i+rot)%len(creds)]
		h := p.health.IsHealthy(c.ID)
		if h {
			anyHealthy = true
		}
		ordered = append(ordered, ranked{cred: c, healthy: h, usage: p.usage.Usage(c.ID)})
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		// Health ordering only matters while some key is healthy; with the
		// whole scope down we fail open and rank purely by load.
		if anyHealthy && ordered[i].healthy != ordered[j].healthy {
			return ordered[i].healthy
		}
		return ordered[i].usage < ordered[j].usage
	})

	out := make([]domain.Credential, len(ordered))
	for i, r := range ordered {
		out[i] = r.cred
	}
	return out, nil
}

// Stats reports per-scope usage and health for diagnostics.
func (p *Pool) Stats() map[domain.Scope]domain.ScopeStats {
	out := make(map[domain.Scope]domain.ScopeStats, len(p.scopes))
	for scope, creds := range p.scopes {
		var s domain.ScopeStats
		for _, c := range creds {
			s.TotalCalls += p.usage.Usage(c.ID)
			if p.health.IsHealthy(c.ID) {
				s.HealthyCount++
			} else {
				s.UnhealthyCount++
			}
		}
		out[scope] = s
	}
	return out
}

// Scopes lists the configured scopes.
func (p *Pool) Scopes() []domain.Scope {
	out := make([]domain.Scope, 0, len(p.scopes))
	for scope := range p.scopes {
		out = append(out, scope)
	}
	return out
}

// Reset restores every credential to healthy and restarts every quota window.
// Administrative override, mirrored by the pool stats going back to zero.
func (p *Pool) Reset() {
	p.health.ResetAll()
	p.usage.ResetAll()
}
