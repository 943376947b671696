// Package dispatch wraps a single logical API call with key acquisition,
// quota reservation, retry with exponential backoff, and failover across the
// scope's credential pool. Every call path terminates in either a response or
// a typed error; nothing is silently dropped.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/raiden-shogun/pwapi/internal/domain"
	"github.com/raiden-shogun/pwapi/internal/metrics"
	"github.com/raiden-shogun/pwapi/internal/upstream"
	pwerrors "github.com/raiden-shogun/pwapi/pkg/errors"
	"github.com/raiden-shogun/pwapi/pkg/execution"
)

const (
	// DefaultMaxAttempts caps the retry loop.
	DefaultMaxAttempts = 4
	// DefaultCallTimeout bounds each individual network call.
	DefaultCallTimeout = 30 * time.Second
)

// CredentialSource is the pool surface the dispatcher walks for failover.
type CredentialSource interface {
	Candidates(scope domain.Scope) ([]domain.Credential, error)
}

// QuotaSource reserves call capacity on a credential.
type QuotaSource interface {
	CheckAndReserve(credentialID string) bool
}

// HealthSink receives failure reports.
type HealthSink interface {
	MarkUnhealthy(credentialID, reason string)
}

// Pacer spaces calls out; the window quota alone does not stop bursts.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Dispatcher executes logical requests against the upstream.
type Dispatcher struct {
	pool      CredentialSource
	quota     QuotaSource
	health    HealthSink
	pacer     Pacer
	transport upstream.Transport
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	backoff     execution.Backoff
	maxAttempts int
	callTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock injects the clock used for backoff suspension.
func WithClock(clk clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = clk }
}

// WithMaxAttempts overrides the attempt cap.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.callTimeout = t }
}

// WithBackoff overrides the backoff schedule.
func WithBackoff(b execution.Backoff) Option {
	return func(d *Dispatcher) { d.backoff = b }
}

// WithMetrics attaches instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPacer attaches an inter-call pacer.
func WithPacer(p Pacer) Option {
	return func(d *Dispatcher) { d.pacer = p }
}

// New creates a Dispatcher with the production retry schedule (1s, 2s, 4s,
// 8s; four attempts; 30s per call).
func New(pool CredentialSource, quota QuotaSource, health HealthSink, transport upstream.Transport, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:        pool,
		quota:       quota,
		health:      health,
		transport:   transport,
		clock:       clock.WallClock,
		logger:      logger.With("component", "dispatch"),
		backoff:     execution.Backoff{Base: time.Second, Max: 8 * time.Second},
		maxAttempts: DefaultMaxAttempts,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one logical request. Attempts are strictly sequential; each
// attempt reserves quota on exactly one credential before touching the
// network, and marks at most one credential unhealthy afterwards.
func (d *Dispatcher) Execute(ctx context.Context, scope domain.Scope, req upstream.Request) (*upstream.Response, error) {
	logger := d.logger.With(
		"request_id", uuid.NewString(),
		"scope", string(scope),
	)

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		cred, err := d.reserve(scope)
		if err != nil {
			// Configuration and whole-scope quota errors are not retryable
			// within a dispatch; surface immediately.
			return nil, err
		}

		resp, err := d.attempt(ctx, cred, req)
		if err == nil && resp.Status == http.StatusOK {
			d.metrics.RecordAttempt(string(scope), "success")
			return resp, nil
		}

		retry := false
		switch {
		case err != nil:
			// Timeout or connection error. The credential may be the problem
			// (revoked key, banned IP for that key); rotate away from it.
			d.health.MarkUnhealthy(cred.ID, err.Error())
			d.metrics.RecordAttempt(string(scope), "transport_error")
			lastErr = fmt.Errorf("%w: %v", pwerrors.ErrTransportFailure, err)
			retry = true

		case resp.Status == http.StatusTooManyRequests:
			d.health.MarkUnhealthy(cred.ID, "rate limited")
			d.metrics.RecordAttempt(string(scope), "throttled")
			lastErr = fmt.Errorf("%w: credential %s", pwerrors.ErrUpstreamThrottled, cred.ID)
			retry = true

		case resp.Status >= http.StatusInternalServerError:
			// 503 and friends are an upstream fault, not a credential fault;
			// no health mark, the next attempt may reuse the same key.
			d.metrics.RecordAttempt(string(scope), "unavailable")
			lastErr = fmt.Errorf("%w: HTTP %d", pwerrors.ErrUpstreamUnavailable, resp.Status)
			retry = true

		case resp.Status >= http.StatusBadRequest:
			d.metrics.RecordAttempt(string(scope), "invalid")
			return nil, fmt.Errorf("%w: HTTP %d", pwerrors.ErrInvalidRequest, resp.Status)

		default:
			// 1xx/3xx never happen against this API; treat as unavailable.
			d.metrics.RecordAttempt(string(scope), "unavailable")
			lastErr = fmt.Errorf("%w: unexpected HTTP %d", pwerrors.ErrUpstreamUnavailable, resp.Status)
			retry = true
		}

		if !retry || attempt == d.maxAttempts {
			break
		}

		delay := d.backoff.Delay(attempt)
		logger.Warn("attempt failed, backing off",
			"attempt", attempt,
			"delay", delay.String(),
			"error", lastErr.Error(),
		)
		if err := execution.Sleep(ctx, d.clock, delay); err != nil {
			return nil, fmt.Errorf("dispatch abandoned: %w", err)
		}
	}

	logger.Error("dispatch exhausted retries", "error", lastErr.Error())
	return nil, lastErr
}

// reserve walks the scope's candidates best-first and reserves quota on the
// first that has headroom. The walk is bounded by the scope's credential
// count; if every key refuses, the whole scope is at quota.
func (d *Dispatcher) reserve(scope domain.Scope) (domain.Credential, error) {
	candidates, err := d.pool.Candidates(scope)
	if err != nil {
		return domain.Credential{}, err
	}
	for _, cred := range candidates {
		if d.quota.CheckAndReserve(cred.ID) {
			return cred, nil
		}
		d.metrics.RecordQuotaRefusal(string(scope))
	}
	return domain.Credential{}, fmt.Errorf("%w: %s (%d credentials at limit)",
		pwerrors.ErrQuotaExhausted, scope, len(candidates))
}

func (d *Dispatcher) attempt(ctx context.Context, cred domain.Credential, req upstream.Request) (*upstream.Response, error) {
	if d.pacer != nil {
		if err := d.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req.Secret = cred.Secret
	return execution.WithTimeout(ctx, d.callTimeout, func(ctx context.Context) (*upstream.Response, error) {
		return d.transport.Do(ctx, req)
	})
}
