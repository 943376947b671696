// Package metrics exposes Prometheus instrumentation for the fetch pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the pipeline records into. All methods are
// safe for nil receivers so components can run uninstrumented in tests.
type Metrics struct {
	upstreamAttempts *prometheus.CounterVec
	quotaRefusals    *prometheus.CounterVec
	cacheReads       *prometheus.CounterVec
	refreshFailures  *prometheus.CounterVec
	unhealthyKeys    *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pwapi_upstream_attempts_total",
				Help: "Upstream call attempts by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),
		quotaRefusals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pwapi_quota_refusals_total",
				Help: "Reservations refused because a key was at quota",
			},
			[]string{"scope"},
		),
		cacheReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pwapi_cache_reads_total",
				Help: "Cache reads by tier and entry state",
			},
			[]string{"tier", "state"},
		),
		refreshFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pwapi_cache_refresh_failures_total",
				Help: "Cache refreshes that failed or were rejected by validation",
			},
			[]string{"tier"},
		),
		unhealthyKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pwapi_unhealthy_keys",
				Help: "Credentials currently marked unhealthy, per scope",
			},
			[]string{"scope"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.upstreamAttempts,
		m.quotaRefusals,
		m.cacheReads,
		m.refreshFailures,
		m.unhealthyKeys,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt counts one upstream attempt outcome ("success", "throttled",
// "unavailable", "invalid", "transport_error").
func (m *Metrics) RecordAttempt(scope, outcome string) {
	if m == nil {
		return
	}
	m.upstreamAttempts.WithLabelValues(scope, outcome).Inc()
}

// RecordQuotaRefusal counts one refused reservation.
func (m *Metrics) RecordQuotaRefusal(scope string) {
	if m == nil {
		return
	}
	m.quotaRefusals.WithLabelValues(scope).Inc()
}

// RecordCacheRead counts one read ("fresh", "stale", "absent").
func (m *Metrics) RecordCacheRead(tier, state string) {
	if m == nil {
		return
	}
	m.cacheReads.WithLabelValues(tier, state).Inc()
}

// RecordRefreshFailure counts one failed or rejected refresh.
func (m *Metrics) RecordRefreshFailure(tier string) {
	if m == nil {
		return
	}
	m.refreshFailures.WithLabelValues(tier).Inc()
}

// SetUnhealthyKeys sets the unhealthy-credential gauge for a scope.
func (m *Metrics) SetUnhealthyKeys(scope string, n int) {
	if m == nil {
		return
	}
	m.unhealthyKeys.WithLabelValues(scope).Set(float64(n))
}
