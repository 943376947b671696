package errors

import "errors"

var (
	// ErrNoCredentialForScope means the scope is unconfigured or has no keys.
	// Configuration error; fatal to the calling request only.
	ErrNoCredentialForScope = errors.New("no credential configured for scope")
	// ErrQuotaExhausted means every credential in the scope is at its hourly
	// quota. Transient; the caller may retry after the window resets.
	ErrQuotaExhausted = errors.New("quota exhausted for scope")
	// ErrUpstreamThrottled means the upstream kept answering 429 through the
	// full retry schedule.
	ErrUpstreamThrottled = errors.New("upstream throttled request")
	// ErrUpstreamUnavailable means the upstream kept answering 503 through the
	// full retry schedule.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTransportFailure means the call never completed (timeout, connection
	// error) on every attempted credential.
	ErrTransportFailure = errors.New("transport failure")
	// ErrInvalidRequest is a 4xx answer: retrying cannot change the outcome.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCacheValidation marks a structurally invalid payload rejected before
	// commit. Never surfaces past the cache layer.
	ErrCacheValidation = errors.New("cache payload validation failed")
)
