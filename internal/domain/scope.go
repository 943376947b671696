package domain

import "fmt"

// Scope restricts which credentials may serve a given kind of upstream request.
// Scopes are fixed at configuration time and never change for the life of the
// process.
type Scope string

const (
	// ScopeEverything covers the general read endpoints (nations, wars, CSV dumps).
	ScopeEverything Scope = "everything"
	// ScopeAlliance covers alliance-restricted endpoints (bank, member details).
	ScopeAlliance Scope = "alliance"
	// ScopePersonal covers keys bound to a single nation.
	ScopePersonal Scope = "personal"
	// ScopeMessaging covers keys permitted to send in-game messages.
	ScopeMessaging Scope = "messaging"
)

// AllScopes lists every scope the configuration may populate.
func AllScopes() []Scope {
	return []Scope{ScopeEverything, ScopeAlliance, ScopePersonal, ScopeMessaging}
}

// ParseScope validates a scope name coming from configuration or an
// administrative request.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeEverything, ScopeAlliance, ScopePersonal, ScopeMessaging:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Credential is one upstream API key. The secret is opaque to everything
// outside the transport; the rest of the system identifies a credential by ID.
// Credentials are read-only after load.
type Credential struct {
	ID     string
	Scope  Scope
	Secret string
}

// ScopeStats is the read-only diagnostic view of one scope's key pool.
type ScopeStats struct {
	TotalCalls     int `json:"total_calls"`
	HealthyCount   int `json:"healthy_count"`
	UnhealthyCount int `json:"unhealthy_count"`
}
