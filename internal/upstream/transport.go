// Package upstream is the transport boundary to the Politics & War API. The
// dispatcher depends only on the Transport interface; the concrete HTTP
// client lives beside it.
package upstream

import "context"

// Kind selects which upstream surface a request targets.
type Kind int

const (
	// KindGraphQL hits the /graphql endpoint with a query string.
	KindGraphQL Kind = iota
	// KindCSV downloads one of the daily bulk dumps (nations, cities, ...).
	KindCSV
)

// Request is one logical upstream call, before a credential is attached.
type Request struct {
	Kind Kind
	// Query is the GraphQL document for KindGraphQL requests.
	Query string
	// Dataset names the CSV dump for KindCSV requests, e.g. "nations".
	Dataset string
	// Secret is filled in by the dispatcher from the selected credential.
	Secret string
}

// Response is the raw upstream answer. Decoding into domain types happens in
// the service layer; the dispatcher only inspects the status code.
type Response struct {
	Status int
	Body   []byte
}

// Transport performs one authenticated request and reports the upstream
// status alongside the body. A transport-level failure (connection error,
// deadline) is returned as an error; any HTTP answer, error status included,
// comes back as a Response.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
