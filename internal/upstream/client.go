package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api.politicsandwar.com"
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response we will buffer. The nations
	// CSV dump is the largest payload and stays well under this.
	maxBodyBytes = 64 << 20
)

// Client is the HTTP implementation of Transport.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different host (tests, mirrors).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client against the production API with the default
// per-call deadline.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs the request. The API authenticates GraphQL and CSV downloads
// alike with an api_key query parameter.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := c.requestURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json, text/csv")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Body: body}, nil
}

func (c *Client) requestURL(req Request) (string, error) {
	q := url.Values{}
	q.Set("api_key", req.Secret)

	switch req.Kind {
	case KindGraphQL:
		if req.Query == "" {
			return "", fmt.Errorf("graphql request without query")
		}
		q.Set("query", req.Query)
		return c.baseURL + "/graphql?" + q.Encode(), nil
	case KindCSV:
		if req.Dataset == "" {
			return "", fmt.Errorf("csv request without dataset")
		}
		return c.baseURL + "/" + url.PathEscape(req.Dataset) + ".csv?" + q.Encode(), nil
	}
	return "", fmt.Errorf("unknown request kind %d", req.Kind)
}
