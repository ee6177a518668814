// Package upstream fetches pages from the upstream MCP server registry.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// UpstreamError is returned for any non-2xx response from the registry.
type UpstreamError struct {
	Status     int
	BodyExcerpt string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Status, e.BodyExcerpt)
}

// ShapeError is returned when the response body does not validate as the
// expected {servers, metadata} envelope.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return "upstream: invalid envelope shape: " + e.Reason
}

const (
	maxLimit        = 100
	bodyExcerptSize = 512
	maxBodySize     = 5 << 20
)

// FetchPageParams selects one page of the upstream catalog.
type FetchPageParams struct {
	BaseURL      string
	Cursor       string
	Limit        int
	UpdatedSince *time.Time
}

// Page is the decoded, pass-through contents of one upstream page.
type Page struct {
	Entries    []json.RawMessage
	NextCursor string
}

type envelope struct {
	Servers  []json.RawMessage `json:"servers"`
	Metadata *struct {
		NextCursor string `json:"nextCursor"`
		Count      int    `json:"count"`
	} `json:"metadata"`
}

// Client fetches pages from the upstream registry over HTTP.
type Client struct {
	httpClient *http.Client
}

// New returns a Client with a bounded per-request timeout.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// FetchPage issues a single page request. A limit that is not positive or
// exceeds maxLimit is replaced by maxLimit; callers implementing the E ingestion loop are responsible
// for following NextCursor.
func (c *Client) FetchPage(ctx context.Context, p FetchPageParams) (Page, error) {
	limit := p.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if p.Cursor != "" {
		q.Set("cursor", p.Cursor)
	}
	if p.UpdatedSince != nil {
		q.Set("updated_since", p.UpdatedSince.UTC().Format(time.RFC3339))
	}

	reqURL := fmt.Sprintf("%s/v0.1/servers?%s", trimTrailingSlash(p.BaseURL), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("upstream: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Page{}, fmt.Errorf("upstream: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := string(body)
		if len(excerpt) > bodyExcerptSize {
			excerpt = excerpt[:bodyExcerptSize]
		}
		return Page{}, &UpstreamError{Status: resp.StatusCode, BodyExcerpt: excerpt}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, &ShapeError{Reason: err.Error()}
	}
	if env.Servers == nil {
		return Page{}, &ShapeError{Reason: "missing servers array"}
	}

	page := Page{Entries: env.Servers}
	if env.Metadata != nil {
		page.NextCursor = env.Metadata.NextCursor
	}
	return page, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
