// Package fetch provides chained website content fetching for lead enrichment.
package fetch

import (
	"context"
	"errors"
)

// ErrBlocked signals that a site refused the direct fetcher (anti-bot
// protection, 403/429). The chain falls through to the rendering fallback.
var ErrBlocked = errors.New("fetch: blocked")

// Page holds fetched page content reduced to plaintext.
type Page struct {
	URL        string
	Title      string
	Text       string
	StatusCode int
}

// Result holds a fetched page with its source.
type Result struct {
	Page   Page
	Source string // e.g. "direct_http", "firecrawl"
}

// Fetcher fetches a single URL and returns its content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
	Name() string
}
