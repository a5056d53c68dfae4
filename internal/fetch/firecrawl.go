package fetch

import (
	"context"

	"github.com/EfanMutembo/leadpipe/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as a Fetcher for blocked sites.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

// Name implements Fetcher.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Fetch fetches a single URL via Firecrawl's scrape API. Content is capped
// to the same per-page byte limit as the direct fetcher.
func (f *FirecrawlAdapter) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	return &Result{
		Page: Page{
			URL:        resp.URL,
			Text:       Truncate(resp.Markdown, maxPageBytes),
			StatusCode: resp.StatusCode,
		},
		Source: "firecrawl",
	}, nil
}
