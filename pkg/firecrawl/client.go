// Package firecrawl provides a minimal client for the Firecrawl scrape
// endpoint, used as the fallback content provider when a site blocks
// direct fetching.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/EfanMutembo/leadpipe/internal/gateway"
)

// Client defines the Firecrawl operations used by the enricher.
type Client interface {
	Scrape(ctx context.Context, url string) (*ScrapeResult, error)
}

// ScrapeResult holds the rendered page content.
type ScrapeResult struct {
	URL        string `json:"url"`
	Markdown   string `json:"markdown"`
	StatusCode int    `json:"status_code"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Firecrawl client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.firecrawl.dev/v2",
		http: &http.Client{
			// Headless rendering is slow; give it room.
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			SourceURL  string `json:"sourceURL"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

func (c *httpClient) Scrape(ctx context.Context, url string) (*ScrapeResult, error) {
	payload, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown"}})
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := eris.Errorf("firecrawl: scrape returned status %d: %s", resp.StatusCode, truncate(body, 200))
		return nil, gateway.ClassifyHTTPStatus(apiErr, resp.StatusCode)
	}

	var sr scrapeResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "firecrawl: decode response")
	}
	if !sr.Success || sr.Data.Markdown == "" {
		return nil, eris.Errorf("firecrawl: empty content for %s", url)
	}

	return &ScrapeResult{
		URL:        url,
		Markdown:   sr.Data.Markdown,
		StatusCode: sr.Data.Metadata.StatusCode,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
