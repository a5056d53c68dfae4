// Package apify provides a client for the Apify leads-finder actor, run
// synchronously so the dataset items come back in one response.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/EfanMutembo/leadpipe/internal/gateway"
)

// Client defines the scraping provider operations.
type Client interface {
	// ScrapeLeads runs the leads-finder actor and returns raw lead records.
	// The query's FetchCount is an exact cap: test runs request precisely
	// the configured small count.
	ScrapeLeads(ctx context.Context, query ScrapeQuery) ([]RawLead, error)
}

// ScrapeQuery is the actor input. Field names follow the actor's schema.
type ScrapeQuery struct {
	Keywords           []string
	Location           string
	EmployeeRanges     []string
	RevenueMin         string
	RevenueMax         string
	Industries         []string
	ExcludedIndustries []string
	ExcludedJobTitles  []string
	FetchCount         int
}

// RawLead is one dataset item from the actor.
type RawLead struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	JobTitle    string `json:"job_title"`
	CompanyName string `json:"company_name"`
	Website     string `json:"company_website"`
	Industry    string `json:"industry"`
	City        string `json:"company_city"`
	State       string `json:"company_state"`
	Country     string `json:"company_country"`
	Employees   string `json:"company_size"`
	Revenue     string `json:"company_annual_revenue_clean"`
	Keywords    string `json:"keywords"`
	Description string `json:"company_description"`
}

// Option configures the Apify client.
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
	token   string
	baseURL string
	actor   string
	http    *http.Client
}

// NewClient creates a new Apify client for the given actor.
func NewClient(token, actor string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api.apify.com/v2",
		actor:   actor,
		http: &http.Client{
			// Synchronous actor runs block until the dataset is ready.
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// actorInput is the wire form of the actor input.
type actorInput struct {
	FetchCount         int      `json:"fetch_count"`
	CompanyKeywords    []string `json:"company_keywords"`
	ContactLocation    []string `json:"contact_location"`
	Size               []string `json:"size"`
	CompanyIndustry    []string `json:"company_industry"`
	CompanyNotIndustry []string `json:"company_not_industry"`
	ContactNotJobTitle []string `json:"contact_not_job_title"`
	MinRevenue         string   `json:"min_revenue,omitempty"`
	MaxRevenue         string   `json:"max_revenue,omitempty"`
}

func (c *httpClient) ScrapeLeads(ctx context.Context, query ScrapeQuery) ([]RawLead, error) {
	input := actorInput{
		FetchCount:         query.FetchCount,
		CompanyKeywords:    emptyIfNil(query.Keywords),
		ContactLocation:    []string{},
		Size:               emptyIfNil(query.EmployeeRanges),
		CompanyIndustry:    emptyIfNil(query.Industries),
		CompanyNotIndustry: emptyIfNil(query.ExcludedIndustries),
		ContactNotJobTitle: emptyIfNil(query.ExcludedJobTitles),
		MinRevenue:         strings.TrimPrefix(query.RevenueMin, "$"),
		MaxRevenue:         strings.TrimPrefix(query.RevenueMax, "$"),
	}
	if query.Location != "" {
		// The actor expects lowercase locations.
		input.ContactLocation = []string{strings.ToLower(query.Location)}
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "apify: marshal actor input")
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		c.baseURL, c.actor, url.QueryEscape(c.token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "apify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "apify: run actor")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "apify: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := eris.Errorf("apify: actor run returned status %d: %s", resp.StatusCode, truncate(body, 200))
		return nil, gateway.ClassifyHTTPStatus(apiErr, resp.StatusCode)
	}

	var leads []RawLead
	if err := json.Unmarshal(body, &leads); err != nil {
		return nil, eris.Wrap(err, "apify: decode dataset items")
	}

	// The actor treats fetch_count as exact, but guard against overruns.
	if query.FetchCount > 0 && len(leads) > query.FetchCount {
		leads = leads[:query.FetchCount]
	}

	return leads, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
