// Package instantly provides a client for the Instantly.ai V2 campaigns and
// leads endpoints. The API requires both Authorization and x-api-key headers.
package instantly

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/EfanMutembo/leadpipe/internal/gateway"
)

// MaxLeadsPerRequest is the platform's lead-upload chunk limit.
const MaxLeadsPerRequest = 100

// Client defines the campaign platform operations.
type Client interface {
	CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error)
	AddLeads(ctx context.Context, campaignID string, leads []Lead) (*AddLeadsResult, error)
}

// EmailVariant is one subject/body pair in a sequence step.
type EmailVariant struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SequenceStep is one email step with its send delay in days.
type SequenceStep struct {
	Type     string         `json:"type"`
	Delay    int            `json:"delay"`
	Variants []EmailVariant `json:"variants"`
}

// Schedule is the campaign send window.
type Schedule struct {
	From     string // "09:00"
	To       string // "17:00"
	Timezone string
}

// CampaignSpec describes a campaign to create.
type CampaignSpec struct {
	Name     string
	Steps    []SequenceStep
	Schedule Schedule
}

// Lead is the platform's lead shape for uploads.
type Lead struct {
	Email           string `json:"email"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	CompanyName     string `json:"company_name,omitempty"`
	Website         string `json:"website,omitempty"`
	Personalization string `json:"personalization,omitempty"`
}

// AddLeadsResult reports per-lead upload outcomes for one chunk.
type AddLeadsResult struct {
	Uploaded   int `json:"uploaded"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
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

// WithRateLimit caps requests per second across all callers.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Instantly client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.instantly.ai/api/v2",
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type campaignRequest struct {
	Name             string           `json:"name"`
	CampaignSchedule campaignSchedule `json:"campaign_schedule"`
	Sequences        []sequence       `json:"sequences"`
}

type sequence struct {
	Steps []SequenceStep `json:"steps"`
}

type campaignSchedule struct {
	Schedules []scheduleEntry `json:"schedules"`
}

type scheduleEntry struct {
	Name     string          `json:"name"`
	Timing   scheduleTiming  `json:"timing"`
	Days     map[string]bool `json:"days"`
	Timezone string          `json:"timezone"`
}

type scheduleTiming struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type campaignResponse struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
}

func (c *httpClient) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	reqBody := campaignRequest{
		Name:      spec.Name,
		Sequences: []sequence{{Steps: spec.Steps}},
		CampaignSchedule: campaignSchedule{
			Schedules: []scheduleEntry{{
				Name:   "Business Hours",
				Timing: scheduleTiming{From: spec.Schedule.From, To: spec.Schedule.To},
				// Monday through Friday.
				Days:     map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true},
				Timezone: spec.Schedule.Timezone,
			}},
		},
	}

	body, err := c.post(ctx, "/campaigns", reqBody)
	if err != nil {
		return "", err
	}

	var cr campaignResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", eris.Wrap(err, "instantly: decode campaign response")
	}
	id := cr.ID
	if id == "" {
		id = cr.CampaignID
	}
	if id == "" {
		return "", eris.New("instantly: campaign response missing id")
	}
	return id, nil
}

type addLeadsRequest struct {
	CampaignID string `json:"campaign_id"`
	Leads      []Lead `json:"leads"`
	// Uploads are idempotent: the platform skips addresses it has seen.
	SkipIfInCampaign bool `json:"skip_if_in_campaign"`
}

type addLeadsResponse struct {
	Uploaded   int `json:"leads_uploaded"`
	Duplicates int `json:"duplicate_count"`
	Errors     int `json:"error_count"`
}

func (c *httpClient) AddLeads(ctx context.Context, campaignID string, leads []Lead) (*AddLeadsResult, error) {
	if len(leads) > MaxLeadsPerRequest {
		return nil, eris.Errorf("instantly: %d leads exceeds per-request limit %d", len(leads), MaxLeadsPerRequest)
	}

	body, err := c.post(ctx, "/leads/add", addLeadsRequest{
		CampaignID:       campaignID,
		Leads:            leads,
		SkipIfInCampaign: true,
	})
	if err != nil {
		return nil, err
	}

	var ar addLeadsResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, eris.Wrap(err, "instantly: decode add-leads response")
	}
	return &AddLeadsResult{
		Uploaded:   ar.Uploaded,
		Duplicates: ar.Duplicates,
		Errors:     ar.Errors,
	}, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "instantly: rate limiter")
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "instantly: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "instantly: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "instantly: POST %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "instantly: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := eris.Errorf("instantly: %s returned status %d: %s", path, resp.StatusCode, truncate(body, 200))
		return nil, gateway.ClassifyHTTPStatus(apiErr, resp.StatusCode)
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
