// Package anymailfinder provides a client for the AnyMailFinder verify-email
// endpoint. Verification is billable per call; repeats inside the provider's
// freshness window are free on their side but still real calls here.
package anymailfinder

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

// Status is the provider's deliverability classification.
type Status string

const (
	StatusValid   Status = "valid"
	StatusRisky   Status = "risky"
	StatusInvalid Status = "invalid"
	StatusUnknown Status = "unknown"
)

// VerifyResult is the outcome for one address.
type VerifyResult struct {
	Email  string `json:"email"`
	Status Status `json:"status"`
}

// Client defines the verification provider operations.
type Client interface {
	Verify(ctx context.Context, email string) (*VerifyResult, error)
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

// NewClient creates a new AnyMailFinder client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.anymailfinder.com/v5.1",
		http: &http.Client{
			// Verification of slow mail servers can take minutes.
			Timeout: 3 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verifyRequest struct {
	Email string `json:"email"`
}

type verifyResponse struct {
	EmailStatus string `json:"email_status"`
}

func (c *httpClient) Verify(ctx context.Context, email string) (*VerifyResult, error) {
	payload, err := json.Marshal(verifyRequest{Email: email})
	if err != nil {
		return nil, eris.Wrap(err, "anymailfinder: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify-email", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "anymailfinder: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "anymailfinder: verify request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "anymailfinder: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("anymailfinder: verify returned status %d: %s", resp.StatusCode, truncate(body, 100))
		return nil, gateway.ClassifyHTTPStatus(apiErr, resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, eris.Wrap(err, "anymailfinder: decode response")
	}

	result := &VerifyResult{Email: email}
	switch Status(vr.EmailStatus) {
	case StatusValid, StatusRisky, StatusInvalid:
		result.Status = Status(vr.EmailStatus)
	default:
		result.Status = StatusUnknown
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
