package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EfanMutembo/leadpipe/internal/gateway"
)

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scrape", r.URL.Path)
		assert.Equal(t, "Bearer key-fc", r.Header.Get("Authorization"))

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://acme.com", req.URL)
		assert.Equal(t, []string{"markdown"}, req.Formats)

		w.Write([]byte(`{
			"success": true,
			"data": {
				"markdown": "# Acme\nWe build things.",
				"metadata": {"sourceURL": "https://acme.com/", "statusCode": 200}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient("key-fc", WithBaseURL(srv.URL))
	result, err := c.Scrape(context.Background(), "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.com", result.URL)
	assert.Equal(t, "# Acme\nWe build things.", result.Markdown)
	assert.Equal(t, 200, result.StatusCode)
}

func TestScrapeEmptyContent(t *testing.T) {
	cases := map[string]string{
		"not successful": `{"success": false, "data": {"markdown": "content"}}`,
		"empty markdown": `{"success": true, "data": {"markdown": ""}}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewClient("k", WithBaseURL(srv.URL))
			_, err := c.Scrape(context.Background(), "https://acme.com")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "empty content")
		})
	}
}

func TestScrapeClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
		permanent bool
	}{
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusForbidden, false, true},
		{http.StatusUnauthorized, false, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		c := NewClient("k", WithBaseURL(srv.URL))
		_, err := c.Scrape(context.Background(), "https://acme.com")
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.transient, gateway.IsTransient(err), "status %d", tc.status)
		assert.Equal(t, tc.permanent, gateway.IsPermanent(err), "status %d", tc.status)
		srv.Close()
	}
}
