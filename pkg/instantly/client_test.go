package instantly

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

func testSpec() CampaignSpec {
	return CampaignSpec{
		Name: "abcdef12 personalized_executive",
		Steps: []SequenceStep{
			{Type: "email", Delay: 0, Variants: []EmailVariant{{Subject: "Hi", Body: "First"}}},
			{Type: "email", Delay: 3, Variants: []EmailVariant{{Subject: "Re: Hi", Body: "Second"}}},
		},
		Schedule: Schedule{From: "09:00", To: "17:00", Timezone: "America/Denver"},
	}
}

func TestCreateCampaign(t *testing.T) {
	var gotReq campaignRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/campaigns", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]string{"id": "camp_42"})
	}))
	defer srv.Close()

	c := NewClient("key-1", WithBaseURL(srv.URL), WithRateLimit(1000))
	id, err := c.CreateCampaign(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, "camp_42", id)

	assert.Equal(t, "abcdef12 personalized_executive", gotReq.Name)
	require.Len(t, gotReq.Sequences, 1)
	require.Len(t, gotReq.Sequences[0].Steps, 2)
	assert.Equal(t, 3, gotReq.Sequences[0].Steps[1].Delay)

	require.Len(t, gotReq.CampaignSchedule.Schedules, 1)
	entry := gotReq.CampaignSchedule.Schedules[0]
	assert.Equal(t, "09:00", entry.Timing.From)
	assert.Equal(t, "17:00", entry.Timing.To)
	assert.Equal(t, "America/Denver", entry.Timezone)
	// Weekdays only.
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true}, entry.Days)
}

func TestCreateCampaignLegacyIDField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"campaign_id": "camp_legacy"})
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(1000))
	id, err := c.CreateCampaign(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, "camp_legacy", id)
}

func TestCreateCampaignMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := c.CreateCampaign(context.Background(), testSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestAddLeads(t *testing.T) {
	var gotReq addLeadsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads/add", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(addLeadsResponse{Uploaded: 2, Duplicates: 1, Errors: 0})
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(1000))
	result, err := c.AddLeads(context.Background(), "camp_42", []Lead{
		{Email: "a@acme.com", FirstName: "Ada", CompanyName: "Acme", Personalization: "snippet"},
		{Email: "b@acme.com"},
		{Email: "c@acme.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Uploaded)
	assert.Equal(t, 1, result.Duplicates)

	assert.Equal(t, "camp_42", gotReq.CampaignID)
	assert.True(t, gotReq.SkipIfInCampaign)
	require.Len(t, gotReq.Leads, 3)
	assert.Equal(t, "Acme", gotReq.Leads[0].CompanyName)
	assert.Equal(t, "snippet", gotReq.Leads[0].Personalization)
}

func TestAddLeadsRejectsOversizedChunk(t *testing.T) {
	// The client must never hit the network with an oversized chunk.
	c := NewClient("k", WithBaseURL("http://127.0.0.1:0"), WithRateLimit(1000))

	leads := make([]Lead, MaxLeadsPerRequest+1)
	_, err := c.AddLeads(context.Background(), "camp_1", leads)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per-request limit")
}

func TestPostClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
		permanent bool
	}{
		{http.StatusTooManyRequests, true, false},
		{http.StatusServiceUnavailable, true, false},
		{http.StatusUnprocessableEntity, false, true},
		{http.StatusForbidden, false, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		c := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(1000))
		_, err := c.AddLeads(context.Background(), "camp_1", []Lead{{Email: "a@b.com"}})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.transient, gateway.IsTransient(err), "status %d", tc.status)
		assert.Equal(t, tc.permanent, gateway.IsPermanent(err), "status %d", tc.status)
		srv.Close()
	}
}
