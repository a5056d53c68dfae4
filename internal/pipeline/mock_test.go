package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/fetch"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/internal/store"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
	"github.com/EfanMutembo/leadpipe/pkg/anymailfinder"
	"github.com/EfanMutembo/leadpipe/pkg/apify"
	"github.com/EfanMutembo/leadpipe/pkg/instantly"
)

// testGW builds a gateway with millisecond backoff so retry paths run fast.
func testGW() *gateway.Gateway {
	return gateway.New(gateway.Policy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	})
}

func testAICfg() config.AnthropicConfig {
	return config.AnthropicConfig{Model: "test-model", MaxTokens: 1000}
}

// mockAI dispatches CreateMessage to a caller-supplied function. Safe for
// concurrent use; requests are recorded in order.
type mockAI struct {
	mu       sync.Mutex
	fn       func(req anthropic.MessageRequest) (string, error)
	requests []anthropic.MessageRequest
}

func (m *mockAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.fn
	m.mu.Unlock()

	text, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &anthropic.MessageResponse{
		ID:    "msg_test",
		Model: req.Model,
		Text:  text,
		Usage: anthropic.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (m *mockAI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockApify returns canned raw leads.
type mockApify struct {
	leads []apify.RawLead
	err   error
	query apify.ScrapeQuery
}

func (m *mockApify) ScrapeLeads(_ context.Context, query apify.ScrapeQuery) ([]apify.RawLead, error) {
	m.query = query
	if m.err != nil {
		return nil, m.err
	}
	n := len(m.leads)
	if query.FetchCount > 0 && query.FetchCount < n {
		n = query.FetchCount
	}
	return m.leads[:n], nil
}

// mockVerifier maps email to a canned status. Concurrency-safe.
type mockVerifier struct {
	mu       sync.Mutex
	statuses map[string]anymailfinder.Status
	errs     map[string]error
	fallback anymailfinder.Status // status for unmapped emails; zero means unknown
	calls    int
}

func (m *mockVerifier) Verify(_ context.Context, email string) (*anymailfinder.VerifyResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if err, ok := m.errs[email]; ok {
		return nil, err
	}
	status, ok := m.statuses[email]
	if !ok {
		status = m.fallback
		if status == "" {
			status = anymailfinder.StatusUnknown
		}
	}
	return &anymailfinder.VerifyResult{Email: email, Status: status}, nil
}

// mockInstantly records created campaigns and uploaded leads.
type mockInstantly struct {
	mu         sync.Mutex
	createErr  error
	addErr     error
	campaigns  []instantly.CampaignSpec
	uploaded   map[string][]instantly.Lead // campaignID -> leads
	nextID     int
	duplicates int
}

func (m *mockInstantly) CreateCampaign(_ context.Context, spec instantly.CampaignSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.nextID++
	id := fmt.Sprintf("camp_%d", m.nextID)
	m.campaigns = append(m.campaigns, spec)
	return id, nil
}

func (m *mockInstantly) AddLeads(_ context.Context, campaignID string, leads []instantly.Lead) (*instantly.AddLeadsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return nil, m.addErr
	}
	if m.uploaded == nil {
		m.uploaded = make(map[string][]instantly.Lead)
	}
	m.uploaded[campaignID] = append(m.uploaded[campaignID], leads...)
	return &instantly.AddLeadsResult{Uploaded: len(leads) - m.duplicates, Duplicates: m.duplicates}, nil
}

// staticFetcher serves one text for every URL, or fails.
type staticFetcher struct {
	text string
	err  error
}

func (f *staticFetcher) Fetch(_ context.Context, url string) (*fetch.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Result{
		Page:   fetch.Page{URL: url, Text: f.text, StatusCode: 200},
		Source: "direct_http",
	}, nil
}

func (f *staticFetcher) Name() string { return "static" }

// memStore is an in-memory store.Store for orchestrator tests.
type memStore struct {
	mu          sync.Mutex
	batches     map[string]*model.Batch
	checkpoints map[string][]*store.Checkpoint // batchID, append order
}

func newMemStore() *memStore {
	return &memStore{
		batches:     make(map[string]*model.Batch),
		checkpoints: make(map[string][]*store.Checkpoint),
	}
}

func (s *memStore) SaveBatch(_ context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	header := *batch
	header.Leads = nil
	s.batches[batch.ID] = &header
	return nil
}

func (s *memStore) GetBatch(_ context.Context, batchID string) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch not found")
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) ListBatches(_ context.Context, filter store.BatchFilter) ([]model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Batch
	for _, b := range s.batches {
		if filter.Stage != "" && b.Stage != filter.Stage {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (s *memStore) SaveCheckpoint(_ context.Context, batch *model.Batch, report any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	restored := &model.Batch{}
	if err := json.Unmarshal(snap, restored); err != nil {
		return err
	}

	var reportJSON json.RawMessage
	if report != nil {
		raw, err := json.Marshal(report)
		if err != nil {
			return err
		}
		reportJSON = raw
	}

	cps := s.checkpoints[batch.ID]
	// Upsert on (batch, stage) like the real stores.
	for i, cp := range cps {
		if cp.Stage == batch.Stage {
			cps[i] = &store.Checkpoint{
				ID: cp.ID, BatchID: batch.ID, Stage: batch.Stage,
				Snapshot: restored, Report: reportJSON, CreatedAt: time.Now(),
			}
			return nil
		}
	}
	s.checkpoints[batch.ID] = append(cps, &store.Checkpoint{
		ID:      fmt.Sprintf("cp_%d", len(cps)+1),
		BatchID: batch.ID, Stage: batch.Stage,
		Snapshot: restored, Report: reportJSON, CreatedAt: time.Now(),
	})
	return nil
}

func (s *memStore) GetCheckpoint(_ context.Context, batchID string, stage model.Stage) (*store.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range s.checkpoints[batchID] {
		if cp.Stage == stage {
			return cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) LatestCheckpoint(_ context.Context, batchID string) (*store.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := s.checkpoints[batchID]
	if len(cps) == 0 {
		return nil, nil
	}
	return cps[len(cps)-1], nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }
