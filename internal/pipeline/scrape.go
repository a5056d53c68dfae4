package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/apify"
)

// ScrapeStage pulls raw leads from the scraping provider and builds a fresh
// batch. Test runs request a small exact count to keep validation cheap; the
// full run re-scrapes a superset with the same profile.
func ScrapeStage(ctx context.Context, gw *gateway.Gateway, client apify.Client, profile model.TargetProfile, count int, stage model.Stage) (*model.Batch, error) {
	query := queryFromProfile(profile, count)

	raw, err := gateway.Invoke(ctx, gw, "apify", "scrape_leads", func(ctx context.Context) ([]apify.RawLead, error) {
		return client.ScrapeLeads(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	batch := &model.Batch{
		ID:        uuid.NewString(),
		Stage:     stage,
		Profile:   profile,
		Leads:     make([]model.Lead, 0, len(raw)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, r := range raw {
		batch.Leads = append(batch.Leads, leadFromRaw(r))
	}
	batch.Stats.Scraped = len(batch.Leads)

	zap.L().Info("scrape: batch created",
		zap.String("batch_id", batch.ID),
		zap.String("stage", string(batch.Stage)),
		zap.Int("leads", len(batch.Leads)),
	)

	return batch, nil
}

// queryFromProfile maps qualification criteria onto the actor's query shape.
func queryFromProfile(p model.TargetProfile, count int) apify.ScrapeQuery {
	var keywords []string
	if p.Industry != "" {
		keywords = append(keywords, p.Industry)
	}

	query := apify.ScrapeQuery{
		Keywords:   keywords,
		Location:   p.Location,
		FetchCount: count,
	}
	if p.Employees != "" {
		query.EmployeeRanges = []string{p.Employees}
	}
	if p.Revenue != "" {
		if lo, hi, ok := splitRevenueBand(p.Revenue); ok {
			query.RevenueMin = lo
			query.RevenueMax = hi
		}
	}
	return query
}

// splitRevenueBand splits a band like "$1M-$10M" into its bounds.
func splitRevenueBand(band string) (lo, hi string, ok bool) {
	parts := strings.SplitN(band, "-", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func leadFromRaw(r apify.RawLead) model.Lead {
	return model.Lead{
		ID:            uuid.NewString(),
		FirstName:     strings.TrimSpace(r.FirstName),
		LastName:      strings.TrimSpace(r.LastName),
		CompanyName:   strings.TrimSpace(r.CompanyName),
		Website:       strings.TrimSpace(r.Website),
		Email:         strings.ToLower(strings.TrimSpace(r.Email)),
		JobTitle:      strings.TrimSpace(r.JobTitle),
		Industry:      r.Industry,
		City:          r.City,
		State:         r.State,
		Country:       r.Country,
		Employees:     r.Employees,
		Revenue:       r.Revenue,
		Keywords:      r.Keywords,
		Description:   r.Description,
		ContactStatus: model.ContactUnverified,
	}
}
