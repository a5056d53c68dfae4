package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/instantly"
)

// followUpDelayDays is the send gap between sequence steps.
const followUpDelayDays = 3

// CreateCampaignsStage creates one platform campaign per plan and records
// the returned IDs. Campaign creation is batch-critical: any failure after
// retries stops the stage so no half-created set of campaigns gets leads.
func CreateCampaignsStage(ctx context.Context, gw *gateway.Gateway, client instantly.Client, cfg config.InstantlyConfig, batch *model.Batch, plans []model.CampaignPlan) error {
	schedule := instantly.Schedule{
		From:     cfg.SendFrom,
		To:       cfg.SendTo,
		Timezone: cfg.Timezone,
	}

	for i := range plans {
		plan := &plans[i]
		if len(plan.Emails) == 0 {
			return eris.Errorf("campaign: plan %s has no copy", plan.Name)
		}

		spec := instantly.CampaignSpec{
			Name:     batch.ID[:8] + " " + plan.Name,
			Steps:    stepsFromEmails(plan.Emails),
			Schedule: schedule,
		}

		id, err := gateway.Invoke(ctx, gw, "instantly", "create_campaign", func(ctx context.Context) (string, error) {
			return client.CreateCampaign(ctx, spec)
		})
		if err != nil {
			return eris.Wrapf(err, "campaign: create %s", plan.Name)
		}
		plan.CampaignID = id

		zap.L().Info("campaign: created",
			zap.String("batch_id", batch.ID),
			zap.String("plan", plan.Name),
			zap.String("campaign_id", id),
		)
	}
	return nil
}

func stepsFromEmails(emails []model.EmailStep) []instantly.SequenceStep {
	steps := make([]instantly.SequenceStep, 0, len(emails))
	for i, e := range emails {
		delay := 0
		if i > 0 {
			delay = followUpDelayDays
		}
		steps = append(steps, instantly.SequenceStep{
			Type:  "email",
			Delay: delay,
			Variants: []instantly.EmailVariant{
				{Subject: e.Subject, Body: e.Body},
			},
		})
	}
	return steps
}

// UploadLeadsStage pushes each plan's leads to its campaign in chunks of at
// most the platform limit, dispatched across a bounded pool. Chunk uploads
// are idempotent on the platform side (duplicates are skipped), so a resumed
// run can safely re-upload.
func UploadLeadsStage(ctx context.Context, gw *gateway.Gateway, client instantly.Client, cfg config.UploadConfig, batch *model.Batch, plans []model.CampaignPlan) (*UploadReport, error) {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 || chunkSize > instantly.MaxLeadsPerRequest {
		chunkSize = instantly.MaxLeadsPerRequest
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	report := &UploadReport{Campaigns: len(plans)}
	planLeads := groupLeadsByPlan(batch, plans)

	var mu sync.Mutex // guards report and plan counters
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range plans {
		plan := &plans[i]
		if plan.CampaignID == "" {
			return nil, eris.Errorf("upload: plan %s has no campaign", plan.Name)
		}
		for _, chunk := range chunkSlice(planLeads[planKey(plan)], chunkSize) {
			g.Go(func() error {
				result, err := gateway.Invoke(gCtx, gw, "instantly", "add_leads", func(ctx context.Context) (*instantly.AddLeadsResult, error) {
					return client.AddLeads(ctx, plan.CampaignID, chunk)
				})
				if err != nil {
					// A lost chunk is recoverable on resume; keep going
					// unless the platform rejected us outright.
					if gateway.IsPermanent(err) {
						return eris.Wrapf(err, "upload: chunk for %s", plan.Name)
					}
					mu.Lock()
					report.Errors += len(chunk)
					mu.Unlock()
					zap.L().Warn("upload: chunk failed",
						zap.String("plan", plan.Name),
						zap.Int("leads", len(chunk)),
						zap.Error(err),
					)
					return nil
				}

				mu.Lock()
				report.Uploaded += result.Uploaded
				report.Duplicates += result.Duplicates
				report.Errors += result.Errors
				plan.LeadsUploaded += result.Uploaded
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch.Stats.Uploaded = report.Uploaded
	batch.Stats.Duplicates = report.Duplicates

	zap.L().Info("upload: leads pushed",
		zap.String("batch_id", batch.ID),
		zap.Int("campaigns", report.Campaigns),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("errors", report.Errors),
	)

	return report, nil
}

func planKey(plan *model.CampaignPlan) string {
	return string(plan.Segment) + "|" + plan.SegmentID
}

func groupLeadsByPlan(batch *model.Batch, plans []model.CampaignPlan) map[string][]instantly.Lead {
	valid := make(map[string]bool, len(plans))
	for i := range plans {
		valid[planKey(&plans[i])] = true
	}

	grouped := make(map[string][]instantly.Lead)
	for i := range batch.Leads {
		lead := &batch.Leads[i]
		key := string(lead.Segment) + "|" + lead.RoleSegmentID
		if !valid[key] {
			continue
		}
		wire := instantly.Lead{
			Email:       lead.Email,
			FirstName:   lead.FirstName,
			LastName:    lead.LastName,
			CompanyName: lead.DisplayName(),
			Website:     lead.Website,
		}
		if lead.Personalization != nil {
			wire.Personalization = lead.Personalization.Text
		}
		grouped[key] = append(grouped[key], wire)
	}
	return grouped
}
