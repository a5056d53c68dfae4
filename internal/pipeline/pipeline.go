package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

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

// Pipeline orchestrates the staged batch flow from scrape to lead upload.
// Stages run strictly sequentially over a batch; every completed stage is
// checkpointed so a failed run resumes instead of rescraping from zero.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	gw        *gateway.Gateway
	apify     apify.Client
	anthropic anthropic.Client
	anymail   anymailfinder.Client
	instantly instantly.Client
	sites     *fetch.SiteFetcher
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	gw *gateway.Gateway,
	apifyClient apify.Client,
	aiClient anthropic.Client,
	amfClient anymailfinder.Client,
	instantlyClient instantly.Client,
	sites *fetch.SiteFetcher,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		gw:        gw,
		apify:     apifyClient,
		anthropic: aiClient,
		anymail:   amfClient,
		instantly: instantlyClient,
		sites:     sites,
	}
}

// copyState is the copy-generated checkpoint payload: the report plus the
// plans a resumed run needs to create campaigns.
type copyState struct {
	Report *CopyReport          `json:"report"`
	Plans  []model.CampaignPlan `json:"plans"`
}

// campaignsState is the campaigns-created checkpoint payload.
type campaignsState struct {
	Plans []model.CampaignPlan `json:"plans"`
}

// RunTest scrapes a small test batch, scores it, and returns the gate
// decision. On halt the batch parks in the halted stage; the profile needs
// widening before another test run.
func (p *Pipeline) RunTest(ctx context.Context, profile model.TargetProfile) (*model.Batch, *GateReport, error) {
	batch, err := ScrapeStage(ctx, p.gw, p.apify, profile, p.cfg.Apify.TestCount, model.StageTestScraped)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: test scrape")
	}
	if err := p.checkpoint(ctx, batch, nil); err != nil {
		return nil, nil, err
	}

	var report *GateReport
	err = p.runStage(ctx, batch, model.StageTestValidated, func() (any, error) {
		var gateErr error
		report, gateErr = GateStage(ctx, p.gw, p.anthropic, p.cfg.Anthropic, p.cfg.Gate, batch, p.sites)
		return report, gateErr
	})
	if err != nil {
		return batch, nil, err
	}

	if report.Decision == DecisionHalt {
		batch.Advance(model.StageHalted)
		if err := p.store.SaveBatch(ctx, batch); err != nil {
			return batch, report, eris.Wrap(err, "pipeline: save halted batch")
		}
		zap.L().Warn("pipeline: halted at test gate",
			zap.String("batch_id", batch.ID),
			zap.Float64("pass_rate", report.PassRate),
			zap.Any("top_reasons", report.TopReasons),
		)
	}
	return batch, report, nil
}

// RunFull scrapes the full batch for a profile and drives it through every
// remaining stage.
func (p *Pipeline) RunFull(ctx context.Context, profile model.TargetProfile) (*model.Batch, error) {
	batch, err := ScrapeStage(ctx, p.gw, p.apify, profile, p.cfg.Apify.FullCount, model.StageFullScraped)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: full scrape")
	}
	if err := p.checkpoint(ctx, batch, nil); err != nil {
		return nil, err
	}
	return batch, p.continueFrom(ctx, batch)
}

// Run executes test and, when the gate passes, the full pipeline.
func (p *Pipeline) Run(ctx context.Context, profile model.TargetProfile) (*model.Batch, error) {
	_, report, err := p.RunTest(ctx, profile)
	if err != nil {
		return nil, err
	}
	if report.Decision == DecisionHalt {
		return nil, eris.Errorf("pipeline: test gate halted at %.0f%% pass rate (threshold %.0f%%)",
			report.PassRate*100, report.Threshold*100)
	}
	return p.RunFull(ctx, profile)
}

// Resume reloads a failed batch from its last checkpoint and continues.
func (p *Pipeline) Resume(ctx context.Context, batchID string) (*model.Batch, error) {
	cp, err := p.store.LatestCheckpoint(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load checkpoint for %s", batchID)
	}
	if cp == nil {
		return nil, eris.Errorf("pipeline: no checkpoint for batch %s", batchID)
	}

	batch := cp.Snapshot
	zap.L().Info("pipeline: resuming batch",
		zap.String("batch_id", batch.ID),
		zap.String("from_stage", string(batch.Stage)),
	)
	return batch, p.continueFrom(ctx, batch)
}

// continueFrom runs every stage after the batch's current one. The batch's
// stage marker decides where to pick up, so a resumed snapshot flows through
// the same path as a fresh run.
func (p *Pipeline) continueFrom(ctx context.Context, batch *model.Batch) error {
	var roleSegments []model.RoleSegment
	var plans []model.CampaignPlan
	if err := p.restoreState(ctx, batch, &roleSegments, &plans); err != nil {
		return err
	}

	type stageRun struct {
		to   model.Stage
		skip bool
		fn   func() (any, error)
	}

	stages := []stageRun{
		{to: model.StageFullValidated, fn: func() (any, error) {
			report, err := GateStage(ctx, p.gw, p.anthropic, p.cfg.Anthropic, p.cfg.Gate, batch, p.sites)
			if err != nil {
				return nil, err
			}
			// The halt decision belongs to the test gate; by full scrape
			// time the profile is committed, so a low rate only warns.
			if report.Decision == DecisionHalt {
				zap.L().Warn("pipeline: full batch under pass threshold, continuing",
					zap.Float64("pass_rate", report.PassRate),
				)
			}
			return report, nil
		}},
		{to: model.StageFiltered, fn: func() (any, error) {
			return FilterStage(batch), nil
		}},
		{to: model.StageNormalized, fn: func() (any, error) {
			return NormalizeStage(ctx, p.gw, p.anthropic, p.cfg.Anthropic, p.cfg.Normalize, batch)
		}},
		{to: model.StageVerified, fn: func() (any, error) {
			return VerifyStage(ctx, p.gw, p.anymail, p.cfg.Verify, batch)
		}},
		{to: model.StageEnriched, fn: func() (any, error) {
			return EnrichStage(ctx, p.gw, p.anthropic, p.cfg.Anthropic, p.cfg.Enrich, p.sites, batch)
		}},
		{to: model.StageSegmented, fn: func() (any, error) {
			return SegmentStage(batch), nil
		}},
		{to: model.StageRoleSegmented, skip: !p.cfg.Segment.ByRole, fn: func() (any, error) {
			report, err := RoleSegmentStage(ctx, p.gw, p.anthropic, p.cfg.Anthropic, p.cfg.Segment, batch)
			if err != nil {
				return nil, err
			}
			roleSegments = report.RoleSegments
			return report, nil
		}},
		{to: model.StageCopyGenerated, fn: func() (any, error) {
			generated, report, err := CopyGenStage(ctx, p.gw, p.anthropic, p.cfg.Anthropic, p.cfg.Copy, batch, roleSegments)
			if err != nil {
				return nil, err
			}
			plans = generated
			return &copyState{Report: report, Plans: plans}, nil
		}},
		{to: model.StageCampaignsMade, fn: func() (any, error) {
			if err := CreateCampaignsStage(ctx, p.gw, p.instantly, p.cfg.Instantly, batch, plans); err != nil {
				return nil, err
			}
			return &campaignsState{Plans: plans}, nil
		}},
		{to: model.StageLeadsUploaded, fn: func() (any, error) {
			return UploadLeadsStage(ctx, p.gw, p.instantly, p.cfg.Upload, batch, plans)
		}},
	}

	for _, s := range stages {
		if !batch.Stage.CanAdvance(s.to) {
			continue // already completed before the resume point
		}
		if s.skip {
			continue
		}
		if len(batch.Leads) == 0 {
			batch.Fail(s.to)
			_ = p.store.SaveBatch(ctx, batch)
			return eris.Errorf("pipeline: no leads left entering %s", s.to)
		}
		if err := p.runStage(ctx, batch, s.to, s.fn); err != nil {
			return err
		}
	}

	zap.L().Info("pipeline: batch complete",
		zap.String("batch_id", batch.ID),
		zap.Int("uploaded", batch.Stats.Uploaded),
	)
	return nil
}

// restoreState recovers cross-stage values (role segments, campaign plans)
// from checkpoint reports when resuming past the stages that produced them.
func (p *Pipeline) restoreState(ctx context.Context, batch *model.Batch, roleSegments *[]model.RoleSegment, plans *[]model.CampaignPlan) error {
	load := func(stage model.Stage, into any) error {
		cp, err := p.store.GetCheckpoint(ctx, batch.ID, stage)
		if err != nil || cp == nil || cp.Report == nil {
			return err
		}
		return eris.Wrapf(json.Unmarshal(cp.Report, into), "pipeline: decode %s report", stage)
	}

	if !batch.Stage.CanAdvance(model.StageRoleSegmented) && p.cfg.Segment.ByRole {
		var report SegmentReport
		if err := load(model.StageRoleSegmented, &report); err != nil {
			return err
		}
		*roleSegments = report.RoleSegments
	}
	if !batch.Stage.CanAdvance(model.StageCopyGenerated) {
		var state copyState
		if err := load(model.StageCopyGenerated, &state); err != nil {
			return err
		}
		*plans = state.Plans
	}
	if !batch.Stage.CanAdvance(model.StageCampaignsMade) {
		var state campaignsState
		if err := load(model.StageCampaignsMade, &state); err != nil {
			return err
		}
		if len(state.Plans) > 0 {
			*plans = state.Plans
		}
	}
	return nil
}

// runStage executes one stage, advances the state machine, and checkpoints.
// A stage error marks the batch failed at that stage with the previous
// checkpoint intact as the resume point.
func (p *Pipeline) runStage(ctx context.Context, batch *model.Batch, to model.Stage, fn func() (any, error)) error {
	start := time.Now()
	report, err := fn()
	duration := time.Since(start)

	if err != nil {
		batch.Fail(to)
		if saveErr := p.store.SaveBatch(ctx, batch); saveErr != nil {
			zap.L().Warn("pipeline: failed to save failed batch", zap.Error(saveErr))
		}
		zap.L().Error("pipeline: stage failed",
			zap.String("batch_id", batch.ID),
			zap.String("stage", string(to)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return eris.Wrapf(err, "pipeline: stage %s", to)
	}

	if !batch.Advance(to) {
		return eris.Errorf("pipeline: illegal transition %s -> %s", batch.Stage, to)
	}
	if err := p.checkpoint(ctx, batch, report); err != nil {
		return err
	}

	zap.L().Info("pipeline: stage complete",
		zap.String("batch_id", batch.ID),
		zap.String("stage", string(to)),
		zap.Duration("duration", duration),
	)
	return nil
}

// checkpoint persists the batch header and a stage snapshot.
func (p *Pipeline) checkpoint(ctx context.Context, batch *model.Batch, report any) error {
	if err := p.store.SaveBatch(ctx, batch); err != nil {
		return eris.Wrapf(err, "pipeline: save batch at %s", batch.Stage)
	}
	if err := p.store.SaveCheckpoint(ctx, batch, report); err != nil {
		return eris.Wrapf(err, "pipeline: checkpoint at %s", batch.Stage)
	}
	return nil
}
