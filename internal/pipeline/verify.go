package pipeline

import (
	"context"
	"regexp"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/anymailfinder"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// VerifyStage checks every lead's email for deliverability across a bounded
// worker pool. Leads without a plausible address are marked invalid without
// spending a billable call. Valid leads are always kept; risky leads only
// when cfg.KeepRisky is set; invalid and unverifiable leads are dropped.
//
// A permanent provider error (bad key, malformed request) halts the stage for
// the whole batch. Per-lead transient failures that exhaust retries drop only
// that lead, counted in the report.
func VerifyStage(ctx context.Context, gw *gateway.Gateway, client anymailfinder.Client, cfg config.VerifyConfig, batch *model.Batch) (*VerifyReport, error) {
	report := &VerifyReport{Input: len(batch.Leads), KeepRisky: cfg.KeepRisky}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	var mu sync.Mutex // guards report counters and permErr
	var permErr error

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range batch.Leads {
		lead := &batch.Leads[i]
		if !emailRe.MatchString(lead.Email) {
			lead.SetContactStatus(model.ContactInvalid)
			mu.Lock()
			report.Invalid++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			result, err := gateway.Invoke(gCtx, gw, "anymailfinder", "verify", func(ctx context.Context) (*anymailfinder.VerifyResult, error) {
				return client.Verify(ctx, lead.Email)
			})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if gateway.IsPermanent(err) {
					permErr = err
					return err // cancels the group
				}
				report.Errored++
				lead.SetContactStatus(model.ContactInvalid)
				zap.L().Warn("verify: lead dropped after exhausted retries",
					zap.String("lead_id", lead.ID),
					zap.Error(err),
				)
				return nil
			}

			switch result.Status {
			case anymailfinder.StatusValid:
				lead.SetContactStatus(model.ContactValid)
				report.Valid++
			case anymailfinder.StatusRisky:
				lead.SetContactStatus(model.ContactRisky)
				report.Risky++
			default:
				// Unknown is treated as invalid; there is no deliverability
				// signal to act on.
				lead.SetContactStatus(model.ContactInvalid)
				report.Invalid++
			}
			return nil
		})
	}

	_ = g.Wait()
	if permErr != nil {
		return nil, eris.Wrap(permErr, "verify: provider rejected the batch")
	}

	kept := batch.Leads[:0]
	for i := range batch.Leads {
		lead := batch.Leads[i]
		if lead.ContactStatus == model.ContactValid ||
			(lead.ContactStatus == model.ContactRisky && cfg.KeepRisky) {
			kept = append(kept, lead)
		}
	}
	batch.Leads = kept
	report.Kept = len(kept)

	batch.Stats.EmailValid = report.Valid
	batch.Stats.EmailRisky = report.Risky
	batch.Stats.EmailInvalid = report.Invalid

	zap.L().Info("verify: batch verified",
		zap.String("batch_id", batch.ID),
		zap.Int("valid", report.Valid),
		zap.Int("risky", report.Risky),
		zap.Int("invalid", report.Invalid),
		zap.Int("errored", report.Errored),
		zap.Int("kept", report.Kept),
		zap.Bool("keep_risky", cfg.KeepRisky),
	)

	return report, nil
}
