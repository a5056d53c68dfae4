package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/fetch"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
)

const enrichSystemPrompt = `You extract one short personalization snippet from a company's website text
for a cold-email opening line.

Work down this priority order and stop at the first tier with a confident hit:
1. A named client, customer, or project the company mentions.
2. An award, certification, or company milestone.
3. Recent news, expansion, or a new launch.
4. A specific statement of the company's industry niche.

The snippet must be 10-12 words, neutral tone, factual, no flattery, no
exclamation marks. If even tier 4 yields nothing specific, return null.

Respond with only JSON: {"snippet": "<10-12 words>", "tier": <1-4>}
or {"snippet": null} when nothing usable was found.`

const enrichUserPrompt = `Company: %s
Website text:

%s`

const maxEnrichConcurrency = 10

// extraction is the model's response for one lead.
type extraction struct {
	Snippet *string `json:"snippet"`
	Tier    int     `json:"tier"`
}

// EnrichStage fetches website content per lead and extracts a personalization
// snippet with a confidence tier, across a bounded worker pool. A per-lead
// failure (fetch timeout, block on both providers, no extraction) never
// blocks other leads; the lead simply ends up without a personalization.
func EnrichStage(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, cfg config.EnrichConfig, sites *fetch.SiteFetcher, batch *model.Batch) (*EnrichReport, error) {
	report := &EnrichReport{
		Input:      len(batch.Leads),
		TierCounts: make(map[int]int),
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	if concurrency > maxEnrichConcurrency {
		concurrency = maxEnrichConcurrency
	}

	fetchTimeout := time.Duration(cfg.FetchTimeoutSecs) * time.Second
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}

	var mu sync.Mutex // guards report counters, usage, and permErr
	var usage anthropic.TokenUsage
	var permErr error

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range batch.Leads {
		lead := &batch.Leads[i]
		if lead.Website == "" {
			report.NoWebsite++
			continue
		}

		g.Go(func() error {
			// Site fetches get a tighter budget than AI calls; a slow site
			// is not worth stalling the pool for.
			fetchCtx, cancel := context.WithTimeout(gCtx, fetchTimeout*time.Duration(2))
			content, err := sites.FetchSite(fetchCtx, lead.Website)
			cancel()
			if err != nil {
				mu.Lock()
				report.Failed++
				mu.Unlock()
				zap.L().Debug("enrich: site fetch failed",
					zap.String("lead_id", lead.ID),
					zap.String("website", lead.Website),
					zap.Error(err),
				)
				return nil
			}

			ext, callUsage, err := extractSnippet(gCtx, gw, aiClient, aiCfg, lead.DisplayName(), content.Text)

			mu.Lock()
			defer mu.Unlock()
			usage.Add(callUsage)

			if err != nil {
				if gateway.IsPermanent(err) {
					permErr = err
					return err
				}
				report.Failed++
				return nil
			}

			if ext.Snippet == nil || *ext.Snippet == "" || ext.Tier < 1 || ext.Tier > model.TierCount {
				report.Failed++
				return nil
			}

			lead.Personalization = &model.Personalization{
				Text:      *ext.Snippet,
				Tier:      model.ConfidenceTier(ext.Tier),
				SourceURL: content.Pages[0],
			}
			report.Enriched++
			report.TierCounts[ext.Tier]++
			return nil
		})
	}

	_ = g.Wait()
	if permErr != nil {
		return nil, eris.Wrap(permErr, "enrich: provider rejected the batch")
	}

	usage.Log(aiCfg.Model, "enrich")

	attempted := report.Input - report.NoWebsite
	if attempted > 0 {
		report.SuccessRate = float64(report.Enriched) / float64(attempted)
	}
	batch.Stats.Enriched = report.Enriched

	zap.L().Info("enrich: batch enriched",
		zap.String("batch_id", batch.ID),
		zap.Int("enriched", report.Enriched),
		zap.Int("no_website", report.NoWebsite),
		zap.Int("failed", report.Failed),
		zap.Float64("success_rate", report.SuccessRate),
		zap.Any("tier_counts", report.TierCounts),
	)

	return report, nil
}

func extractSnippet(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, company, siteText string) (*extraction, anthropic.TokenUsage, error) {
	text, usage, err := askAI(ctx, gw, aiClient, aiCfg, "extract",
		enrichSystemPrompt, fmt.Sprintf(enrichUserPrompt, company, siteText))
	if err != nil {
		return nil, usage, err
	}

	var ext extraction
	if err := json.Unmarshal([]byte(cleanJSON(text)), &ext); err != nil {
		return nil, usage, eris.Wrap(err, "enrich: decode extraction")
	}
	return &ext, usage, nil
}
