package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/fetch"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
)

const gateSystemPrompt = `You score B2B prospect records against an ideal customer profile (ICP).

Score each record 0-100 as a weighted match:
- industry fit: 30%%
- firmographics fit (location, company size, revenue): 30%%
- job title fit: 20%%
- company description fit: 10%%
- relevance to the seller's offer: 10%%

When a criterion is absent from the ICP, redistribute its weight evenly across
the criteria that are present. For every record scoring below %d, list the
failing criteria as short reasons ordered worst-first.

ICP:
%s

Respond with only a JSON array, one object per record, preserving input order:
[{"id": "<record id>", "score": <0-100>, "reasons": ["<criterion>", ...]}]`

const gateUserPrompt = `Score these %d records against the ICP:

%s`

// leadScore is one record's verdict from a scoring call.
type leadScore struct {
	ID      string   `json:"id"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// GateStage scores every lead in the batch against the target profile in
// fixed-size chunks and derives the proceed/halt decision from the batch pass
// rate. Validation is written once per lead; leads whose chunk errored are
// marked invalid with a scoring-failure reason rather than silently dropped.
//
// When cfg.EnrichWeb is set and a site fetcher is supplied, each lead's
// scoring context is augmented with homepage text. This is strictly slower
// and opt-in.
func GateStage(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, cfg config.GateConfig, batch *model.Batch, sites *fetch.SiteFetcher) (*GateReport, error) {
	if batch.Profile.Empty() {
		return nil, eris.New("gate: target profile has no criteria")
	}
	if len(batch.Leads) == 0 {
		return nil, eris.New("gate: batch has no leads")
	}

	system := fmt.Sprintf(gateSystemPrompt, cfg.MatchThreshold, profileContext(batch.Profile))

	var usage anthropic.TokenUsage
	var failingReasons []string

	chunks := chunkIndexes(len(batch.Leads), cfg.ChunkSize)
	for _, idx := range chunks {
		scores, chunkUsage, err := scoreChunk(ctx, gw, aiClient, aiCfg, system, batch, idx, cfg, sites)
		usage.Add(chunkUsage)
		if err != nil {
			if gateway.IsPermanent(err) {
				return nil, eris.Wrap(err, "gate: score chunk")
			}
			zap.L().Warn("gate: chunk scoring failed, marking leads invalid",
				zap.Int("chunk_size", len(idx)),
				zap.Error(err),
			)
			for _, i := range idx {
				batch.Leads[i].SetValidation(model.Validation{
					Verdict: model.VerdictInvalid,
					Reasons: []string{"scoring failed"},
				})
			}
			continue
		}

		byID := make(map[string]leadScore, len(scores))
		for _, s := range scores {
			byID[s.ID] = s
		}
		for _, i := range idx {
			lead := &batch.Leads[i]
			s, ok := byID[lead.ID]
			if !ok {
				lead.SetValidation(model.Validation{
					Verdict: model.VerdictInvalid,
					Reasons: []string{"scoring failed"},
				})
				continue
			}
			verdict := model.VerdictInvalid
			if s.Score >= cfg.MatchThreshold {
				verdict = model.VerdictValid
			}
			lead.SetValidation(model.Validation{
				Verdict: verdict,
				Score:   clampScore(s.Score),
				Reasons: s.Reasons,
			})
		}
	}

	usage.Log(aiCfg.Model, "gate")

	report := &GateReport{
		Total:     len(batch.Leads),
		Threshold: float64(cfg.PassThreshold) / 100,
	}
	for i := range batch.Leads {
		v := batch.Leads[i].Validation
		if v != nil && v.Verdict == model.VerdictValid {
			report.Valid++
		} else {
			report.Invalid++
			if v != nil {
				failingReasons = append(failingReasons, v.Reasons...)
			}
		}
	}
	report.PassRate = float64(report.Valid) / float64(report.Total)
	report.TopReasons = topReasons(failingReasons, 5)

	if report.PassRate >= report.Threshold {
		report.Decision = DecisionProceed
	} else {
		report.Decision = DecisionHalt
	}
	// A pass rate in the 50-80% band proceeds but deserves attention.
	if report.Decision == DecisionProceed && report.PassRate < 0.8 {
		zap.L().Warn("gate: pass rate is marginal",
			zap.Float64("pass_rate", report.PassRate),
			zap.Any("top_reasons", report.TopReasons),
		)
	}

	batch.Stats.Valid = report.Valid
	batch.Stats.Invalid = report.Invalid

	zap.L().Info("gate: batch scored",
		zap.String("batch_id", batch.ID),
		zap.Int("valid", report.Valid),
		zap.Int("invalid", report.Invalid),
		zap.Float64("pass_rate", report.PassRate),
		zap.String("decision", string(report.Decision)),
	)

	return report, nil
}

// scoreChunk scores one chunk of leads through the gateway.
func scoreChunk(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, system string, batch *model.Batch, idx []int, cfg config.GateConfig, sites *fetch.SiteFetcher) ([]leadScore, anthropic.TokenUsage, error) {
	records := make([]map[string]string, 0, len(idx))
	for _, i := range idx {
		lead := &batch.Leads[i]
		rec := map[string]string{
			"id":          lead.ID,
			"company":     lead.CompanyName,
			"industry":    lead.Industry,
			"location":    lead.Location(),
			"employees":   lead.Employees,
			"revenue":     lead.Revenue,
			"job_title":   lead.JobTitle,
			"description": lead.Description,
		}
		if cfg.EnrichWeb && sites != nil && lead.Website != "" {
			if content, err := sites.FetchSite(ctx, lead.Website); err == nil {
				rec["website_text"] = fetch.Truncate(content.Text, 2000)
			}
		}
		records = append(records, rec)
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrap(err, "gate: marshal records")
	}

	text, usage, err := askAI(ctx, gw, aiClient, aiCfg, "score",
		system, fmt.Sprintf(gateUserPrompt, len(records), payload))
	if err != nil {
		return nil, usage, err
	}

	var scores []leadScore
	if err := json.Unmarshal([]byte(cleanJSON(text)), &scores); err != nil {
		return nil, usage, eris.Wrap(err, "gate: decode scores")
	}
	return scores, usage, nil
}

// profileContext renders the target profile for the system prompt, skipping
// absent criteria.
func profileContext(p model.TargetProfile) string {
	var b strings.Builder
	add := func(label, value string) {
		if value != "" {
			b.WriteString(label + ": " + value + "\n")
		}
	}
	add("Industry", p.Industry)
	add("Location", p.Location)
	add("Company size", p.Employees)
	add("Annual revenue", p.Revenue)
	add("Target job titles", strings.Join(p.JobTitles, ", "))
	add("Description", p.Description)
	add("Seller's offer", p.Offer)
	return b.String()
}

// chunkIndexes splits [0,n) into chunks of at most size indexes.
func chunkIndexes(n, size int) [][]int {
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	return chunkSlice(all, size)
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
