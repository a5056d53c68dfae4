package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
)

const normalizeSystemPrompt = `You clean company names for cold outreach.

For each name: strip legal-entity suffixes (LLC, Ltd, Inc, GmbH, S.L., Corp,
Co., and similar), drop taglines and locations, and keep the short friendly
form a person would use in a sentence. A name that is already clean must come
back unchanged.

Respond with only a JSON object mapping every input name to its friendly form:
{"<input name>": "<friendly name>", ...}`

const normalizeUserPrompt = `Clean these %d company names:

%s`

// NormalizeStage cleans the distinct raw company names in large chunks and
// maps the results back onto every lead sharing that raw name. A failed chunk
// leaves its names unset; other chunks are unaffected.
func NormalizeStage(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, cfg config.NormalizeConfig, batch *model.Batch) (*NormalizeReport, error) {
	distinct := distinctNames(batch.Leads)
	report := &NormalizeReport{DistinctNames: len(distinct)}
	if len(distinct) == 0 {
		return report, nil
	}

	mapping := make(map[string]string, len(distinct))
	var usage anthropic.TokenUsage

	for _, chunk := range chunkSlice(distinct, cfg.ChunkSize) {
		chunkMap, chunkUsage, err := normalizeChunk(ctx, gw, aiClient, aiCfg, chunk)
		usage.Add(chunkUsage)
		if err != nil {
			if gateway.IsPermanent(err) {
				return nil, eris.Wrap(err, "normalize: chunk")
			}
			report.FailedChunks++
			zap.L().Warn("normalize: chunk failed, names left raw",
				zap.Int("names", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		for name, friendly := range chunkMap {
			mapping[name] = tidyName(friendly)
		}
	}

	usage.Log(aiCfg.Model, "normalize")

	for i := range batch.Leads {
		lead := &batch.Leads[i]
		if friendly, ok := mapping[lead.CompanyName]; ok && friendly != "" {
			lead.NormalizedName = friendly
			report.Normalized++
		}
	}
	batch.Stats.Normalized = report.Normalized

	zap.L().Info("normalize: names cleaned",
		zap.String("batch_id", batch.ID),
		zap.Int("distinct", report.DistinctNames),
		zap.Int("normalized", report.Normalized),
		zap.Int("failed_chunks", report.FailedChunks),
	)

	return report, nil
}

func normalizeChunk(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, names []string) (map[string]string, anthropic.TokenUsage, error) {
	payload, err := json.Marshal(names)
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrap(err, "normalize: marshal names")
	}

	text, usage, err := askAI(ctx, gw, aiClient, aiCfg, "normalize",
		normalizeSystemPrompt, fmt.Sprintf(normalizeUserPrompt, len(names), payload))
	if err != nil {
		return nil, usage, err
	}

	var mapping map[string]string
	if err := json.Unmarshal([]byte(cleanJSON(text)), &mapping); err != nil {
		return nil, usage, eris.Wrap(err, "normalize: decode mapping")
	}
	return mapping, usage, nil
}

// distinctNames returns the unique raw company names in first-seen order.
func distinctNames(leads []model.Lead) []string {
	seen := make(map[string]bool, len(leads))
	var names []string
	for i := range leads {
		name := strings.TrimSpace(leads[i].CompanyName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

var titleCaser = cases.Title(language.English)

// tidyName fixes shouty all-caps names the model sometimes echoes through.
// Mixed-case names are left alone so intentional casing (iNova, McBride)
// survives.
func tidyName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name != strings.ToUpper(name) {
		return name
	}
	// Keep short acronyms (IBM, AWS) as-is.
	if len(name) <= 4 && !strings.Contains(name, " ") {
		return name
	}
	return titleCaser.String(strings.ToLower(name))
}
