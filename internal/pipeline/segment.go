package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
)

const clusterSystemPrompt = `You group B2B job titles into functional clusters for differentiated cold
outreach.

Cluster the given titles into 3-6 groups by function (for example: executive,
operations, marketing, sales, technical). Every input title must appear in
exactly one group. Give each group a one-sentence messaging angle describing
what this audience cares about.

Respond with only a JSON array:
[{"segment_id": "<snake_case>", "segment_name": "<name>",
  "job_titles": ["<title>", ...], "messaging_angle": "<sentence>"}]`

const clusterUserPrompt = `Cluster these %d job titles:

%s`

// SegmentStage runs the personalization partition: every lead with a snippet
// goes to the personalized segment, all others to generic. Total and
// disjoint by construction.
func SegmentStage(batch *model.Batch) *SegmentReport {
	report := &SegmentReport{}
	for i := range batch.Leads {
		lead := &batch.Leads[i]
		if lead.Personalization != nil && lead.Personalization.Text != "" {
			lead.Segment = model.SegmentPersonalized
			report.Personalized++
		} else {
			lead.Segment = model.SegmentGeneric
			report.Generic++
		}
	}
	batch.Stats.Personalized = report.Personalized
	batch.Stats.Generic = report.Generic

	zap.L().Info("segment: personalization partition",
		zap.String("batch_id", batch.ID),
		zap.Int("personalized", report.Personalized),
		zap.Int("generic", report.Generic),
	)

	return report
}

// RoleSegmentStage sub-partitions leads into functional job-title groups,
// either across the whole batch or within each personalization segment when
// cfg.PerSegmentRoles is set. AI clustering is primary; degenerate output
// (no groups, more than six, or unassigned titles) switches the whole run to
// the deterministic keyword fallback — the two are never mixed.
func RoleSegmentStage(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, cfg config.SegmentConfig, batch *model.Batch) (*SegmentReport, error) {
	report := &SegmentReport{
		Personalized: batch.Stats.Personalized,
		Generic:      batch.Stats.Generic,
	}

	scopes := [][]*model.Lead{wholeBatch(batch)}
	var prefixes []string
	if cfg.PerSegmentRoles {
		scopes, prefixes = perSegmentScopes(batch)
	} else {
		prefixes = []string{""}
	}

	for s, leads := range scopes {
		if len(leads) == 0 {
			continue
		}
		segments, usedFallback, err := segmentRoles(ctx, gw, aiClient, aiCfg, cfg, leads, prefixes[s])
		if err != nil {
			return nil, err
		}
		report.RoleSegments = append(report.RoleSegments, segments...)
		report.UsedFallback = report.UsedFallback || usedFallback
	}

	zap.L().Info("segment: role partition",
		zap.String("batch_id", batch.ID),
		zap.Int("role_segments", len(report.RoleSegments)),
		zap.Bool("used_fallback", report.UsedFallback),
	)

	return report, nil
}

func wholeBatch(batch *model.Batch) []*model.Lead {
	leads := make([]*model.Lead, len(batch.Leads))
	for i := range batch.Leads {
		leads[i] = &batch.Leads[i]
	}
	return leads
}

func perSegmentScopes(batch *model.Batch) ([][]*model.Lead, []string) {
	var personalized, generic []*model.Lead
	for i := range batch.Leads {
		lead := &batch.Leads[i]
		if lead.Segment == model.SegmentPersonalized {
			personalized = append(personalized, lead)
		} else {
			generic = append(generic, lead)
		}
	}
	return [][]*model.Lead{personalized, generic},
		[]string{string(model.SegmentPersonalized) + "_", string(model.SegmentGeneric) + "_"}
}

// segmentRoles clusters one scope of leads and assigns roleSegmentIDs.
func segmentRoles(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, cfg config.SegmentConfig, leads []*model.Lead, idPrefix string) ([]model.RoleSegment, bool, error) {
	titles := distinctTitles(leads)

	var segments []model.RoleSegment
	usedFallback := false

	if len(titles) > 0 {
		aiSegments, err := clusterTitles(ctx, gw, aiClient, aiCfg, titles)
		switch {
		case err != nil && gateway.IsPermanent(err):
			return nil, false, eris.Wrap(err, "segment: cluster titles")
		case err != nil:
			zap.L().Warn("segment: AI clustering failed, using keyword fallback", zap.Error(err))
			usedFallback = true
		case degenerate(aiSegments, titles):
			zap.L().Warn("segment: AI clustering degenerate, using keyword fallback",
				zap.Int("groups", len(aiSegments)),
			)
			usedFallback = true
		default:
			segments = aiSegments
		}
	} else {
		usedFallback = true
	}

	if usedFallback {
		segments = clusterByKeywords(titles)
	}

	assign := assignLeads(leads, segments, idPrefix)
	segments = enforceMinSize(segments, assign, cfg.MinSize, idPrefix)

	// Write final assignments and counts.
	counts := make(map[string]int)
	for _, lead := range leads {
		counts[lead.RoleSegmentID]++
	}
	for i := range segments {
		segments[i].ID = idPrefix + segments[i].ID
		segments[i].LeadCount = counts[segments[i].ID]
	}

	// Drop empty groups.
	kept := segments[:0]
	for _, s := range segments {
		if s.LeadCount > 0 {
			kept = append(kept, s)
		}
	}
	return kept, usedFallback, nil
}

func clusterTitles(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, titles []string) ([]model.RoleSegment, error) {
	payload, err := json.Marshal(titles)
	if err != nil {
		return nil, eris.Wrap(err, "segment: marshal titles")
	}

	text, usage, err := askAI(ctx, gw, aiClient, aiCfg, "cluster",
		clusterSystemPrompt, fmt.Sprintf(clusterUserPrompt, len(titles), payload))
	if err != nil {
		return nil, err
	}
	usage.Log(aiCfg.Model, "segment")

	var segments []model.RoleSegment
	if err := json.Unmarshal([]byte(cleanJSON(text)), &segments); err != nil {
		return nil, eris.Wrap(err, "segment: decode clusters")
	}
	for i := range segments {
		if segments[i].ID == "" {
			segments[i].ID = slugify(segments[i].Name)
		}
	}
	return segments, nil
}

// degenerate reports whether AI clustering output is unusable: no groups,
// more than six, or input titles left unassigned.
func degenerate(segments []model.RoleSegment, titles []string) bool {
	if len(segments) == 0 || len(segments) > 6 {
		return true
	}
	assigned := make(map[string]bool)
	for _, s := range segments {
		for _, t := range s.JobTitles {
			assigned[strings.ToLower(strings.TrimSpace(t))] = true
		}
	}
	for _, t := range titles {
		if !assigned[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// Fallback cluster definitions. Executive is the catch-all.
var fallbackSegments = []model.RoleSegment{
	{ID: "executive", Name: "Executive", MessagingAngle: "Lead with business outcomes, growth, and competitive advantage."},
	{ID: "operations", Name: "Operations", MessagingAngle: "Lead with efficiency, reliability, and time saved on manual work."},
	{ID: "marketing", Name: "Marketing", MessagingAngle: "Lead with pipeline, audience reach, and campaign performance."},
	{ID: "sales", Name: "Sales", MessagingAngle: "Lead with quota attainment, conversion rates, and deal velocity."},
	{ID: "technical", Name: "Technical", MessagingAngle: "Lead with integration effort, maintainability, and tooling fit."},
}

var functionKeywords = map[string][]string{
	"marketing":  {"marketing", "brand", "content", "growth", "demand"},
	"sales":      {"sales", "revenue", "business development", "account executive"},
	"technical":  {"engineer", "technical", "technology", "software", "cto", "it "},
	"operations": {"operations", "ops", "supply", "logistics", "production"},
}

var executiveKeywords = []string{
	"ceo", "coo", "cfo", "chief", "founder", "co-founder", "owner",
	"president", "managing director", "partner", "principal",
}

// classifyTitle implements the deterministic fallback: C-level and founders
// are executive; directors and heads-of go to their function; managers
// default to operations; anything else, including a missing title, lands in
// the executive catch-all.
func classifyTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return "executive"
	}

	for _, kw := range executiveKeywords {
		if strings.Contains(t, kw) {
			return "executive"
		}
	}

	if strings.Contains(t, "director") || strings.Contains(t, "head of") {
		for fn, kws := range functionKeywords {
			for _, kw := range kws {
				if strings.Contains(t, kw) {
					return fn
				}
			}
		}
		return "executive"
	}

	if strings.Contains(t, "manager") {
		return "operations"
	}

	for fn, kws := range functionKeywords {
		for _, kw := range kws {
			if strings.Contains(t, kw) {
				return fn
			}
		}
	}
	return "executive"
}

// clusterByKeywords builds segments from the fallback definitions, assigning
// every title by keyword classification.
func clusterByKeywords(titles []string) []model.RoleSegment {
	byID := make(map[string]*model.RoleSegment)
	var segments []model.RoleSegment
	for _, def := range fallbackSegments {
		segments = append(segments, def)
	}
	for i := range segments {
		byID[segments[i].ID] = &segments[i]
	}
	for _, t := range titles {
		seg := byID[classifyTitle(t)]
		seg.JobTitles = append(seg.JobTitles, t)
	}
	return segments
}

// assignLeads writes each lead's roleSegmentID from its title's group.
// Returns segment ID (without prefix) -> member leads.
func assignLeads(leads []*model.Lead, segments []model.RoleSegment, idPrefix string) map[string][]*model.Lead {
	titleToSeg := make(map[string]string)
	for _, s := range segments {
		for _, t := range s.JobTitles {
			titleToSeg[strings.ToLower(strings.TrimSpace(t))] = s.ID
		}
	}

	assign := make(map[string][]*model.Lead)
	for _, lead := range leads {
		segID, ok := titleToSeg[strings.ToLower(strings.TrimSpace(lead.JobTitle))]
		if !ok {
			segID = "executive"
		}
		lead.RoleSegmentID = idPrefix + segID
		assign[segID] = append(assign[segID], lead)
	}
	return assign
}

// enforceMinSize merges undersized groups into the executive catch-all, then
// reassigns. A group may stay below minimum only when it is the sole
// remaining group.
func enforceMinSize(segments []model.RoleSegment, assign map[string][]*model.Lead, minSize int, idPrefix string) []model.RoleSegment {
	if minSize <= 0 {
		return segments
	}

	// Guarantee an executive group exists to merge into.
	hasExec := false
	for _, s := range segments {
		if s.ID == "executive" {
			hasExec = true
			break
		}
	}
	if !hasExec {
		segments = append(segments, fallbackSegments[0])
	}

	moveInto := func(from, to string) {
		for _, lead := range assign[from] {
			lead.RoleSegmentID = idPrefix + to
		}
		assign[to] = append(assign[to], assign[from]...)
		delete(assign, from)
	}

	for _, s := range segments {
		if s.ID == "executive" {
			continue
		}
		if n := len(assign[s.ID]); n > 0 && n < minSize {
			zap.L().Info("segment: merging undersized group into executive",
				zap.String("group", s.ID),
				zap.Int("size", n),
			)
			moveInto(s.ID, "executive")
		}
	}

	// If executive itself is still undersized and other groups remain, fold
	// it into the largest one rather than keep a below-minimum group.
	if n := len(assign["executive"]); n > 0 && n < minSize {
		largest, largestN := "", 0
		for id, members := range assign {
			if id != "executive" && len(members) > largestN {
				largest, largestN = id, len(members)
			}
		}
		if largest != "" {
			moveInto("executive", largest)
		}
	}

	// Remove segments that lost all members, keeping deterministic order.
	kept := segments[:0]
	for _, s := range segments {
		if len(assign[s.ID]) > 0 {
			kept = append(kept, s)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return len(assign[kept[i].ID]) > len(assign[kept[j].ID])
	})
	return kept
}

func distinctTitles(leads []*model.Lead) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, lead := range leads {
		t := strings.TrimSpace(lead.JobTitle)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		titles = append(titles, t)
	}
	return titles
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
