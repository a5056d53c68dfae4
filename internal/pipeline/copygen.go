package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
)

const copySystemPrompt = `You write cold-email sequences for B2B outreach.

Rules:
- Plain conversational tone, no hype, no buzzwords, under 120 words per body.
- Use the merge tags {{firstName}} and {{companyName}} where natural.
- When the audience is the personalized segment, open the first email with
  the {{personalization}} merge tag as its own sentence.
- Each follow-up step must reference the previous email briefly and add one
  new angle, not repeat the pitch.

Seller's offer:
%s

Audience: %s
Messaging angle: %s

Style examples from past campaigns:
%s

Respond with only a JSON array of %d steps:
[{"step": 1, "subject": "<subject>", "body": "<body>"}]`

// CopyExample is one reference subject/body pair from the examples file.
type CopyExample struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type copyExamplesFile struct {
	Examples []CopyExample `yaml:"examples"`
}

// LoadCopyExamples reads the style-examples YAML. A missing path is not an
// error; generation simply runs without examples.
func LoadCopyExamples(path string) ([]CopyExample, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "copy: read examples %s", path)
	}
	var f copyExamplesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "copy: parse examples %s", path)
	}
	return f.Examples, nil
}

// CopyGenStage generates one email sequence per campaign plan. Plans are
// derived from the cross product of personalization segment and role segment
// actually populated by leads; without role segmentation there are at most
// two plans (personalized, generic).
func CopyGenStage(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, cfg config.CopyConfig, batch *model.Batch, roleSegments []model.RoleSegment) ([]model.CampaignPlan, *CopyReport, error) {
	examples, err := LoadCopyExamples(cfg.ExamplesPath)
	if err != nil {
		return nil, nil, err
	}

	steps := cfg.Steps
	if steps <= 0 {
		steps = 2
	}

	plans := buildPlans(batch, roleSegments)
	if len(plans) == 0 {
		return nil, nil, eris.New("copy: no populated segments to write for")
	}

	angles := make(map[string]string, len(roleSegments))
	for _, rs := range roleSegments {
		angles[rs.ID] = rs.MessagingAngle
	}

	var usage anthropic.TokenUsage
	report := &CopyReport{}

	for i := range plans {
		plan := &plans[i]
		audience := describeAudience(plan)
		emails, callUsage, err := generateSequence(ctx, gw, aiClient, aiCfg,
			batch.Profile.Offer, audience, angles[plan.SegmentID], examples, steps)
		usage.Add(callUsage)
		if err != nil {
			// Copy is batch-critical: without a sequence the campaign cannot
			// be created, so any exhausted or permanent failure stops here.
			return nil, nil, eris.Wrapf(err, "copy: generate for %s", plan.Name)
		}
		plan.Emails = emails
		report.Segments++
		report.Emails += len(emails)
	}

	usage.Log(aiCfg.Model, "copy")

	zap.L().Info("copy: sequences generated",
		zap.String("batch_id", batch.ID),
		zap.Int("plans", report.Segments),
		zap.Int("emails", report.Emails),
	)

	return plans, report, nil
}

// buildPlans enumerates the (segment, roleSegment) combinations that leads
// actually occupy, in deterministic order.
func buildPlans(batch *model.Batch, roleSegments []model.RoleSegment) []model.CampaignPlan {
	type key struct {
		segment model.Segment
		roleID  string
	}
	counts := make(map[key]int)
	for i := range batch.Leads {
		lead := &batch.Leads[i]
		counts[key{lead.Segment, lead.RoleSegmentID}]++
	}

	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].segment != keys[j].segment {
			return keys[i].segment < keys[j].segment
		}
		return keys[i].roleID < keys[j].roleID
	})

	plans := make([]model.CampaignPlan, 0, len(keys))
	for _, k := range keys {
		name := string(k.segment)
		if k.roleID != "" {
			name += "_" + strings.TrimPrefix(k.roleID, string(k.segment)+"_")
		}
		plans = append(plans, model.CampaignPlan{
			Name:      name,
			SegmentID: k.roleID,
			Segment:   k.segment,
		})
	}
	return plans
}

func describeAudience(plan *model.CampaignPlan) string {
	audience := string(plan.Segment) + " segment"
	if plan.SegmentID != "" {
		audience += ", " + strings.ReplaceAll(plan.SegmentID, "_", " ") + " roles"
	}
	return audience
}

func generateSequence(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, offer, audience, angle string, examples []CopyExample, steps int) ([]model.EmailStep, anthropic.TokenUsage, error) {
	if angle == "" {
		angle = "general business value"
	}

	system := fmt.Sprintf(copySystemPrompt, offer, audience, angle, renderExamples(examples), steps)
	user := fmt.Sprintf("Write the %d-step sequence for the %s.", steps, audience)

	text, usage, err := askAI(ctx, gw, aiClient, aiCfg, "generate_copy", system, user)
	if err != nil {
		return nil, usage, err
	}

	var emails []model.EmailStep
	if err := json.Unmarshal([]byte(cleanJSON(text)), &emails); err != nil {
		return nil, usage, eris.Wrap(err, "copy: decode sequence")
	}
	if len(emails) == 0 {
		return nil, usage, eris.New("copy: model returned no steps")
	}
	for i := range emails {
		if emails[i].Step == 0 {
			emails[i].Step = i + 1
		}
	}
	return emails, usage, nil
}

func renderExamples(examples []CopyExample) string {
	if len(examples) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, ex := range examples {
		fmt.Fprintf(&b, "Example %d\nSubject: %s\n%s\n\n", i+1, ex.Subject, ex.Body)
	}
	return b.String()
}
