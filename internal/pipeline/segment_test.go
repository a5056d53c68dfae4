package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
)

func segmentCfg() config.SegmentConfig {
	return config.SegmentConfig{MinSize: 10, ByRole: true}
}

func TestSegmentStagePartitionIsTotalAndDisjoint(t *testing.T) {
	batch := &model.Batch{ID: "b"}
	for i := 0; i < 420; i++ {
		batch.Leads = append(batch.Leads, model.Lead{
			ID:              fmt.Sprintf("p-%d", i),
			Personalization: &model.Personalization{Text: "snippet", Tier: model.TierNews},
		})
	}
	for i := 0; i < 180; i++ {
		batch.Leads = append(batch.Leads, model.Lead{ID: fmt.Sprintf("g-%d", i)})
	}

	report := SegmentStage(batch)

	assert.Equal(t, 420, report.Personalized)
	assert.Equal(t, 180, report.Generic)
	for i := range batch.Leads {
		assert.NotEmpty(t, batch.Leads[i].Segment)
	}
	assert.Equal(t, 420, batch.Stats.Personalized)
	assert.Equal(t, 180, batch.Stats.Generic)
}

func TestSegmentStageEmptySnippetIsGeneric(t *testing.T) {
	batch := &model.Batch{Leads: []model.Lead{
		{ID: "1", Personalization: &model.Personalization{Text: ""}},
	}}
	report := SegmentStage(batch)
	assert.Equal(t, 1, report.Generic)
	assert.Equal(t, model.SegmentGeneric, batch.Leads[0].Segment)
}

func roleBatch(counts map[string]int) *model.Batch {
	batch := &model.Batch{ID: "b"}
	i := 0
	for title, n := range counts {
		for j := 0; j < n; j++ {
			batch.Leads = append(batch.Leads, model.Lead{
				ID:       fmt.Sprintf("lead-%d", i),
				JobTitle: title,
			})
			i++
		}
	}
	return batch
}

func TestRoleSegmentStageAIClustering(t *testing.T) {
	batch := roleBatch(map[string]int{
		"CEO": 12, "Founder": 10, "Marketing Director": 15, "Head of Growth": 11,
	})

	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return `[
			{"segment_id": "executive", "segment_name": "Executive",
			 "job_titles": ["CEO", "Founder"], "messaging_angle": "Outcomes."},
			{"segment_id": "marketing", "segment_name": "Marketing",
			 "job_titles": ["Marketing Director", "Head of Growth"], "messaging_angle": "Pipeline."}
		]`, nil
	}}

	report, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), segmentCfg(), batch)
	require.NoError(t, err)

	assert.False(t, report.UsedFallback)
	require.Len(t, report.RoleSegments, 2)

	// Largest group first.
	assert.Equal(t, "marketing", report.RoleSegments[0].ID)
	assert.Equal(t, 26, report.RoleSegments[0].LeadCount)
	assert.Equal(t, "executive", report.RoleSegments[1].ID)
	assert.Equal(t, 22, report.RoleSegments[1].LeadCount)

	for i := range batch.Leads {
		assert.NotEmpty(t, batch.Leads[i].RoleSegmentID)
	}
}

func TestRoleSegmentStageDegenerateOutputUsesFallback(t *testing.T) {
	batch := roleBatch(map[string]int{"CEO": 12, "Operations Manager": 11})

	// The model leaves Operations Manager unassigned.
	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return `[{"segment_id": "executive", "segment_name": "Executive",
			"job_titles": ["CEO"], "messaging_angle": "Outcomes."}]`, nil
	}}

	report, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), segmentCfg(), batch)
	require.NoError(t, err)

	assert.True(t, report.UsedFallback)
	ids := make(map[string]bool)
	for _, s := range report.RoleSegments {
		ids[s.ID] = true
	}
	assert.True(t, ids["executive"])
	assert.True(t, ids["operations"])
}

func TestRoleSegmentStageAIErrorUsesFallback(t *testing.T) {
	batch := roleBatch(map[string]int{"CEO": 12, "Sales Director": 11})
	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return "", gateway.NewTransientError(errors.New("overloaded"), 529)
	}}

	report, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), segmentCfg(), batch)
	require.NoError(t, err)
	assert.True(t, report.UsedFallback)
	assert.NotEmpty(t, report.RoleSegments)
}

func TestRoleSegmentStagePermanentErrorHalts(t *testing.T) {
	batch := roleBatch(map[string]int{"CEO": 5})
	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return "", gateway.NewPermanentError(errors.New("bad key"), 401)
	}}

	_, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), segmentCfg(), batch)
	require.Error(t, err)
	assert.True(t, gateway.IsPermanent(err))
}

func TestRoleSegmentStageMergesUndersizedIntoExecutive(t *testing.T) {
	// Marketing has 6 members, below the minimum of 10; it folds into
	// executive and every affected lead is reassigned.
	batch := roleBatch(map[string]int{"CEO": 15, "Marketing Director": 6})

	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return `[
			{"segment_id": "executive", "segment_name": "Executive",
			 "job_titles": ["CEO"], "messaging_angle": "Outcomes."},
			{"segment_id": "marketing", "segment_name": "Marketing",
			 "job_titles": ["Marketing Director"], "messaging_angle": "Pipeline."}
		]`, nil
	}}

	report, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), segmentCfg(), batch)
	require.NoError(t, err)

	require.Len(t, report.RoleSegments, 1)
	assert.Equal(t, "executive", report.RoleSegments[0].ID)
	assert.Equal(t, 21, report.RoleSegments[0].LeadCount)
	for i := range batch.Leads {
		assert.Equal(t, "executive", batch.Leads[i].RoleSegmentID)
	}
}

func TestRoleSegmentStageSoleGroupMayStayUnderMinimum(t *testing.T) {
	batch := roleBatch(map[string]int{"CEO": 4})

	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return `[{"segment_id": "executive", "segment_name": "Executive",
			"job_titles": ["CEO"], "messaging_angle": "Outcomes."}]`, nil
	}}

	report, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), segmentCfg(), batch)
	require.NoError(t, err)

	require.Len(t, report.RoleSegments, 1)
	assert.Equal(t, 4, report.RoleSegments[0].LeadCount)
}

func TestRoleSegmentStageUndersizedExecutiveFoldsIntoLargest(t *testing.T) {
	batch := roleBatch(map[string]int{"CEO": 3, "Operations Manager": 14})

	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return `[
			{"segment_id": "executive", "segment_name": "Executive",
			 "job_titles": ["CEO"], "messaging_angle": "Outcomes."},
			{"segment_id": "operations", "segment_name": "Operations",
			 "job_titles": ["Operations Manager"], "messaging_angle": "Efficiency."}
		]`, nil
	}}

	report, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), segmentCfg(), batch)
	require.NoError(t, err)

	require.Len(t, report.RoleSegments, 1)
	assert.Equal(t, "operations", report.RoleSegments[0].ID)
	assert.Equal(t, 17, report.RoleSegments[0].LeadCount)
}

func TestRoleSegmentStagePerSegmentScopes(t *testing.T) {
	batch := &model.Batch{ID: "b"}
	for i := 0; i < 12; i++ {
		batch.Leads = append(batch.Leads, model.Lead{
			ID: fmt.Sprintf("p-%d", i), JobTitle: "CEO",
			Segment: model.SegmentPersonalized,
		})
	}
	for i := 0; i < 11; i++ {
		batch.Leads = append(batch.Leads, model.Lead{
			ID: fmt.Sprintf("g-%d", i), JobTitle: "CEO",
			Segment: model.SegmentGeneric,
		})
	}

	ai := &mockAI{fn: func(anthropic.MessageRequest) (string, error) {
		return `[{"segment_id": "executive", "segment_name": "Executive",
			"job_titles": ["CEO"], "messaging_angle": "Outcomes."}]`, nil
	}}

	cfg := segmentCfg()
	cfg.PerSegmentRoles = true
	report, err := RoleSegmentStage(context.Background(), testGW(), ai, testAICfg(), cfg, batch)
	require.NoError(t, err)

	require.Len(t, report.RoleSegments, 2)
	assert.Equal(t, "personalized_executive", report.RoleSegments[0].ID)
	assert.Equal(t, "generic_executive", report.RoleSegments[1].ID)
	assert.Equal(t, "personalized_executive", batch.Leads[0].RoleSegmentID)
	assert.Equal(t, "generic_executive", batch.Leads[12].RoleSegmentID)
}

func TestClassifyTitle(t *testing.T) {
	cases := []struct {
		title, want string
	}{
		{"CEO", "executive"},
		{"Co-Founder", "executive"},
		{"Managing Director", "executive"},
		{"Marketing Director", "marketing"},
		{"Head of Sales", "sales"},
		{"Director of Finance", "executive"}, // director with no function match
		{"Office Manager", "operations"},
		{"Software Engineer", "technical"},
		{"", "executive"},
		{"Underwater Basket Weaver", "executive"}, // catch-all
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classifyTitle(c.title), "title: %q", c.title)
	}
}

func TestDistinctTitlesDeduplicatesCaseInsensitively(t *testing.T) {
	leads := []*model.Lead{
		{JobTitle: "CEO"},
		{JobTitle: "ceo"},
		{JobTitle: " CEO "},
		{JobTitle: "CTO"},
		{JobTitle: ""},
	}
	assert.Equal(t, []string{"CEO", "CTO"}, distinctTitles(leads))
}
