package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageCanAdvance(t *testing.T) {
	cases := []struct {
		from, to Stage
		want     bool
	}{
		{StageTestScraped, StageTestValidated, true},
		{StageTestValidated, StageFullScraped, true},
		{StageTestValidated, StageHalted, true},
		{StageSegmented, StageRoleSegmented, true},
		{StageSegmented, StageCopyGenerated, true},
		{StageRoleSegmented, StageCopyGenerated, true},
		{StageCampaignsMade, StageLeadsUploaded, true},

		{StageTestScraped, StageFullScraped, false}, // cannot skip the gate
		{StageFiltered, StageVerified, false},       // cannot skip normalize
		{StageLeadsUploaded, StageTestScraped, false},
		{StageHalted, StageFullScraped, false},
		{StageFailed, StageVerified, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanAdvance(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStageCanAlwaysFail(t *testing.T) {
	for stage := range stageSuccessors {
		assert.True(t, stage.CanAdvance(StageFailed), "%s -> failed", stage)
	}
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageHalted.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.True(t, StageLeadsUploaded.Terminal())
	assert.False(t, StageVerified.Terminal())
	assert.False(t, StageTestScraped.Terminal())
}

func TestBatchAdvance(t *testing.T) {
	b := &Batch{ID: "b1", Stage: StageTestScraped}

	assert.True(t, b.Advance(StageTestValidated))
	assert.Equal(t, StageTestValidated, b.Stage)
	assert.False(t, b.UpdatedAt.IsZero())

	// Illegal transitions leave the batch untouched.
	assert.False(t, b.Advance(StageVerified))
	assert.Equal(t, StageTestValidated, b.Stage)
}

func TestBatchFail(t *testing.T) {
	b := &Batch{ID: "b1", Stage: StageNormalized}
	b.Fail(StageVerified)

	assert.Equal(t, StageFailed, b.Stage)
	assert.Equal(t, StageVerified, b.FailedStage)
}
