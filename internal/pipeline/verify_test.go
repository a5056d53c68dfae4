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
	"github.com/EfanMutembo/leadpipe/pkg/anymailfinder"
)

func verifyBatch(emails ...string) *model.Batch {
	batch := &model.Batch{ID: "b"}
	for i, e := range emails {
		batch.Leads = append(batch.Leads, model.Lead{
			ID:            fmt.Sprintf("lead-%d", i),
			Email:         e,
			ContactStatus: model.ContactUnverified,
		})
	}
	return batch
}

func TestVerifyStageKeepsValidDropsRisky(t *testing.T) {
	// Mixed outcomes with risky retention off: only valid leads survive.
	batch := verifyBatch("a@x.com", "b@x.com", "c@x.com", "d@x.com")
	verifier := &mockVerifier{statuses: map[string]anymailfinder.Status{
		"a@x.com": anymailfinder.StatusValid,
		"b@x.com": anymailfinder.StatusRisky,
		"c@x.com": anymailfinder.StatusInvalid,
		"d@x.com": anymailfinder.StatusValid,
	}}

	report, err := VerifyStage(context.Background(), testGW(), verifier,
		config.VerifyConfig{Concurrency: 2}, batch)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Valid)
	assert.Equal(t, 1, report.Risky)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 2, report.Kept)
	require.Len(t, batch.Leads, 2)
	for _, l := range batch.Leads {
		assert.Equal(t, model.ContactValid, l.ContactStatus)
	}
	assert.Equal(t, 2, batch.Stats.EmailValid)
	assert.Equal(t, 1, batch.Stats.EmailRisky)
}

func TestVerifyStageKeepRiskyFlag(t *testing.T) {
	batch := verifyBatch("a@x.com", "b@x.com")
	verifier := &mockVerifier{statuses: map[string]anymailfinder.Status{
		"a@x.com": anymailfinder.StatusValid,
		"b@x.com": anymailfinder.StatusRisky,
	}}

	report, err := VerifyStage(context.Background(), testGW(), verifier,
		config.VerifyConfig{Concurrency: 2, KeepRisky: true}, batch)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Kept)
	assert.True(t, report.KeepRisky)
	require.Len(t, batch.Leads, 2)
}

func TestVerifyStageSkipsMalformedEmails(t *testing.T) {
	batch := verifyBatch("good@x.com", "not-an-email", "")
	verifier := &mockVerifier{statuses: map[string]anymailfinder.Status{
		"good@x.com": anymailfinder.StatusValid,
	}}

	report, err := VerifyStage(context.Background(), testGW(), verifier,
		config.VerifyConfig{Concurrency: 2}, batch)
	require.NoError(t, err)

	// Malformed addresses never reach the provider.
	assert.Equal(t, 1, verifier.calls)
	assert.Equal(t, 2, report.Invalid)
	assert.Equal(t, 1, report.Kept)
}

func TestVerifyStageUnknownStatusIsInvalid(t *testing.T) {
	batch := verifyBatch("mystery@x.com")
	verifier := &mockVerifier{} // no mapping -> unknown

	report, err := VerifyStage(context.Background(), testGW(), verifier,
		config.VerifyConfig{Concurrency: 1}, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalid)
	assert.Empty(t, batch.Leads)
}

func TestVerifyStagePermanentErrorHaltsBatch(t *testing.T) {
	batch := verifyBatch("a@x.com", "b@x.com")
	verifier := &mockVerifier{
		statuses: map[string]anymailfinder.Status{"b@x.com": anymailfinder.StatusValid},
		errs: map[string]error{
			"a@x.com": gateway.NewPermanentError(errors.New("invalid api key"), 401),
		},
	}

	_, err := VerifyStage(context.Background(), testGW(), verifier,
		config.VerifyConfig{Concurrency: 1}, batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider rejected")
}

func TestVerifyStageTransientExhaustionDropsOnlyThatLead(t *testing.T) {
	batch := verifyBatch("flaky@x.com", "solid@x.com")
	verifier := &mockVerifier{
		statuses: map[string]anymailfinder.Status{"solid@x.com": anymailfinder.StatusValid},
		errs: map[string]error{
			"flaky@x.com": gateway.NewTransientError(errors.New("rate limited"), 429),
		},
	}

	report, err := VerifyStage(context.Background(), testGW(), verifier,
		config.VerifyConfig{Concurrency: 1}, batch)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 1, report.Valid)
	require.Len(t, batch.Leads, 1)
	assert.Equal(t, "solid@x.com", batch.Leads[0].Email)
}

func TestVerifyStageStatusTransitionIsOneWay(t *testing.T) {
	batch := verifyBatch("a@x.com")
	batch.Leads[0].ContactStatus = model.ContactValid // already classified

	verifier := &mockVerifier{statuses: map[string]anymailfinder.Status{
		"a@x.com": anymailfinder.StatusInvalid,
	}}

	_, err := VerifyStage(context.Background(), testGW(), verifier,
		config.VerifyConfig{Concurrency: 1}, batch)
	require.NoError(t, err)

	// The earlier classification wins.
	require.Len(t, batch.Leads, 1)
	assert.Equal(t, model.ContactValid, batch.Leads[0].ContactStatus)
}
