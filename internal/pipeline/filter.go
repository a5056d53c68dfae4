package pipeline

import (
	"go.uber.org/zap"

	"github.com/EfanMutembo/leadpipe/internal/model"
)

// FilterStage removes leads that failed the quality gate. Pure partition: no
// external calls, deterministic, input order preserved for kept leads.
func FilterStage(batch *model.Batch) *FilterReport {
	report := &FilterReport{Input: len(batch.Leads)}

	kept := batch.Leads[:0]
	var removedReasons []string
	for i := range batch.Leads {
		lead := batch.Leads[i]
		if lead.Validation != nil && lead.Validation.Verdict == model.VerdictValid {
			kept = append(kept, lead)
			continue
		}
		report.Removed++
		if lead.Validation != nil {
			removedReasons = append(removedReasons, lead.Validation.Reasons...)
		} else {
			removedReasons = append(removedReasons, "not scored")
		}
	}
	batch.Leads = kept

	report.Kept = len(batch.Leads)
	report.TopReasons = topReasons(removedReasons, 5)
	batch.Stats.Filtered = report.Kept

	zap.L().Info("filter: removed invalid leads",
		zap.String("batch_id", batch.ID),
		zap.Int("kept", report.Kept),
		zap.Int("removed", report.Removed),
	)

	return report
}
