// Package pipeline implements the staged lead qualification and enrichment
// pipeline: gate, filter, normalize, verify, enrich, segment, copy, upload.
package pipeline

import (
	"sort"

	"github.com/EfanMutembo/leadpipe/internal/model"
)

// GateDecision is the orchestrator-level outcome of the quality gate.
type GateDecision string

const (
	DecisionProceed GateDecision = "proceed"
	DecisionHalt    GateDecision = "halt"
)

// ReasonCount pairs a failing criterion with how many records it affected.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// GateReport summarizes one quality-gate pass over a batch.
type GateReport struct {
	Total      int           `json:"total"`
	Valid      int           `json:"valid"`
	Invalid    int           `json:"invalid"`
	PassRate   float64       `json:"pass_rate"` // 0–1
	Threshold  float64       `json:"threshold"` // 0–1
	Decision   GateDecision  `json:"decision"`
	TopReasons []ReasonCount `json:"top_reasons,omitempty"`
}

// FilterReport summarizes the removal pass after the gate.
type FilterReport struct {
	Input      int           `json:"input"`
	Kept       int           `json:"kept"`
	Removed    int           `json:"removed"`
	TopReasons []ReasonCount `json:"top_reasons,omitempty"`
}

// NormalizeReport summarizes company-name normalization.
type NormalizeReport struct {
	DistinctNames int `json:"distinct_names"`
	Normalized    int `json:"normalized"`
	FailedChunks  int `json:"failed_chunks"`
}

// VerifyReport summarizes email verification outcomes.
type VerifyReport struct {
	Input     int  `json:"input"`
	Valid     int  `json:"valid"`
	Risky     int  `json:"risky"`
	Invalid   int  `json:"invalid"`
	Errored   int  `json:"errored"`
	Kept      int  `json:"kept"`
	KeepRisky bool `json:"keep_risky"`
}

// EnrichReport summarizes website enrichment outcomes.
type EnrichReport struct {
	Input       int         `json:"input"`
	Enriched    int         `json:"enriched"`
	NoWebsite   int         `json:"no_website"`
	Failed      int         `json:"failed"`
	SuccessRate float64     `json:"success_rate"` // 0–1, over records with a website
	TierCounts  map[int]int `json:"tier_counts"`
}

// SegmentReport summarizes the personalization partition and optional role
// sub-segmentation.
type SegmentReport struct {
	Personalized int                 `json:"personalized"`
	Generic      int                 `json:"generic"`
	RoleSegments []model.RoleSegment `json:"role_segments,omitempty"`
	UsedFallback bool                `json:"used_fallback,omitempty"`
}

// CopyReport summarizes email copy generation.
type CopyReport struct {
	Segments int `json:"segments"`
	Emails   int `json:"emails"`
}

// UploadReport summarizes campaign creation and lead upload.
type UploadReport struct {
	Campaigns  int `json:"campaigns"`
	Uploaded   int `json:"uploaded"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// topReasons tallies reason strings and returns the n most frequent,
// descending, ties broken alphabetically for determinism.
func topReasons(reasons []string, n int) []ReasonCount {
	if len(reasons) == 0 {
		return nil
	}
	tally := make(map[string]int)
	for _, r := range reasons {
		if r != "" {
			tally[r]++
		}
	}
	out := make([]ReasonCount, 0, len(tally))
	for r, c := range tally {
		out = append(out, ReasonCount{Reason: r, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
