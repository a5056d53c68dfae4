// Package monitoring aggregates pipeline run statistics for operator output.
package monitoring

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/internal/model"
)

// ProviderStats is the per-operation view of gateway call outcomes.
type ProviderStats struct {
	Operation  string        `json:"operation"` // "provider/operation"
	Calls      int           `json:"calls"`
	Failures   int           `json:"failures"`
	Retries    int           `json:"retries"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

// RunSnapshot is the operator-facing summary of one pipeline run.
type RunSnapshot struct {
	BatchID   string          `json:"batch_id"`
	Stage     model.Stage     `json:"stage"`
	Stats     model.Stats     `json:"stats"`
	Providers []ProviderStats `json:"providers"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// Collector assembles snapshots from the gateway's outcome records and the
// batch's counters.
type Collector struct {
	gw    *gateway.Gateway
	start time.Time
}

// NewCollector creates a Collector for one run.
func NewCollector(gw *gateway.Gateway) *Collector {
	return &Collector{gw: gw, start: time.Now()}
}

// Snapshot builds the current run summary.
func (c *Collector) Snapshot(batch *model.Batch) *RunSnapshot {
	snap := &RunSnapshot{
		BatchID: batch.ID,
		Stage:   batch.Stage,
		Stats:   batch.Stats,
		Elapsed: time.Since(c.start),
	}

	byOp := c.gw.StatsByOperation()
	ops := make([]string, 0, len(byOp))
	for op := range byOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		s := byOp[op]
		ps := ProviderStats{
			Operation:  op,
			Calls:      s.Calls,
			Failures:   s.Failures,
			Retries:    s.Retries,
			MaxLatency: s.MaxLatency,
		}
		if s.Calls > 0 {
			ps.AvgLatency = s.TotalTime / time.Duration(s.Calls)
		}
		snap.Providers = append(snap.Providers, ps)
	}
	return snap
}

// Log emits the snapshot as one structured record.
func (s *RunSnapshot) Log() {
	fields := []zap.Field{
		zap.String("batch_id", s.BatchID),
		zap.String("stage", string(s.Stage)),
		zap.Duration("elapsed", s.Elapsed),
		zap.Int("scraped", s.Stats.Scraped),
		zap.Int("valid", s.Stats.Valid),
		zap.Int("email_valid", s.Stats.EmailValid),
		zap.Int("enriched", s.Stats.Enriched),
		zap.Int("uploaded", s.Stats.Uploaded),
	}
	for _, p := range s.Providers {
		fields = append(fields, zap.Int(p.Operation+"_calls", p.Calls))
	}
	zap.L().Info("run summary", fields...)
}
