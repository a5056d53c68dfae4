// Package store persists batches and their per-stage checkpoint snapshots.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/EfanMutembo/leadpipe/internal/model"
)

// Checkpoint is one stage's self-describing snapshot of a batch: every lead
// field as of stage completion, plus the stage report. Any later stage can be
// re-run from it without repeating earlier work.
type Checkpoint struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id"`
	Stage     model.Stage     `json:"stage"`
	Snapshot  *model.Batch    `json:"snapshot"`
	Report    json.RawMessage `json:"report,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BatchFilter specifies criteria for listing batches.
type BatchFilter struct {
	Stage  model.Stage `json:"stage,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Batches. SaveBatch upserts the batch header (stage, stats, profile);
	// lead data lives in checkpoint snapshots.
	SaveBatch(ctx context.Context, batch *model.Batch) error
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error)

	// Checkpoints.
	SaveCheckpoint(ctx context.Context, batch *model.Batch, report any) error
	GetCheckpoint(ctx context.Context, batchID string, stage model.Stage) (*Checkpoint, error)
	LatestCheckpoint(ctx context.Context, batchID string) (*Checkpoint, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
