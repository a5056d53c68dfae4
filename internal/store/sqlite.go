package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/EfanMutembo/leadpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	stage        TEXT NOT NULL,
	failed_stage TEXT,
	profile      TEXT NOT NULL,
	stats        TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL REFERENCES batches(id),
	stage      TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	report     TEXT,
	created_at DATETIME NOT NULL,
	UNIQUE(batch_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_batches_stage ON batches(stage);
CREATE INDEX IF NOT EXISTS idx_checkpoints_batch_id ON checkpoints(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, batch *model.Batch) error {
	profileJSON, statsJSON, err := marshalBatchHeader(batch)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (id, stage, failed_stage, profile, stats, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   stage = excluded.stage,
		   failed_stage = excluded.failed_stage,
		   stats = excluded.stats,
		   updated_at = excluded.updated_at`,
		batch.ID, string(batch.Stage), nullable(string(batch.FailedStage)),
		profileJSON, statsJSON, batch.CreatedAt, batch.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save batch %s", batch.ID)
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stage, failed_stage, profile, stats, created_at, updated_at
		 FROM batches WHERE id = ?`,
		batchID,
	)
	return scanBatch(row)
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error) {
	query := `SELECT id, stage, failed_stage, profile, stats, created_at, updated_at FROM batches WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, batch *model.Batch, report any) error {
	snapshotJSON, reportJSON, err := marshalCheckpoint(batch, report)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, batch_id, stage, snapshot, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(batch_id, stage) DO UPDATE SET
		   snapshot = excluded.snapshot,
		   report = excluded.report,
		   created_at = excluded.created_at`,
		uuid.NewString(), batch.ID, string(batch.Stage), snapshotJSON, reportJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s/%s", batch.ID, batch.Stage)
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, batchID string, stage model.Stage) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, stage, snapshot, report, created_at
		 FROM checkpoints WHERE batch_id = ? AND stage = ?`,
		batchID, string(stage),
	)
	return scanCheckpoint(row)
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, batchID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, stage, snapshot, report, created_at
		 FROM checkpoints WHERE batch_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		batchID,
	)
	return scanCheckpoint(row)
}

// helpers

func marshalBatchHeader(batch *model.Batch) (profileJSON, statsJSON string, err error) {
	p, err := json.Marshal(batch.Profile)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal profile")
	}
	st, err := json.Marshal(batch.Stats)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal stats")
	}
	return string(p), string(st), nil
}

func marshalCheckpoint(batch *model.Batch, report any) (snapshotJSON, reportJSON string, err error) {
	snap, err := json.Marshal(batch)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal snapshot")
	}
	reportJSON = "null"
	if report != nil {
		r, err := json.Marshal(report)
		if err != nil {
			return "", "", eris.Wrap(err, "store: marshal report")
		}
		reportJSON = string(r)
	}
	return string(snap), reportJSON, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*model.Batch, error) {
	var b model.Batch
	var failedStage sql.NullString
	var profileJSON, statsJSON string

	err := row.Scan(&b.ID, &b.Stage, &failedStage, &profileJSON, &statsJSON, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("batch not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan batch")
	}

	if failedStage.Valid {
		b.FailedStage = model.Stage(failedStage.String)
	}
	if err := json.Unmarshal([]byte(profileJSON), &b.Profile); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal profile")
	}
	if err := json.Unmarshal([]byte(statsJSON), &b.Stats); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal stats")
	}
	return &b, nil
}

func scanCheckpoint(row scannable) (*Checkpoint, error) {
	var cp Checkpoint
	var snapshotJSON string
	var reportJSON sql.NullString

	err := row.Scan(&cp.ID, &cp.BatchID, &cp.Stage, &snapshotJSON, &reportJSON, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan checkpoint")
	}

	cp.Snapshot = &model.Batch{}
	if err := json.Unmarshal([]byte(snapshotJSON), cp.Snapshot); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal snapshot")
	}
	if reportJSON.Valid {
		cp.Report = json.RawMessage(reportJSON.String)
	}
	return &cp, nil
}
