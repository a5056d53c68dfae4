package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/EfanMutembo/leadpipe/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// which keeps the Postgres store unit-testable without a server.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	stage        TEXT NOT NULL,
	failed_stage TEXT,
	profile      JSONB NOT NULL,
	stats        JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL REFERENCES batches(id),
	stage      TEXT NOT NULL,
	snapshot   JSONB NOT NULL,
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(batch_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_batches_stage ON batches(stage);
CREATE INDEX IF NOT EXISTS idx_checkpoints_batch_id ON checkpoints(batch_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, batch *model.Batch) error {
	profileJSON, statsJSON, err := marshalBatchHeader(batch)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (id, stage, failed_stage, profile, stats, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   stage = EXCLUDED.stage,
		   failed_stage = EXCLUDED.failed_stage,
		   stats = EXCLUDED.stats,
		   updated_at = EXCLUDED.updated_at`,
		batch.ID, string(batch.Stage), nullable(string(batch.FailedStage)),
		profileJSON, statsJSON, batch.CreatedAt, batch.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save batch %s", batch.ID)
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, stage, failed_stage, profile, stats, created_at, updated_at
		 FROM batches WHERE id = $1`,
		batchID,
	)
	b, err := scanBatchPgx(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error) {
	query := `SELECT id, stage, failed_stage, profile, stats, created_at, updated_at FROM batches`
	var args []any

	if filter.Stage != "" {
		query += ` WHERE stage = $1`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatchPgx(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list batches scan")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, batch *model.Batch, report any) error {
	snapshotJSON, reportJSON, err := marshalCheckpoint(batch, report)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, batch_id, stage, snapshot, report, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (batch_id, stage) DO UPDATE SET
		   snapshot = EXCLUDED.snapshot,
		   report = EXCLUDED.report,
		   created_at = EXCLUDED.created_at`,
		uuid.NewString(), batch.ID, string(batch.Stage), snapshotJSON, reportJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s/%s", batch.ID, batch.Stage)
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, batchID string, stage model.Stage) (*Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, batch_id, stage, snapshot, report, created_at
		 FROM checkpoints WHERE batch_id = $1 AND stage = $2`,
		batchID, string(stage),
	)
	return scanCheckpointPgx(row)
}

func (s *PostgresStore) LatestCheckpoint(ctx context.Context, batchID string) (*Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, batch_id, stage, snapshot, report, created_at
		 FROM checkpoints WHERE batch_id = $1
		 ORDER BY created_at DESC LIMIT 1`,
		batchID,
	)
	return scanCheckpointPgx(row)
}

// scanBatchPgx mirrors scanBatch but translates pgx's no-rows sentinel.
func scanBatchPgx(row scannable) (*model.Batch, error) {
	b, err := scanBatch(rowAdapter{row})
	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("batch not found")
	}
	return b, err
}

func scanCheckpointPgx(row scannable) (*Checkpoint, error) {
	cp, err := scanCheckpoint(rowAdapter{row})
	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

// rowAdapter lets the shared scan helpers treat pgx rows like database/sql
// rows; no-rows translation happens in the callers above.
type rowAdapter struct{ row scannable }

func (r rowAdapter) Scan(dest ...any) error { return r.row.Scan(dest...) }

