package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

// IndexRunRepository keeps the history of index rebuilds in Postgres.
type IndexRunRepository struct {
	db *sql.DB
}

func NewIndexRunRepository(db *sql.DB) *IndexRunRepository {
	return &IndexRunRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *IndexRunRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS index_runs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	status TEXT NOT NULL,
	files_total INTEGER NOT NULL DEFAULT 0,
	files_indexed INTEGER NOT NULL DEFAULT 0,
	files_skipped INTEGER NOT NULL DEFAULT 0,
	chunks INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_index_runs_project_started ON index_runs(project_id, started_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *IndexRunRepository) StartRun(ctx context.Context, run *domain.IndexRun) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO index_runs (id, project_id, ref, status, started_at)
VALUES ($1,$2,$3,$4,$5)
`, run.ID, run.ProjectID, run.Ref, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("start index run: %w", err)
	}
	return nil
}

func (r *IndexRunRepository) FinishRun(ctx context.Context, run *domain.IndexRun) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE index_runs
SET status = $2, files_total = $3, files_indexed = $4, files_skipped = $5, chunks = $6, error_message = $7, finished_at = $8
WHERE id = $1
`, run.ID, string(run.Status), run.FilesTotal, run.FilesIndexed, run.FilesSkipped, run.Chunks, nullString(run.Error), run.FinishedAt)
	if err != nil {
		return fmt.Errorf("finish index run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish index run rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, "finish index run", fmt.Errorf("id=%s", run.ID))
	}
	return nil
}

func (r *IndexRunRepository) LatestRun(ctx context.Context, projectID string) (*domain.IndexRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, project_id, ref, status, files_total, files_indexed, files_skipped, chunks, error_message, started_at, finished_at
FROM index_runs
WHERE project_id = $1
ORDER BY started_at DESC
LIMIT 1
`, projectID)

	run, err := scanIndexRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "latest index run", fmt.Errorf("project=%s", projectID))
		}
		return nil, fmt.Errorf("latest index run: %w", err)
	}
	return &run, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIndexRun(row rowScanner) (domain.IndexRun, error) {
	var run domain.IndexRun
	var status string
	var errorMessage sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.Ref,
		&status,
		&run.FilesTotal,
		&run.FilesIndexed,
		&run.FilesSkipped,
		&run.Chunks,
		&errorMessage,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.IndexRun{}, err
	}
	run.Status = domain.RunStatus(status)
	run.Error = errorMessage.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
