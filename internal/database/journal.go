package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/maltedev/marketplace-agent/internal/models"
)

// Execer is the part of pgx.Tx the journal writes through.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunRepository journals operation runs.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) InsertWithTx(ctx context.Context, tx Execer, run *models.OperationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO operation_run (
			id, action, domain, url, query, success,
			error_kind, error, items, started_at, duration_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := tx.Exec(ctx, query,
		run.ID, run.Action, run.Domain, run.URL, run.Query, run.Success,
		string(run.ErrorKind), run.Error, run.Items, run.StartedAt, run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]models.OperationRun, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, action, domain, url, query, success,
			error_kind, error, items, started_at, duration_ms
		FROM operation_run
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OperationRun, error) {
		var (
			run        models.OperationRun
			kind       string
			durationMs int64
		)
		err := row.Scan(&run.ID, &run.Action, &run.Domain, &run.URL, &run.Query, &run.Success,
			&kind, &run.Error, &run.Items, &run.StartedAt, &durationMs)
		run.ErrorKind = models.ErrorKind(kind)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation runs: %w", err)
	}
	return runs, nil
}
