package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/github-sentinel/sentinel/pkg/models"
)

const taskColumns = `id, task_name, task_kind, status, started_at, finished_at,
	duration_seconds, success_count, error_count, processed_count, details, error`

// StartTaskExecution records the beginning of a job run.
func (s *Store) StartTaskExecution(ctx context.Context, name, kind string) (*models.TaskExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO task_executions (task_name, task_kind, status)
		VALUES ($1, $2, $3)
		RETURNING `+taskColumns,
		name, kind, models.TaskRunning)

	te, err := scanTaskExecution(row)
	if err != nil {
		return nil, fmt.Errorf("start task execution: %w", err)
	}
	return te, nil
}

// FinishTaskExecution transitions a running execution to its terminal
// state and records counters, duration, and error text.
func (s *Store) FinishTaskExecution(ctx context.Context, te *models.TaskExecution) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_executions
		SET status = $2, finished_at = $3,
		    duration_seconds = EXTRACT(EPOCH FROM ($3 - started_at)),
		    success_count = $4, error_count = $5, processed_count = $6,
		    details = $7, error = $8
		WHERE id = $1 AND status = $9`,
		te.ID, te.Status, now, te.SuccessCount, te.ErrorCount,
		te.ProcessedCount, te.Details, te.Error, models.TaskRunning)
	if err != nil {
		return fmt.Errorf("finish task execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish task execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task execution %d not running: %w", te.ID, ErrNotFound)
	}
	return nil
}

// GetTaskExecution fetches an execution by id.
func (s *Store) GetTaskExecution(ctx context.Context, id int64) (*models.TaskExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM task_executions WHERE id = $1`, id)
	te, err := scanTaskExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task execution %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get task execution: %w", err)
	}
	return te, nil
}

// ListTaskExecutions returns recent executions, newest first, optionally
// narrowed to one task name.
func (s *Store) ListTaskExecutions(ctx context.Context, name string, limit int) ([]models.TaskExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM task_executions`
	var args []any
	if name != "" {
		args = append(args, name)
		query += ` WHERE task_name = $1`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY started_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task executions: %w", err)
	}
	defer rows.Close()

	var executions []models.TaskExecution
	for rows.Next() {
		te, err := scanTaskExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task execution: %w", err)
		}
		executions = append(executions, *te)
	}
	return executions, rows.Err()
}

// MarkStaleExecutionsCancelled flags running executions started before
// the cutoff as cancelled. Used at shutdown and startup recovery.
func (s *Store) MarkStaleExecutionsCancelled(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_executions
		SET status = $1, finished_at = now(),
		    duration_seconds = EXTRACT(EPOCH FROM (now() - started_at)),
		    error = 'cancelled'
		WHERE status = $2 AND started_at < $3`,
		models.TaskCancelled, models.TaskRunning, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark stale executions: %w", err)
	}
	return res.RowsAffected()
}

// PruneTaskExecutions deletes finished executions older than the cutoff.
func (s *Store) PruneTaskExecutions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM task_executions
		WHERE status <> $1 AND started_at < $2`,
		models.TaskRunning, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune task executions: %w", err)
	}
	return res.RowsAffected()
}

func scanTaskExecution(row rowScanner) (*models.TaskExecution, error) {
	var te models.TaskExecution
	err := row.Scan(&te.ID, &te.Name, &te.Kind, &te.Status, &te.StartedAt,
		&te.FinishedAt, &te.DurationSeconds, &te.SuccessCount, &te.ErrorCount,
		&te.ProcessedCount, &te.Details, &te.Error)
	if err != nil {
		return nil, err
	}
	return &te, nil
}
