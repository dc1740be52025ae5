package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// ErrTerminalReport is returned when a mutation targets a report already
// in a terminal state. Terminal reports only admit deletion.
var ErrTerminalReport = errors.New("report is in a terminal state")

const reportColumns = `id, owner_user_id, subscription_ids, title, report_type,
	status, format, period_start, period_end, summary, content, ai_analysis,
	stats, error, created_at, updated_at, generated_at`

// CreateReport inserts a new report in state pending.
func (s *Store) CreateReport(ctx context.Context, r *models.Report) (*models.Report, error) {
	subIDs, err := json.Marshal(r.SubscriptionIDs)
	if err != nil {
		return nil, fmt.Errorf("encode subscription ids: %w", err)
	}
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reports (owner_user_id, subscription_ids, title,
			report_type, status, format, period_start, period_end, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+reportColumns,
		r.OwnerUserID, subIDs, r.Title, r.Kind, models.ReportPending,
		r.Format, r.PeriodStart.UTC(), r.PeriodEnd.UTC(), stats)

	created, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	return created, nil
}

// GetReport fetches a report by id.
func (s *Store) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// ListReports returns reports matching params, newest first.
func (s *Store) ListReports(ctx context.Context, params models.ReportListParams) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	var args []any
	if params.OwnerUserID > 0 {
		args = append(args, params.OwnerUserID)
		query += fmt.Sprintf(` AND owner_user_id = $%d`, len(args))
	}
	if params.Kind != "" {
		args = append(args, params.Kind)
		query += fmt.Sprintf(` AND report_type = $%d`, len(args))
	}
	if params.Status != "" {
		args = append(args, params.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// MarkReportGenerating transitions pending → generating.
func (s *Store) MarkReportGenerating(ctx context.Context, id int64) error {
	return s.transitionReport(ctx, id, models.ReportGenerating, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE reports SET status = $2, updated_at = now()
			WHERE id = $1`, id, models.ReportGenerating)
		return err
	})
}

// CompleteReport atomically writes the generated content, stats, and
// terminal completed state.
func (s *Store) CompleteReport(ctx context.Context, r *models.Report) (*models.Report, error) {
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}

	var updated *models.Report
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockNonTerminalReport(ctx, tx, r.ID); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE reports
			SET status = $2, title = $3, summary = $4, content = $5,
			    ai_analysis = $6, stats = $7, error = '',
			    generated_at = now(), updated_at = now()
			WHERE id = $1
			RETURNING `+reportColumns,
			r.ID, models.ReportCompleted, r.Title, r.Summary, r.Body,
			r.AIAnalysis, stats)
		updated, err = scanReport(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("complete report %d: %w", r.ID, err)
	}
	return updated, nil
}

// FailReport transitions a non-terminal report to failed with an error
// message.
func (s *Store) FailReport(ctx context.Context, id int64, reason string) error {
	return s.transitionReport(ctx, id, models.ReportFailed, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE reports SET status = $2, error = $3, updated_at = now()
			WHERE id = $1`, id, models.ReportFailed, reason)
		return err
	})
}

// DeleteReport removes a report regardless of state.
func (s *Store) DeleteReport(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountReports aggregates report counts per status for the dashboard.
func (s *Store) CountReports(ctx context.Context, ownerID int64) (map[models.ReportStatus]int, error) {
	query := `SELECT status, count(*) FROM reports`
	var args []any
	if ownerID > 0 {
		query += ` WHERE owner_user_id = $1`
		args = append(args, ownerID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ReportStatus]int)
	for rows.Next() {
		var (
			status models.ReportStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan report count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// transitionReport applies fn after verifying the report exists and is
// not terminal. The row lock serializes concurrent transitions.
func (s *Store) transitionReport(ctx context.Context, id int64, to models.ReportStatus, fn func(tx *sql.Tx) error) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockNonTerminalReport(ctx, tx, id); err != nil {
			return err
		}
		return fn(tx)
	})
	if err != nil {
		return fmt.Errorf("transition report %d to %s: %w", id, to, err)
	}
	return nil
}

func lockNonTerminalReport(ctx context.Context, tx *sql.Tx, id int64) error {
	var status models.ReportStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM reports WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status.Terminal() {
		return ErrTerminalReport
	}
	return nil
}

func scanReport(row rowScanner) (*models.Report, error) {
	var (
		r      models.Report
		subIDs []byte
		stats  []byte
	)
	err := row.Scan(&r.ID, &r.OwnerUserID, &subIDs, &r.Title, &r.Kind,
		&r.Status, &r.Format, &r.PeriodStart, &r.PeriodEnd, &r.Summary,
		&r.Body, &r.AIAnalysis, &stats, &r.Error, &r.CreatedAt, &r.UpdatedAt,
		&r.GeneratedAt)
	if err != nil {
		return nil, err
	}
	if len(subIDs) > 0 {
		if err := json.Unmarshal(subIDs, &r.SubscriptionIDs); err != nil {
			return nil, fmt.Errorf("decode subscription ids: %w", err)
		}
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &r.Stats); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
	}
	return &r, nil
}

// ReportWindow computes the [start, end) period for a report kind ending
// at ref.
func ReportWindow(kind models.ReportKind, ref time.Time) (time.Time, time.Time) {
	end := ref.UTC()
	switch kind {
	case models.ReportWeekly:
		return end.AddDate(0, 0, -7), end
	case models.ReportMonthly:
		return end.AddDate(0, -1, 0), end
	default:
		return end.AddDate(0, 0, -1), end
	}
}
