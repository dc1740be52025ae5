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

const activityColumns = `id, subscription_id, kind, external_id, title, body,
	url, author_login, author_name, author_avatar_url, labels, state, extras,
	source_created_at, source_updated_at, ingested_at`

// UpsertActivity inserts the candidate or, when the
// (subscription_id, kind, external_id) triple already exists, updates its
// mutable fields in place. Returns whether a new row was inserted.
// Concurrent upserts of the same triple converge to a single row through
// the unique constraint.
func (s *Store) UpsertActivity(ctx context.Context, a *models.Activity) (*models.Activity, bool, error) {
	labels, err := marshalNullable(a.Labels)
	if err != nil {
		return nil, false, fmt.Errorf("encode labels: %w", err)
	}
	extras, err := marshalNullable(a.Extras)
	if err != nil {
		return nil, false, fmt.Errorf("encode extras: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO activities (subscription_id, kind, external_id, title,
			body, url, author_login, author_name, author_avatar_url, labels,
			state, extras, source_created_at, source_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (subscription_id, kind, external_id) DO UPDATE
		SET title = EXCLUDED.title,
		    body = EXCLUDED.body,
		    labels = EXCLUDED.labels,
		    state = EXCLUDED.state,
		    extras = EXCLUDED.extras,
		    source_updated_at = EXCLUDED.source_updated_at
		RETURNING `+activityColumns+`, (xmax = 0) AS inserted`,
		a.SubscriptionID, a.Kind, a.ExternalID, a.Title, a.Body, a.URL,
		a.Author.Login, a.Author.Name, a.Author.AvatarURL, labels, a.State,
		extras, nullableTime(a.SourceCreatedAt), nullableTime(a.SourceUpdatedAt))

	var inserted bool
	stored, err := scanActivity(row, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("upsert activity: %w", err)
	}
	return stored, inserted, nil
}

// GetActivity fetches an activity by id.
func (s *Store) GetActivity(ctx context.Context, id int64) (*models.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1`, id)
	a, err := scanActivity(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("activity %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

// ListActivities returns activities for a subscription, newest first.
func (s *Store) ListActivities(ctx context.Context, subscriptionID int64, params models.ActivityListParams) ([]models.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE subscription_id = $1`
	args := []any{subscriptionID}
	if params.Kind != "" {
		args = append(args, params.Kind)
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	if params.Since != nil {
		args = append(args, params.Since.UTC())
		query += fmt.Sprintf(` AND source_created_at >= $%d`, len(args))
	}
	if params.Until != nil {
		args = append(args, params.Until.UTC())
		query += fmt.Sprintf(` AND source_created_at < $%d`, len(args))
	}
	query += ` ORDER BY source_created_at DESC NULLS LAST, id DESC`

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		a, err := scanActivity(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

// CountActivitiesByKind aggregates activity counts per kind for a set of
// subscriptions within a window.
func (s *Store) CountActivitiesByKind(ctx context.Context, subscriptionIDs []int64, from, to time.Time) (map[models.ActivityKind]int, error) {
	ids, err := json.Marshal(subscriptionIDs)
	if err != nil {
		return nil, fmt.Errorf("encode subscription ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, count(*)
		FROM activities
		WHERE subscription_id IN (SELECT value::bigint FROM jsonb_array_elements_text($1::jsonb))
		  AND source_created_at >= $2 AND source_created_at < $3
		GROUP BY kind`,
		ids, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("count activities: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ActivityKind]int)
	for rows.Next() {
		var (
			kind models.ActivityKind
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan activity count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// PruneActivities deletes activities older than the cutoff. Returns the
// number of rows removed.
func (s *Store) PruneActivities(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activities WHERE ingested_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune activities: %w", err)
	}
	return res.RowsAffected()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return utc
}

func scanActivity(row rowScanner, inserted *bool) (*models.Activity, error) {
	var (
		a      models.Activity
		labels []byte
		extras []byte
	)
	dest := []any{&a.ID, &a.SubscriptionID, &a.Kind, &a.ExternalID, &a.Title,
		&a.Body, &a.URL, &a.Author.Login, &a.Author.Name, &a.Author.AvatarURL,
		&labels, &a.State, &extras, &a.SourceCreatedAt, &a.SourceUpdatedAt,
		&a.IngestedAt}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &a.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
	}
	a.Extras = extras
	return &a, nil
}
