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

const subscriptionColumns = `id, owner_user_id, repository, status, frequency,
	monitor_types, filters, delivery, description, url, language, stars, forks,
	topics, last_sync_at, created_at, updated_at`

// CreateSubscription inserts a new subscription. A second subscription
// for the same user and repository returns ErrAlreadyExists.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if err := models.ValidateRepoRef(sub.Repo); err != nil {
		return nil, err
	}
	watches, filters, delivery, topics, err := encodeSubscriptionJSON(sub)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (owner_user_id, repository, status, frequency,
			monitor_types, filters, delivery, description, url, language,
			stars, forks, topics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+subscriptionColumns,
		sub.OwnerUserID, sub.Repo, sub.Status, sub.Cadence,
		watches, filters, delivery, sub.Description, sub.URL, sub.Language,
		sub.Stars, sub.Forks, topics)

	created, err := scanSubscription(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("subscription to %s: %w", sub.Repo, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return created, nil
}

// GetSubscription fetches a subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id int64) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns subscriptions, optionally narrowed to one
// owner and/or status.
func (s *Store) ListSubscriptions(ctx context.Context, ownerID int64, status models.SubscriptionStatus) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE 1=1`
	var args []any
	if ownerID > 0 {
		args = append(args, ownerID)
		query += fmt.Sprintf(` AND owner_user_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListActiveSubscriptions returns all subscriptions eligible for collection.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	return s.ListSubscriptions(ctx, 0, models.SubscriptionActive)
}

// ListActiveSubscriptionsByCadence narrows the active set to one report cadence.
func (s *Store) ListActiveSubscriptionsByCadence(ctx context.Context, cadence models.Cadence) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND frequency = $2 ORDER BY id`,
		models.SubscriptionActive, cadence)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by cadence: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// UpdateSubscription persists mutable fields of an existing subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	watches, filters, delivery, topics, err := encodeSubscriptionJSON(sub)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET status = $2, frequency = $3, monitor_types = $4, filters = $5,
		    delivery = $6, description = $7, url = $8, language = $9,
		    stars = $10, forks = $11, topics = $12, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		sub.ID, sub.Status, sub.Cadence, watches, filters, delivery,
		sub.Description, sub.URL, sub.Language, sub.Stars, sub.Forks, topics)

	updated, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription %d: %w", sub.ID, ErrNotFound)
		}
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return updated, nil
}

// DeleteSubscription removes a subscription; its activities cascade.
func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// AdvanceLastSync monotonically moves the subscription's watermark
// forward. A ts earlier than the current watermark is a no-op.
func (s *Store) AdvanceLastSync(ctx context.Context, id int64, ts time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_sync_at = GREATEST(coalesce(last_sync_at, 'epoch'::timestamptz), $2),
		    updated_at = now()
		WHERE id = $1`,
		id, ts.UTC())
	if err != nil {
		return fmt.Errorf("advance last sync: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance last sync: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

func encodeSubscriptionJSON(sub *models.Subscription) (watches, filters, delivery, topics any, err error) {
	if watches, err = json.Marshal(sub.Watches); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode monitor types: %w", err)
	}
	if filters, err = json.Marshal(sub.Filters); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode filters: %w", err)
	}
	if delivery, err = json.Marshal(sub.Delivery); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode delivery: %w", err)
	}
	if topics, err = marshalNullable(sub.Topics); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode topics: %w", err)
	}
	return watches, filters, delivery, topics, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub     models.Subscription
		watches []byte
		filters []byte
		deliv   []byte
		topics  []byte
	)
	err := row.Scan(&sub.ID, &sub.OwnerUserID, &sub.Repo, &sub.Status,
		&sub.Cadence, &watches, &filters, &deliv, &sub.Description, &sub.URL,
		&sub.Language, &sub.Stars, &sub.Forks, &topics, &sub.LastSyncAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(watches, &sub.Watches); err != nil {
		return nil, fmt.Errorf("decode monitor types: %w", err)
	}
	if err := json.Unmarshal(filters, &sub.Filters); err != nil {
		return nil, fmt.Errorf("decode filters: %w", err)
	}
	if err := json.Unmarshal(deliv, &sub.Delivery); err != nil {
		return nil, fmt.Errorf("decode delivery: %w", err)
	}
	if len(topics) > 0 {
		if err := json.Unmarshal(topics, &sub.Topics); err != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
	}
	return &sub, nil
}
