package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"autoflow.app/relay/core/db"
	"autoflow.app/relay/internal/model"
)

const subscriptionColumns = `id, credential_id, owner_id, workflow_id, last_cursor, scope_labels, expires_at, created_at, updated_at`

type changeSubscriptionStore struct {
	q db.DBTX
}

func newChangeSubscriptionStore(q db.DBTX) ChangeSubscriptionStore {
	return &changeSubscriptionStore{q: q}
}

func (s *changeSubscriptionStore) GetForUpdate(ctx context.Context, id int64) (*model.ChangeSubscription, error) {
	sub, err := scanSubscription(s.q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM change_subscriptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *changeSubscriptionStore) ListActive(ctx context.Context, now time.Time) ([]model.ChangeSubscription, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM change_subscriptions
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *changeSubscriptionStore) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]model.ChangeSubscription, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM change_subscriptions
		WHERE expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at`, from, to)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *changeSubscriptionStore) UpdateCursor(ctx context.Context, id int64, cursor string) error {
	tag, err := s.q.Exec(ctx, `UPDATE change_subscriptions SET last_cursor = $2, updated_at = now() WHERE id = $1`, id, cursor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *changeSubscriptionStore) UpdateExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE change_subscriptions SET expires_at = $2, updated_at = now() WHERE id = $1`, id, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectSubscriptions(rows pgx.Rows) ([]model.ChangeSubscription, error) {
	defer rows.Close()
	var result []model.ChangeSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sub)
	}
	return result, rows.Err()
}

func scanSubscription(row pgx.Row) (*model.ChangeSubscription, error) {
	var (
		sub       model.ChangeSubscription
		expiresAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&sub.ID,
		&sub.CredentialID,
		&sub.OwnerID,
		&sub.WorkflowID,
		&sub.LastCursor,
		&sub.ScopeLabels,
		&expiresAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		sub.ExpiresAt = &t
	}
	return &sub, nil
}
