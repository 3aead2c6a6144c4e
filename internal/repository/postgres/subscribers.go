package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/service/subscription"
)

// SubscriberRepo implements subscription.Repository against PostgreSQL.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

func (r *SubscriberRepo) Create(ctx context.Context, sub *domain.Subscriber) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, list_id, email, confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.ListID, sub.Email, sub.Confirmed, sub.CreatedAt, sub.UpdatedAt)
	if isPQCode(err, pqUniqueViolation) {
		return subscription.ErrDuplicate
	}
	if isPQCode(err, pqForeignKeyViolation) {
		return subscription.ErrListNotFound
	}
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	return nil
}

func (r *SubscriberRepo) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	sub := &domain.Subscriber{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, list_id, email, confirmed, created_at, updated_at
		FROM subscribers
		WHERE id = $1
	`, id).Scan(&sub.ID, &sub.ListID, &sub.Email, &sub.Confirmed, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscription.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

func (r *SubscriberRepo) ListByList(ctx context.Context, listID string) ([]domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, list_id, email, confirmed, created_at, updated_at
		FROM subscribers
		WHERE list_id = $1
		ORDER BY created_at ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.ID, &sub.ListID, &sub.Email, &sub.Confirmed, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (r *SubscriberRepo) Confirm(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscribers SET confirmed = true, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("confirm subscriber: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (r *SubscriberRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM subscribers WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

// FinishCompletedMessages closes out every started message of the list
// whose delivery records have all reached a terminal state (or vanished
// with their subscribers).
func (r *SubscriberRepo) FinishCompletedMessages(ctx context.Context, listID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages m
		SET finished_at = NOW()
		WHERE m.list_id = $1
		  AND m.started_at IS NOT NULL
		  AND m.finished_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM delivery_records d
			WHERE d.message_id = m.id AND d.status IN ('queued', 'sending')
		  )
	`, listID)
	if err != nil {
		return 0, fmt.Errorf("finish completed messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
