package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/service/message"
)

// MessageRepo implements message.Repository against PostgreSQL.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, list_id, subject, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.ListID, m.Subject, m.Body, m.CreatedAt)
	if isPQCode(err, pqForeignKeyViolation) {
		return message.ErrListNotFound
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, list_id, subject, body, started_at, finished_at, created_at
		FROM messages
		WHERE id = $1
	`, id).Scan(&m.ID, &m.ListID, &m.Subject, &m.Body, &m.StartedAt, &m.FinishedAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, message.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListByList(ctx context.Context, listID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, list_id, subject, body, started_at, finished_at, created_at
		FROM messages
		WHERE list_id = $1
		ORDER BY created_at DESC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ListID, &m.Subject, &m.Body, &m.StartedAt, &m.FinishedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) Progress(ctx context.Context, id string) (*domain.MessageProgress, error) {
	p := &domain.MessageProgress{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status IN ('queued', 'sending'))
		FROM delivery_records
		WHERE message_id = $1
	`, id).Scan(&p.Total, &p.Sent, &p.Failed, &p.Pending)
	if err != nil {
		return nil, fmt.Errorf("message progress: %w", err)
	}
	return p, nil
}

// Deliveries returns per-subscriber outcomes. Non-terminal statuses
// collapse to 'pending'; callers never see the internal sending state.
func (r *MessageRepo) Deliveries(ctx context.Context, id string) ([]message.DeliveryView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.subscriber_id, s.email,
		       CASE WHEN d.status IN ('queued', 'sending') THEN 'pending' ELSE d.status END,
		       d.attempts, d.sent_at
		FROM delivery_records d
		JOIN subscribers s ON s.id = d.subscriber_id
		WHERE d.message_id = $1
		ORDER BY s.email ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("message deliveries: %w", err)
	}
	defer rows.Close()

	var out []message.DeliveryView
	for rows.Next() {
		var v message.DeliveryView
		if err := rows.Scan(&v.SubscriberID, &v.Email, &v.Status, &v.Attempts, &v.SentAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
