// Package postgres holds the PostgreSQL implementations of the service
// repositories.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/service/list"
)

// Postgres error codes we map to service sentinels.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// ListRepo implements list.Repository against PostgreSQL.
type ListRepo struct{ db *sql.DB }

// NewListRepo creates a Postgres-backed mailing list repository.
func NewListRepo(db *sql.DB) *ListRepo { return &ListRepo{db: db} }

func (r *ListRepo) Create(ctx context.Context, l *domain.MailingList) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_lists (id, name, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, l.ID, l.Name, l.OwnerID, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

func (r *ListRepo) Get(ctx context.Context, id string) (*domain.MailingList, error) {
	l := &domain.MailingList{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM mailing_lists
		WHERE id = $1
	`, id).Scan(&l.ID, &l.Name, &l.OwnerID, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, list.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// Delete relies on the schema's ON DELETE CASCADE to take subscribers,
// messages, and delivery records down with the list.
func (r *ListRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM mailing_lists WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return list.ErrNotFound
	}
	return nil
}

func (r *ListRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.MailingList, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM mailing_lists
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	defer rows.Close()

	var out []domain.MailingList
	for rows.Next() {
		var l domain.MailingList
		if err := rows.Scan(&l.ID, &l.Name, &l.OwnerID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
