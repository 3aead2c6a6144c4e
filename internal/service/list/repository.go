package list

import (
	"context"

	"github.com/maildrip/maildrip/internal/domain"
)

// Repository defines the data access contract for mailing lists.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new list.
	Create(ctx context.Context, l *domain.MailingList) error

	// Get returns a single list. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.MailingList, error)

	// ListByOwner returns the owner's lists, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.MailingList, error)

	// Delete removes a list and, via cascade, its subscribers, messages,
	// and delivery records. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error
}
