package subscription

import (
	"context"

	"github.com/maildrip/maildrip/internal/domain"
)

// Repository defines the data access contract for subscribers.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new subscriber. Returns ErrDuplicate if the
	// (list, email) pair already exists, ErrListNotFound if the list is gone.
	Create(ctx context.Context, sub *domain.Subscriber) error

	// Get returns a single subscriber. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Subscriber, error)

	// ListByList returns a list's subscribers ordered by creation time.
	ListByList(ctx context.Context, listID string) ([]domain.Subscriber, error)

	// Confirm sets confirmed=true. Idempotent; returns ErrNotFound only if
	// the subscriber doesn't exist at all.
	Confirm(ctx context.Context, id string) error

	// Delete removes a subscriber; delivery records go with it via cascade.
	// Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// FinishCompletedMessages sets finished on every started message of the
	// list that has no non-terminal delivery records left. Returns the
	// number of messages finished. Called after an unsubscribe removes what
	// may have been a message's last pending record.
	FinishCompletedMessages(ctx context.Context, listID string) (int, error)
}
