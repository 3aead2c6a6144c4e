package message

import (
	"context"
	"time"

	"github.com/maildrip/maildrip/internal/domain"
)

// DeliveryView is one delivery record joined with its subscriber, with the
// record status collapsed to the externally visible pending|sent|failed.
type DeliveryView struct {
	SubscriberID string     `json:"subscriber_id"`
	Email        string     `json:"email"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// Repository defines the data access contract for messages.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new message. Returns ErrListNotFound if the list is
	// gone.
	Create(ctx context.Context, m *domain.Message) error

	// Delete removes a message. Used only to compensate a failed enqueue
	// during Create.
	Delete(ctx context.Context, id string) error

	// Get returns a single message. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Message, error)

	// ListByList returns a list's messages, newest first.
	ListByList(ctx context.Context, listID string) ([]domain.Message, error)

	// Progress returns delivery counts for a message.
	Progress(ctx context.Context, id string) (*domain.MessageProgress, error)

	// Deliveries returns the per-subscriber delivery breakdown.
	Deliveries(ctx context.Context, id string) ([]DeliveryView, error)
}
