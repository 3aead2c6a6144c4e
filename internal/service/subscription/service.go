package subscription

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/pkg/logger"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Enqueuer is the slice of the queue the subscription service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) (uuid.UUID, error)
}

// Service implements subscriber business logic.
type Service struct {
	repo  Repository
	queue Enqueuer
}

// NewService creates a subscription service.
func NewService(repo Repository, queue Enqueuer) *Service {
	return &Service{repo: repo, queue: queue}
}

// Subscribe adds email to the list unconfirmed and enqueues the
// confirmation email. A duplicate (list, email) pair returns ErrDuplicate.
// A queue failure is logged but does not fail the signup; the subscriber
// exists either way and an operator can re-trigger the confirmation.
func (s *Service) Subscribe(ctx context.Context, listID, email string) (*domain.Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRegex.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	now := time.Now().UTC()
	sub := &domain.Subscriber{
		ID:        uuid.New().String(),
		ListID:    listID,
		Email:     email,
		Confirmed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	_, err := s.queue.Enqueue(ctx, domain.JobTypeConfirmation, domain.ConfirmationJobPayload{
		SubscriberID: sub.ID,
	})
	if err != nil {
		logger.Error("enqueue confirmation failed",
			"subscriber_id", sub.ID,
			"list_id", listID,
			"error", err.Error())
	}
	return sub, nil
}

// Confirm marks the subscriber as confirmed. Idempotent: confirming an
// already-confirmed subscriber succeeds without side effects.
func (s *Service) Confirm(ctx context.Context, id string) error {
	return s.repo.Confirm(ctx, id)
}

// Get returns a single subscriber.
func (s *Service) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	return s.repo.Get(ctx, id)
}

// ListByList returns all subscribers of a list.
func (s *Service) ListByList(ctx context.Context, listID string) ([]domain.Subscriber, error) {
	return s.repo.ListByList(ctx, listID)
}

// Unsubscribe deletes the subscriber and its delivery records, then
// finishes any message of the list that was only waiting on those records.
// An in-flight delivery to this address may still go out; the record it
// would have updated is gone and the dispatcher treats that as a no-op.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	n, err := s.repo.FinishCompletedMessages(ctx, sub.ListID)
	if err != nil {
		// The subscriber is gone; the dispatcher's completion sweep will
		// also finish these messages on its next terminal transition.
		logger.Error("finish sweep after unsubscribe failed",
			"list_id", sub.ListID, "error", err.Error())
		return nil
	}
	if n > 0 {
		logger.Info("messages finished after unsubscribe", "list_id", sub.ListID, "count", n)
	}
	return nil
}
