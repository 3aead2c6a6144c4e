package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/pkg/logger"
)

// Enqueuer is the slice of the queue the message service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) (uuid.UUID, error)
}

// Service implements message business logic.
type Service struct {
	repo  Repository
	queue Enqueuer
}

// NewService creates a message service.
func NewService(repo Repository, queue Enqueuer) *Service {
	return &Service{repo: repo, queue: queue}
}

// Create persists the message and enqueues its fan-out build job. If the
// enqueue fails the insert is rolled back and ErrQueueUnavailable is
// returned: a message must never exist without a build job behind it.
func (s *Service) Create(ctx context.Context, listID, subject, body string) (*domain.Message, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" || strings.TrimSpace(body) == "" {
		return nil, ErrInvalidInput
	}

	m := &domain.Message{
		ID:        uuid.New().String(),
		ListID:    listID,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	_, err := s.queue.Enqueue(ctx, domain.JobTypeFanout, domain.FanoutJobPayload{
		MessageID: m.ID,
	})
	if err != nil {
		if delErr := s.repo.Delete(ctx, m.ID); delErr != nil {
			// Orphaned message row: it has no fan-out job, so it will sit
			// unstarted until an operator re-enqueues or removes it.
			logger.Error("compensating delete failed",
				"message_id", m.ID, "error", delErr.Error())
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return m, nil
}

// Get returns a single message.
func (s *Service) Get(ctx context.Context, id string) (*domain.Message, error) {
	return s.repo.Get(ctx, id)
}

// ListByList returns all messages of a list.
func (s *Service) ListByList(ctx context.Context, listID string) ([]domain.Message, error) {
	return s.repo.ListByList(ctx, listID)
}

// Progress returns delivery counts for a message.
func (s *Service) Progress(ctx context.Context, id string) (*domain.MessageProgress, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Progress(ctx, id)
}

// Deliveries returns the per-subscriber delivery breakdown for a message.
func (s *Service) Deliveries(ctx context.Context, id string) ([]DeliveryView, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Deliveries(ctx, id)
}
