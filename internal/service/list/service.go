package list

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maildrip/maildrip/internal/domain"
)

// Service implements mailing-list business logic.
type Service struct {
	repo Repository
}

// NewService creates a list service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and persists a new mailing list for ownerID.
func (s *Service) Create(ctx context.Context, ownerID, name string) (*domain.MailingList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	now := time.Now().UTC()
	l := &domain.MailingList{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns a single list.
func (s *Service) Get(ctx context.Context, id string) (*domain.MailingList, error) {
	return s.repo.Get(ctx, id)
}

// Delete removes a list along with everything hanging off it: subscribers,
// messages, and delivery records all cascade.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// ListByOwner returns all lists belonging to ownerID.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.MailingList, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}
