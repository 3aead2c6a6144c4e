package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/service/subscription"
)

// memRepo is an in-memory subscriber repository for unit testing.
type memRepo struct {
	mu       sync.Mutex
	subs     map[string]*domain.Subscriber // keyed by id
	finished int                           // FinishCompletedMessages return value
}

func newMemRepo() *memRepo {
	return &memRepo{subs: make(map[string]*domain.Subscriber)}
}

func (m *memRepo) Create(_ context.Context, sub *domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subs {
		if existing.ListID == sub.ListID && existing.Email == sub.Email {
			return subscription.ErrDuplicate
		}
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memRepo) ListByList(_ context.Context, listID string) ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscriber
	for _, sub := range m.subs {
		if sub.ListID == listID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *memRepo) Confirm(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return subscription.ErrNotFound
	}
	sub.Confirmed = true
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return subscription.ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *memRepo) FinishCompletedMessages(_ context.Context, listID string) (int, error) {
	return m.finished, nil
}

// fakeQueue records enqueued jobs and can be told to fail.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []string // job types in enqueue order
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, jobType string, _ interface{}) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.jobs = append(f.jobs, jobType)
	return uuid.New(), nil
}

func TestSubscribeCreatesUnconfirmedAndEnqueues(t *testing.T) {
	repo := newMemRepo()
	q := &fakeQueue{}
	svc := subscription.NewService(repo, q)

	sub, err := svc.Subscribe(context.Background(), "list-1", "  Dana@Example.ORG ")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.Email != "dana@example.org" {
		t.Errorf("email not normalized: %q", sub.Email)
	}
	if sub.Confirmed {
		t.Error("new subscriber should be unconfirmed")
	}
	if len(q.jobs) != 1 || q.jobs[0] != domain.JobTypeConfirmation {
		t.Errorf("jobs = %v, want one confirmation", q.jobs)
	}
}

func TestSubscribeRejectsInvalidEmail(t *testing.T) {
	svc := subscription.NewService(newMemRepo(), &fakeQueue{})

	for _, email := range []string{"", "not-an-email", "a@b", "dana@", "@example.org"} {
		_, err := svc.Subscribe(context.Background(), "list-1", email)
		if !errors.Is(err, subscription.ErrInvalidEmail) {
			t.Errorf("Subscribe(%q) = %v, want ErrInvalidEmail", email, err)
		}
	}
}

func TestSubscribeDuplicatePair(t *testing.T) {
	repo := newMemRepo()
	svc := subscription.NewService(repo, &fakeQueue{})

	if _, err := svc.Subscribe(context.Background(), "list-1", "dana@example.org"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	_, err := svc.Subscribe(context.Background(), "list-1", "DANA@example.org")
	if !errors.Is(err, subscription.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}

	// Same address on a different list is fine.
	if _, err := svc.Subscribe(context.Background(), "list-2", "dana@example.org"); err != nil {
		t.Fatalf("cross-list subscribe: %v", err)
	}
}

func TestSubscribeSurvivesQueueOutage(t *testing.T) {
	repo := newMemRepo()
	q := &fakeQueue{err: errors.New("queue down")}
	svc := subscription.NewService(repo, q)

	sub, err := svc.Subscribe(context.Background(), "list-1", "dana@example.org")
	if err != nil {
		t.Fatalf("subscribe should survive a queue outage, got %v", err)
	}
	if _, err := repo.Get(context.Background(), sub.ID); err != nil {
		t.Fatalf("subscriber should exist despite queue outage: %v", err)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := subscription.NewService(repo, &fakeQueue{})

	sub, err := svc.Subscribe(context.Background(), "list-1", "dana@example.org")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.Confirm(context.Background(), sub.ID); err != nil {
			t.Fatalf("confirm #%d: %v", i+1, err)
		}
	}
	got, _ := repo.Get(context.Background(), sub.ID)
	if !got.Confirmed {
		t.Error("subscriber should be confirmed")
	}

	if err := svc.Confirm(context.Background(), "missing"); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("confirm missing = %v, want ErrNotFound", err)
	}
}

func TestUnsubscribeDeletesAndSweeps(t *testing.T) {
	repo := newMemRepo()
	repo.finished = 1
	svc := subscription.NewService(repo, &fakeQueue{})

	sub, err := svc.Subscribe(context.Background(), "list-1", "dana@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Unsubscribe(context.Background(), sub.ID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, err := repo.Get(context.Background(), sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Error("subscriber should be deleted")
	}

	if err := svc.Unsubscribe(context.Background(), sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("second unsubscribe = %v, want ErrNotFound", err)
	}
}
