package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/mailer"
	"github.com/maildrip/maildrip/internal/pkg/distlock"
	"github.com/maildrip/maildrip/internal/queue"
)

type fakeLock struct {
	acquired bool
	released bool
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) { return f.acquired, nil }
func (f *fakeLock) Release(ctx context.Context) error         { f.released = true; return nil }

func alwaysLock(l *fakeLock) LockFactory {
	return func(key string, ttl time.Duration) distlock.DistLock { return l }
}

func mustPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFanoutMissingMessageIsPermanent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	messageID := uuid.New()
	mock.ExpectExec("UPDATE messages SET started_at").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(messageID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	lock := &fakeLock{acquired: true}
	h := NewFanoutHandler(db, queue.New(db), alwaysLock(lock))

	err = h.Handle(context.Background(), queue.Job{
		ID:      uuid.New(),
		Type:    domain.JobTypeFanout,
		Payload: mustPayload(t, domain.FanoutJobPayload{MessageID: messageID.String()}),
	})
	if err == nil {
		t.Fatal("expected error for missing message")
	}
	if queue.IsRetryable(err) {
		t.Fatalf("missing message should be permanent, got retryable: %v", err)
	}
	if !lock.released {
		t.Error("lock should be released")
	}
}

func TestFanoutLockContentionIsRetryable(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	h := NewFanoutHandler(db, queue.New(db), alwaysLock(&fakeLock{acquired: false}))
	err = h.Handle(context.Background(), queue.Job{
		ID:      uuid.New(),
		Type:    domain.JobTypeFanout,
		Payload: mustPayload(t, domain.FanoutJobPayload{MessageID: uuid.New().String()}),
	})
	if !queue.IsRetryable(err) {
		t.Fatalf("lock contention should be retryable, got %v", err)
	}
}

func TestFanoutEnqueuesPerQueuedRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	messageID := uuid.New()
	rec1, rec2 := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE messages SET started_at").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO delivery_records").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT id FROM delivery_records").
		WithArgs(messageID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(rec1.String()).
			AddRow(rec2.String()))
	// one jobs insert per record
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := NewFanoutHandler(db, queue.New(db), alwaysLock(&fakeLock{acquired: true}))
	err = h.Handle(context.Background(), queue.Job{
		ID:      uuid.New(),
		Type:    domain.JobTypeFanout,
		Payload: mustPayload(t, domain.FanoutJobPayload{MessageID: messageID.String()}),
	})
	if err != nil {
		t.Fatalf("fanout: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFanoutZeroSubscribersFinishesMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	messageID := uuid.New()
	mock.ExpectExec("UPDATE messages SET started_at").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO delivery_records").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM delivery_records").
		WithArgs(messageID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("UPDATE messages").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := NewFanoutHandler(db, queue.New(db), alwaysLock(&fakeLock{acquired: true}))
	err = h.Handle(context.Background(), queue.Job{
		ID:      uuid.New(),
		Type:    domain.JobTypeFanout,
		Payload: mustPayload(t, domain.FanoutJobPayload{MessageID: messageID.String()}),
	})
	if err != nil {
		t.Fatalf("fanout: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func deliveryJob(t *testing.T, deliveryID, messageID uuid.UUID, attempts int) queue.Job {
	t.Helper()
	return queue.Job{
		ID:       uuid.New(),
		Type:     domain.JobTypeDeliverySend,
		Attempts: attempts,
		Payload: mustPayload(t, domain.DeliveryJobPayload{
			DeliveryID: deliveryID.String(),
			MessageID:  messageID.String(),
		}),
	}
}

func TestDispatchSuccessMarksSentAndSweeps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deliveryID, messageID := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE delivery_records SET status = 'sending'").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT s.email, m.subject, m.body, d.attempts").
		WithArgs(deliveryID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "subject", "body", "attempts"}).
			AddRow("dana@example.org", "News", "<p>hi</p>", 0))
	mock.ExpectExec("UPDATE delivery_records").
		WithArgs(deliveryID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE messages").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	var sentTo string
	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		sentTo = to
		return nil
	})

	h := NewDispatchHandler(db, sender, 5, time.Second)
	if err := h.Handle(context.Background(), deliveryJob(t, deliveryID, messageID, 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sentTo != "dana@example.org" {
		t.Errorf("sent to %q", sentTo)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDispatchRecordGoneCompletesJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deliveryID, messageID := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE delivery_records SET status = 'sending'").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE messages").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		t.Fatal("should not send when the record is gone")
		return nil
	})

	h := NewDispatchHandler(db, sender, 5, time.Second)
	if err := h.Handle(context.Background(), deliveryJob(t, deliveryID, messageID, 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDispatchTransientFailureReschedules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deliveryID, messageID := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE delivery_records SET status = 'sending'").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT s.email, m.subject, m.body, d.attempts").
		WithArgs(deliveryID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "subject", "body", "attempts"}).
			AddRow("dana@example.org", "News", "<p>hi</p>", 0))
	// released back to queued with attempts=1
	mock.ExpectExec("UPDATE delivery_records").
		WithArgs(deliveryID, 1, "connection reset").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		return errors.New("connection reset")
	})

	h := NewDispatchHandler(db, sender, 5, time.Second)
	err = h.Handle(context.Background(), deliveryJob(t, deliveryID, messageID, 1))
	if !queue.IsRetryable(err) {
		t.Fatalf("transient failure should be retryable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDispatchPermanentFailureMarksFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deliveryID, messageID := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE delivery_records SET status = 'sending'").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT s.email, m.subject, m.body, d.attempts").
		WithArgs(deliveryID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "subject", "body", "attempts"}).
			AddRow("bad@example.org", "News", "<p>hi</p>", 0))
	mock.ExpectExec("UPDATE delivery_records").
		WithArgs(deliveryID, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE messages").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		return mailer.Permanent(errors.New("mailbox does not exist"))
	})

	h := NewDispatchHandler(db, sender, 5, time.Second)
	// terminal record, completed job
	if err := h.Handle(context.Background(), deliveryJob(t, deliveryID, messageID, 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDispatchExhaustedBudgetMarksFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deliveryID, messageID := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE delivery_records SET status = 'sending'").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT s.email, m.subject, m.body, d.attempts").
		WithArgs(deliveryID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "subject", "body", "attempts"}).
			AddRow("dana@example.org", "News", "<p>hi</p>", 2)) // attempt 3 of 3
	mock.ExpectExec("UPDATE delivery_records").
		WithArgs(deliveryID, 3, "connection reset").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE messages").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		return errors.New("connection reset")
	})

	h := NewDispatchHandler(db, sender, 3, time.Second)
	if err := h.Handle(context.Background(), deliveryJob(t, deliveryID, messageID, 3)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeliveryRecoveryRequeuesStaleSendingRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deliveryID, messageID := uuid.New(), uuid.New()

	// A worker crashed mid-send: the record holds an expired 'sending'
	// lease. A redelivered job cannot claim it, so the job completes as a
	// no-op while the record stays non-terminal.
	mock.ExpectExec("UPDATE delivery_records SET status = 'sending'").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE messages").
		WithArgs(messageID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		t.Fatal("should not send without the lease")
		return nil
	})
	h := NewDispatchHandler(db, sender, 5, time.Second)
	if err := h.Handle(context.Background(), deliveryJob(t, deliveryID, messageID, 2)); err != nil {
		t.Fatalf("redelivered job should complete: %v", err)
	}

	// The sweeper breaks the expired lease and enqueues a fresh send job,
	// so the record is retried instead of staying 'sending' forever.
	mock.ExpectQuery("UPDATE delivery_records").
		WithArgs("10m0s").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id"}).
			AddRow(deliveryID.String(), messageID.String()))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT d.id, d.message_id").
		WithArgs("10m0s").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id"}))

	r := NewDeliveryRecoveryWorker(db, queue.New(db), time.Minute, 10*time.Minute)
	r.sweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeliveryRecoveryReissuesOrphanedQueuedRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deliveryID, messageID := uuid.New(), uuid.New()

	// No stale leases.
	mock.ExpectQuery("UPDATE delivery_records").
		WithArgs("10m0s").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id"}))
	// One runnable record whose job dead-lettered: it gets a new job.
	mock.ExpectQuery("SELECT d.id, d.message_id").
		WithArgs("10m0s").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id"}).
			AddRow(deliveryID.String(), messageID.String()))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewDeliveryRecoveryWorker(db, queue.New(db), time.Minute, 10*time.Minute)
	r.sweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestConfirmationSubscriberGoneIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	subscriberID := uuid.New()
	mock.ExpectQuery("SELECT s.email, s.confirmed, l.name").
		WithArgs(subscriberID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "confirmed", "name"}))

	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		t.Fatal("should not send for a deleted subscriber")
		return nil
	})

	h := NewConfirmationHandler(db, sender, mailer.NewTemplateRenderer(), "https://lists.example.com/confirm", time.Second)
	err = h.Handle(context.Background(), queue.Job{
		ID:      uuid.New(),
		Type:    domain.JobTypeConfirmation,
		Payload: mustPayload(t, domain.ConfirmationJobPayload{SubscriberID: subscriberID.String()}),
	})
	if err != nil {
		t.Fatalf("want no-op, got %v", err)
	}
}

func TestConfirmationSendsRenderedEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	subscriberID := uuid.New()
	mock.ExpectQuery("SELECT s.email, s.confirmed, l.name").
		WithArgs(subscriberID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "confirmed", "name"}).
			AddRow("dana@example.org", false, "Weekly Digest"))

	var gotTo, gotSubject, gotHTML string
	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		gotTo, gotSubject, gotHTML = to, subject, htmlBody
		return nil
	})

	h := NewConfirmationHandler(db, sender, mailer.NewTemplateRenderer(), "https://lists.example.com/confirm", time.Second)
	err = h.Handle(context.Background(), queue.Job{
		ID:      uuid.New(),
		Type:    domain.JobTypeConfirmation,
		Payload: mustPayload(t, domain.ConfirmationJobPayload{SubscriberID: subscriberID.String()}),
	})
	if err != nil {
		t.Fatalf("confirmation: %v", err)
	}
	if gotTo != "dana@example.org" {
		t.Errorf("to = %q", gotTo)
	}
	if gotSubject != "Confirm your subscription to Weekly Digest" {
		t.Errorf("subject = %q", gotSubject)
	}
	wantURL := "https://lists.example.com/confirm/" + subscriberID.String()
	if !strings.Contains(gotHTML, wantURL) {
		t.Errorf("html body missing confirm url %q", wantURL)
	}
}

func TestConfirmationAlreadyConfirmedIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	subscriberID := uuid.New()
	mock.ExpectQuery("SELECT s.email, s.confirmed, l.name").
		WithArgs(subscriberID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "confirmed", "name"}).
			AddRow("dana@example.org", true, "Weekly Digest"))

	sender := mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		t.Fatal("should not send for an already-confirmed subscriber")
		return nil
	})

	h := NewConfirmationHandler(db, sender, mailer.NewTemplateRenderer(), "https://lists.example.com/confirm", time.Second)
	err = h.Handle(context.Background(), queue.Job{
		ID:      uuid.New(),
		Type:    domain.JobTypeConfirmation,
		Payload: mustPayload(t, domain.ConfirmationJobPayload{SubscriberID: subscriberID.String()}),
	})
	if err != nil {
		t.Fatalf("want no-op, got %v", err)
	}
}
