package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BackoffBase: 10 * time.Second, BackoffCap: 60 * time.Second}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second}, // 80s capped
		{0, 10 * time.Second}, // clamped up to 1
	}
	for _, c := range cases {
		if got := p.Delay(c.attempts); got != c.want {
			t.Errorf("Delay(%d) = %s, want %s", c.attempts, got, c.want)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	base := errors.New("connection reset")
	if IsRetryable(base) {
		t.Fatal("plain error should not be retryable")
	}
	re := Retryable(base)
	if !IsRetryable(re) {
		t.Fatal("Retryable() result should classify as retryable")
	}
	if !errors.Is(re, base) {
		t.Fatal("Retryable should wrap the cause")
	}
	if Retryable(nil) != nil {
		t.Fatal("Retryable(nil) should be nil")
	}
}

func TestEnqueueInsertsJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), "message.fanout", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := New(db)
	id, err := q.Enqueue(context.Background(), "message.fanout", map[string]string{"message_id": "m1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected a job id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEnqueueReturnsErrUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(errors.New("connection refused"))

	q := New(db)
	_, err = q.Enqueue(context.Background(), "subscriber.confirmation", map[string]string{"subscriber_id": "s1"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestClaimBatchScansJobs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	jobID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "job_type", "payload", "attempts"}).
		AddRow(jobID.String(), "delivery.send", []byte(`{"delivery_id":"d1"}`), 1)

	mock.ExpectQuery("WITH claimed AS").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnRows(rows)

	p := NewWorkerPool(db, 1, 10, time.Second)
	p.Register("delivery.send", func(ctx context.Context, job Job) error { return nil }, DefaultRetryPolicy)

	jobs, err := p.claimBatch(context.Background())
	if err != nil {
		t.Fatalf("claimBatch: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("want 1 job, got %d", len(jobs))
	}
	if jobs[0].ID != jobID || jobs[0].Type != "delivery.send" || jobs[0].Attempts != 1 {
		t.Errorf("unexpected job: %+v", jobs[0])
	}
}

func TestRunJobCompletesOnNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	jobID := uuid.New()
	mock.ExpectExec("UPDATE jobs").
		WithArgs(jobID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewWorkerPool(db, 1, 10, time.Second)
	p.Register("message.fanout", func(ctx context.Context, job Job) error { return nil }, DefaultRetryPolicy)

	p.runJob(context.Background(), Job{ID: jobID, Type: "message.fanout", Attempts: 1})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if got := p.Stats()["completed"]; got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}

func TestRunJobReschedulesRetryable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	jobID := uuid.New()
	// attempt 2 of 5 with base 10s: delay 20s
	mock.ExpectExec("UPDATE jobs").
		WithArgs(jobID, 20, "smtp timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewWorkerPool(db, 1, 10, time.Second)
	p.Register("delivery.send", func(ctx context.Context, job Job) error {
		return Retryable(errors.New("smtp timeout"))
	}, RetryPolicy{MaxAttempts: 5, BackoffBase: 10 * time.Second, BackoffCap: time.Hour})

	p.runJob(context.Background(), Job{ID: jobID, Type: "delivery.send", Attempts: 2})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if got := p.Stats()["retried"]; got != 1 {
		t.Errorf("retried = %d, want 1", got)
	}
}

func TestRunJobDeadLettersAtAttemptLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	jobID := uuid.New()
	mock.ExpectExec("UPDATE jobs").
		WithArgs(jobID, "smtp timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewWorkerPool(db, 1, 10, time.Second)
	p.Register("delivery.send", func(ctx context.Context, job Job) error {
		return Retryable(errors.New("smtp timeout"))
	}, RetryPolicy{MaxAttempts: 3, BackoffBase: 10 * time.Second, BackoffCap: time.Hour})

	p.runJob(context.Background(), Job{ID: jobID, Type: "delivery.send", Attempts: 3})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if got := p.Stats()["failed"]; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestRunJobFailsOnPermanentError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	jobID := uuid.New()
	mock.ExpectExec("UPDATE jobs").
		WithArgs(jobID, "bad payload").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewWorkerPool(db, 1, 10, time.Second)
	p.Register("message.fanout", func(ctx context.Context, job Job) error {
		return errors.New("bad payload")
	}, DefaultRetryPolicy)

	p.runJob(context.Background(), Job{ID: jobID, Type: "message.fanout", Attempts: 1})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if got := p.Stats()["failed"]; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestRecoverySweepRequeuesAndDeadLetters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("5m0s", 5).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE jobs").
		WithArgs("5m0s", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewRecoveryWorker(db, time.Minute, 5*time.Minute, 5)
	r.sweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
