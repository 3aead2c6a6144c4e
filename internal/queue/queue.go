// Package queue is a durable Postgres-backed task queue. Jobs are rows in
// the jobs table; workers claim batches with FOR UPDATE SKIP LOCKED so any
// number of worker processes can share one database without double-running
// a job. Handlers decide the outcome: nil completes the job, a Retryable
// error reschedules it with exponential backoff, anything else fails it
// immediately.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable is returned by Enqueue when the job row could not be
// written. Callers that enqueue as part of a larger operation decide
// whether to compensate or to carry on.
var ErrUnavailable = errors.New("queue: unavailable")

// RetryPolicy controls rescheduling for one job type.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Delay returns the backoff before the next run after `attempts` completed
// attempts: base * 2^(attempts-1), capped.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BackoffBase) * math.Pow(2, float64(attempts-1))
	if d > float64(p.BackoffCap) {
		return p.BackoffCap
	}
	return time.Duration(d)
}

// DefaultRetryPolicy applies to job types without an explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BackoffBase: 30 * time.Second,
	BackoffCap:  15 * time.Minute,
}

// retryableError marks a handler failure as worth rescheduling.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so the worker pool reschedules the job with backoff
// instead of failing it outright.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err asks for a reschedule.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Queue enqueues jobs and is the handle services hold. The worker pool in
// this package consumes what Queue produces.
type Queue struct {
	db *sql.DB
}

// New creates a Queue on db.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a job of jobType with the given payload, runnable
// immediately. It returns the new job's id, or ErrUnavailable if the row
// could not be written.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}) (uuid.UUID, error) {
	return q.EnqueueAt(ctx, jobType, payload, time.Now())
}

// EnqueueAt inserts a job scheduled to run no earlier than runAt.
func (q *Queue) EnqueueAt(ctx context.Context, jobType string, payload interface{}, runAt time.Time) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload for %s: %w", jobType, err)
	}

	id := uuid.New()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, payload, status, attempts, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'queued', 0, $4, NOW(), NOW())
	`, id, jobType, string(body), runAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// EnqueueTx is Enqueue inside an existing transaction, so a job becomes
// visible only if the surrounding writes commit.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, jobType string, payload interface{}) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload for %s: %w", jobType, err)
	}

	id := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, payload, status, attempts, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'queued', 0, NOW(), NOW(), NOW())
	`, id, jobType, string(body))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Job is the claimed unit of work handed to a handler.
type Job struct {
	ID       uuid.UUID
	Type     string
	Payload  json.RawMessage
	Attempts int // includes the attempt currently running
}

// Handler processes one claimed job. Return nil to complete it, a
// Retryable error to reschedule it with backoff, any other error to fail
// it immediately.
type Handler func(ctx context.Context, job Job) error
