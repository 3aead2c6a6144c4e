// Package worker holds the handlers behind the background job types: the
// fan-out builder, the delivery dispatcher, and the confirmation email
// sender. Handlers work against the database directly; the queue package
// owns claiming, retries, and backoff.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/pkg/distlock"
	"github.com/maildrip/maildrip/internal/pkg/logger"
	"github.com/maildrip/maildrip/internal/queue"
)

// LockFactory builds a distributed lock for a key. Production wiring uses
// distlock.NewLock over Redis or PG advisory locks; tests substitute fakes.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// FanoutHandler materializes delivery records for a message and enqueues
// one delivery.send job per record. Safe to rerun: record inserts are
// ON CONFLICT DO NOTHING and re-enqueued delivery jobs no-op against the
// conditional claim in the dispatcher.
type FanoutHandler struct {
	db      *sql.DB
	queue   *queue.Queue
	lockFor LockFactory
}

// NewFanoutHandler creates the message.fanout handler.
func NewFanoutHandler(db *sql.DB, q *queue.Queue, lockFor LockFactory) *FanoutHandler {
	return &FanoutHandler{db: db, queue: q, lockFor: lockFor}
}

// Handle processes one message.fanout job.
func (h *FanoutHandler) Handle(ctx context.Context, job queue.Job) error {
	var payload domain.FanoutJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode fanout payload: %w", err)
	}
	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return fmt.Errorf("fanout payload message_id: %w", err)
	}

	// The SKIP LOCKED claim already serializes jobs, so the lock is a belt
	// against operators re-enqueueing a fanout by hand while one is running.
	lockKey := "fanout:" + messageID.String()
	lock := h.lockFor(lockKey, 5*time.Minute)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return queue.Retryable(fmt.Errorf("acquire %s: %w", lockKey, err))
	}
	if !acquired {
		return queue.Retryable(fmt.Errorf("fanout for message %s already running", messageID))
	}
	defer lock.Release(context.WithoutCancel(ctx))

	return h.fanout(ctx, messageID)
}

func (h *FanoutHandler) fanout(ctx context.Context, messageID uuid.UUID) error {
	// Mark the message started. Zero rows means either the message is gone
	// (permanent failure) or a previous attempt already started it (carry on
	// and finish materializing).
	res, err := h.db.ExecContext(ctx, `
		UPDATE messages SET started_at = NOW() WHERE id = $1 AND started_at IS NULL
	`, messageID)
	if err != nil {
		return queue.Retryable(fmt.Errorf("mark message started: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := h.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, messageID,
		).Scan(&exists); err != nil {
			return queue.Retryable(fmt.Errorf("check message exists: %w", err))
		}
		if !exists {
			return fmt.Errorf("message %s not found", messageID)
		}
	}

	// One record per confirmed subscriber of the message's list. The unique
	// constraint on (message_id, subscriber_id) makes reruns exactly-once.
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO delivery_records (id, message_id, subscriber_id, status, attempts, created_at)
		SELECT gen_random_uuid(), m.id, s.id, 'queued', 0, NOW()
		FROM messages m
		JOIN subscribers s ON s.list_id = m.list_id AND s.confirmed = true
		WHERE m.id = $1
		ON CONFLICT (message_id, subscriber_id) DO NOTHING
	`, messageID)
	if err != nil {
		return queue.Retryable(fmt.Errorf("materialize delivery records: %w", err))
	}

	// Enqueue a send job for every record still waiting. On a rerun this
	// re-enqueues records whose first job was lost; duplicates are harmless
	// because dispatch claims conditionally.
	rows, err := h.db.QueryContext(ctx, `
		SELECT id FROM delivery_records WHERE message_id = $1 AND status = 'queued'
	`, messageID)
	if err != nil {
		return queue.Retryable(fmt.Errorf("list queued records: %w", err))
	}
	defer rows.Close()

	var recordIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return queue.Retryable(fmt.Errorf("scan record id: %w", err))
		}
		recordIDs = append(recordIDs, id)
	}
	if err := rows.Err(); err != nil {
		return queue.Retryable(err)
	}

	for _, id := range recordIDs {
		_, err := h.queue.Enqueue(ctx, domain.JobTypeDeliverySend, domain.DeliveryJobPayload{
			DeliveryID: id.String(),
			MessageID:  messageID.String(),
		})
		if err != nil {
			// Retry the whole fanout; already-enqueued records just produce
			// harmless duplicate jobs.
			return queue.Retryable(fmt.Errorf("enqueue delivery %s: %w", id, err))
		}
	}

	if len(recordIDs) == 0 {
		// Nothing outstanding. Either the list had no confirmed subscribers
		// or every record already reached a terminal state.
		if err := sweepMessageCompletion(ctx, h.db, messageID); err != nil {
			return queue.Retryable(err)
		}
	}

	logger.Info("fanout complete", "message_id", messageID.String(), "deliveries_enqueued", len(recordIDs))
	return nil
}

// sweepMessageCompletion sets finished_at on the message once no
// non-terminal delivery records remain. Conditional on finished_at IS NULL
// so concurrent sweeps are idempotent.
func sweepMessageCompletion(ctx context.Context, db *sql.DB, messageID uuid.UUID) error {
	res, err := db.ExecContext(ctx, `
		UPDATE messages
		SET finished_at = NOW()
		WHERE id = $1
		  AND started_at IS NOT NULL
		  AND finished_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM delivery_records
			WHERE message_id = $1 AND status IN ('queued', 'sending')
		  )
	`, messageID)
	if err != nil {
		return fmt.Errorf("completion sweep for message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Info("message finished", "message_id", messageID.String())
	}
	return nil
}
