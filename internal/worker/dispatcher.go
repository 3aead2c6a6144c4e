package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/mailer"
	"github.com/maildrip/maildrip/internal/pkg/logger"
	"github.com/maildrip/maildrip/internal/queue"
)

// DispatchHandler sends one delivery record's email. The conditional
// queued->sending UPDATE is the per-record lease: duplicate delivery.send
// jobs for the same record fall through it and complete as no-ops.
type DispatchHandler struct {
	db          *sql.DB
	sender      mailer.Sender
	maxAttempts int
	sendTimeout time.Duration
}

// NewDispatchHandler creates the delivery.send handler. maxAttempts bounds
// per-record send attempts; sendTimeout bounds a single send call.
func NewDispatchHandler(db *sql.DB, sender mailer.Sender, maxAttempts int, sendTimeout time.Duration) *DispatchHandler {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &DispatchHandler{
		db:          db,
		sender:      sender,
		maxAttempts: maxAttempts,
		sendTimeout: sendTimeout,
	}
}

// Handle processes one delivery.send job.
func (h *DispatchHandler) Handle(ctx context.Context, job queue.Job) error {
	var payload domain.DeliveryJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode delivery payload: %w", err)
	}
	deliveryID, err := uuid.Parse(payload.DeliveryID)
	if err != nil {
		return fmt.Errorf("delivery payload delivery_id: %w", err)
	}
	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return fmt.Errorf("delivery payload message_id: %w", err)
	}

	// Lease the record. Zero rows means it is gone (unsubscribe cascaded),
	// already past 'queued', or held by another worker; either way this job
	// has nothing to send. The last_attempt_at stamp starts the lease clock
	// the delivery recovery sweeper measures against.
	res, err := h.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = 'sending', last_attempt_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`, deliveryID)
	if err != nil {
		return queue.Retryable(fmt.Errorf("claim delivery %s: %w", deliveryID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The record may have been the message's last pending one.
		if err := sweepMessageCompletion(ctx, h.db, messageID); err != nil {
			return queue.Retryable(err)
		}
		return nil
	}

	return h.send(ctx, deliveryID, messageID)
}

func (h *DispatchHandler) send(ctx context.Context, deliveryID, messageID uuid.UUID) error {
	var (
		email    string
		subject  string
		body     string
		attempts int
	)
	err := h.db.QueryRowContext(ctx, `
		SELECT s.email, m.subject, m.body, d.attempts
		FROM delivery_records d
		JOIN subscribers s ON s.id = d.subscriber_id
		JOIN messages m ON m.id = d.message_id
		WHERE d.id = $1
	`, deliveryID).Scan(&email, &subject, &body, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		// Subscriber vanished between claim and load. The record row may
		// also be gone via cascade; release the lease if it survived.
		if _, uerr := h.db.ExecContext(ctx, `
			UPDATE delivery_records SET status = 'queued' WHERE id = $1 AND status = 'sending'
		`, deliveryID); uerr != nil {
			return queue.Retryable(uerr)
		}
		return sweepOrRetry(ctx, h.db, messageID)
	}
	if err != nil {
		return queue.Retryable(fmt.Errorf("load delivery %s: %w", deliveryID, err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	sendErr := h.sender.Send(sendCtx, email, subject, body, "")
	cancel()

	attempts++
	switch {
	case sendErr == nil:
		if err := h.markSent(ctx, deliveryID, attempts); err != nil {
			return queue.Retryable(err)
		}
		logger.Info("delivery sent",
			"delivery_id", deliveryID.String(),
			"message_id", messageID.String(),
			"to", logger.RedactEmail(email),
			"attempts", attempts)
		return sweepOrRetry(ctx, h.db, messageID)

	case mailer.IsPermanent(sendErr) || attempts >= h.maxAttempts:
		if err := h.markFailed(ctx, deliveryID, attempts, sendErr); err != nil {
			return queue.Retryable(err)
		}
		logger.Error("delivery failed",
			"delivery_id", deliveryID.String(),
			"message_id", messageID.String(),
			"to", logger.RedactEmail(email),
			"attempts", attempts,
			"permanent", mailer.IsPermanent(sendErr),
			"error", sendErr.Error())
		// The record is terminal; the job itself completes.
		return sweepOrRetry(ctx, h.db, messageID)

	default:
		// Transient with budget left: release the lease and let the queue
		// reschedule this job with backoff.
		if err := h.markRetry(ctx, deliveryID, attempts, sendErr); err != nil {
			return queue.Retryable(err)
		}
		logger.Warn("delivery send failed, will retry",
			"delivery_id", deliveryID.String(),
			"to", logger.RedactEmail(email),
			"attempts", attempts,
			"error", sendErr.Error())
		return queue.Retryable(sendErr)
	}
}

func (h *DispatchHandler) markSent(ctx context.Context, deliveryID uuid.UUID, attempts int) error {
	_, err := h.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = 'sent', attempts = $2, sent_at = NOW(), last_attempt_at = NOW(), last_error = ''
		WHERE id = $1
	`, deliveryID, attempts)
	return err
}

func (h *DispatchHandler) markFailed(ctx context.Context, deliveryID uuid.UUID, attempts int, cause error) error {
	_, err := h.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = 'failed', attempts = $2, last_attempt_at = NOW(), last_error = $3
		WHERE id = $1
	`, deliveryID, attempts, cause.Error())
	return err
}

func (h *DispatchHandler) markRetry(ctx context.Context, deliveryID uuid.UUID, attempts int, cause error) error {
	_, err := h.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = 'queued', attempts = $2, last_attempt_at = NOW(), last_error = $3
		WHERE id = $1
	`, deliveryID, attempts, cause.Error())
	return err
}

// sweepOrRetry wraps the completion sweep so sweep errors surface as
// retryable job errors.
func sweepOrRetry(ctx context.Context, db *sql.DB, messageID uuid.UUID) error {
	if err := sweepMessageCompletion(ctx, db, messageID); err != nil {
		return queue.Retryable(err)
	}
	return nil
}
