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

// ConfirmationHandler sends the double-opt-in email for a new subscriber.
type ConfirmationHandler struct {
	db             *sql.DB
	sender         mailer.Sender
	templates      *mailer.TemplateRenderer
	confirmBaseURL string
	sendTimeout    time.Duration
}

// NewConfirmationHandler creates the subscriber.confirmation handler.
// confirmBaseURL is the public URL prefix; the subscriber id is appended
// as the confirmation capability.
func NewConfirmationHandler(db *sql.DB, sender mailer.Sender, templates *mailer.TemplateRenderer, confirmBaseURL string, sendTimeout time.Duration) *ConfirmationHandler {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &ConfirmationHandler{
		db:             db,
		sender:         sender,
		templates:      templates,
		confirmBaseURL: confirmBaseURL,
		sendTimeout:    sendTimeout,
	}
}

// Handle processes one subscriber.confirmation job. A subscriber that no
// longer exists (unsubscribed before the email went out) is a completed
// no-op, not a failure.
func (h *ConfirmationHandler) Handle(ctx context.Context, job queue.Job) error {
	var payload domain.ConfirmationJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode confirmation payload: %w", err)
	}
	subscriberID, err := uuid.Parse(payload.SubscriberID)
	if err != nil {
		return fmt.Errorf("confirmation payload subscriber_id: %w", err)
	}

	var (
		email     string
		confirmed bool
		listName  string
	)
	err = h.db.QueryRowContext(ctx, `
		SELECT s.email, s.confirmed, l.name
		FROM subscribers s
		JOIN mailing_lists l ON l.id = s.list_id
		WHERE s.id = $1
	`, subscriberID).Scan(&email, &confirmed, &listName)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Info("confirmation skipped, subscriber gone", "subscriber_id", subscriberID.String())
		return nil
	}
	if err != nil {
		return queue.Retryable(fmt.Errorf("load subscriber %s: %w", subscriberID, err))
	}
	if confirmed {
		// Already confirmed (double-submitted form, or confirmed via an
		// earlier email). Nothing to send.
		return nil
	}

	confirmURL := fmt.Sprintf("%s/%s", h.confirmBaseURL, subscriberID)
	subject := fmt.Sprintf("Confirm your subscription to %s", listName)
	htmlBody, textBody, err := h.templates.ConfirmationEmail(listName, confirmURL)
	if err != nil {
		return fmt.Errorf("render confirmation email: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	sendErr := h.sender.Send(sendCtx, email, subject, htmlBody, textBody)
	cancel()

	if sendErr != nil {
		if mailer.IsPermanent(sendErr) {
			logger.Error("confirmation email rejected",
				"subscriber_id", subscriberID.String(),
				"to", logger.RedactEmail(email),
				"error", sendErr.Error())
			return sendErr
		}
		return queue.Retryable(sendErr)
	}

	logger.Info("confirmation email sent",
		"subscriber_id", subscriberID.String(),
		"to", logger.RedactEmail(email))
	return nil
}
