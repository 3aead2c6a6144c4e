package worker

import (
	"context"
	"database/sql"
	"time"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/pkg/logger"
	"github.com/maildrip/maildrip/internal/queue"
)

const (
	// DefaultDeliveryRecoveryInterval is how often the sweeper scans for
	// stuck delivery records.
	DefaultDeliveryRecoveryInterval = 2 * time.Minute

	// DefaultDeliveryStaleAge is how long a record can hold the 'sending'
	// lease, or sit in 'queued' with no job behind it, before the sweeper
	// intervenes.
	DefaultDeliveryStaleAge = 10 * time.Minute
)

// DeliveryRecoveryWorker repairs delivery records the job queue alone
// cannot. The generic queue sweeper recovers the *job* after a worker
// crash, but the redelivered job's conditional claim sees a record still
// leased in 'sending' and completes as a no-op; without this sweeper the
// record would never reach a terminal state and its message would never
// finish. It also re-issues send jobs for records left in 'queued' after
// their job dead-lettered on claim-path errors.
type DeliveryRecoveryWorker struct {
	db       *sql.DB
	queue    *queue.Queue
	interval time.Duration
	staleAge time.Duration
}

// NewDeliveryRecoveryWorker creates a delivery record sweeper.
func NewDeliveryRecoveryWorker(db *sql.DB, q *queue.Queue, interval, staleAge time.Duration) *DeliveryRecoveryWorker {
	if interval <= 0 {
		interval = DefaultDeliveryRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultDeliveryStaleAge
	}
	return &DeliveryRecoveryWorker{
		db:       db,
		queue:    q,
		interval: interval,
		staleAge: staleAge,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (r *DeliveryRecoveryWorker) Start(ctx context.Context) {
	logger.Info("delivery recovery starting",
		"interval", r.interval.String(),
		"stale_age", r.staleAge.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("delivery recovery stopping")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *DeliveryRecoveryWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	r.requeueStaleSending(sweepCtx)
	r.reissueOrphanedQueued(sweepCtx)
}

// requeueStaleSending breaks expired leases: a record in 'sending' past
// the stale age belongs to a worker that crashed mid-send. The record
// goes back to 'queued' and gets a fresh send job; if the original send
// actually reached the provider the subscriber may receive a duplicate,
// which at-least-once delivery accepts.
func (r *DeliveryRecoveryWorker) requeueStaleSending(ctx context.Context) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE delivery_records
		SET status = 'queued'
		WHERE status = 'sending'
		  AND COALESCE(last_attempt_at, created_at) < NOW() - $1::interval
		RETURNING id, message_id
	`, r.staleAge.String())
	if err != nil {
		logger.Error("delivery recovery requeue failed", "error", err.Error())
		return
	}
	defer rows.Close()

	n := r.enqueueFor(ctx, rows)
	if n > 0 {
		logger.Warn("requeued stale sending records", "count", n)
	}
}

// reissueOrphanedQueued re-enqueues send jobs for records that are
// runnable but have no live job behind them (the job dead-lettered on
// claim-path errors, or its enqueue was lost). Duplicate jobs are
// harmless against the conditional claim.
func (r *DeliveryRecoveryWorker) reissueOrphanedQueued(ctx context.Context) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.id, d.message_id
		FROM delivery_records d
		WHERE d.status = 'queued'
		  AND COALESCE(d.last_attempt_at, d.created_at) < NOW() - $1::interval
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.job_type = 'delivery.send'
			  AND j.status IN ('queued', 'running')
			  AND j.payload->>'delivery_id' = d.id::text
		  )
	`, r.staleAge.String())
	if err != nil {
		logger.Error("delivery recovery orphan scan failed", "error", err.Error())
		return
	}
	defer rows.Close()

	n := r.enqueueFor(ctx, rows)
	if n > 0 {
		logger.Warn("re-issued jobs for orphaned records", "count", n)
	}
}

// enqueueFor drains (id, message_id) rows and enqueues one delivery.send
// job per row. Returns the number of jobs enqueued.
func (r *DeliveryRecoveryWorker) enqueueFor(ctx context.Context, rows *sql.Rows) int {
	type rec struct{ id, messageID string }
	var recs []rec
	for rows.Next() {
		var rc rec
		if err := rows.Scan(&rc.id, &rc.messageID); err != nil {
			logger.Error("delivery recovery scan failed", "error", err.Error())
			return 0
		}
		recs = append(recs, rc)
	}
	if err := rows.Err(); err != nil {
		logger.Error("delivery recovery rows failed", "error", err.Error())
		return 0
	}

	n := 0
	for _, rc := range recs {
		_, err := r.queue.Enqueue(ctx, domain.JobTypeDeliverySend, domain.DeliveryJobPayload{
			DeliveryID: rc.id,
			MessageID:  rc.messageID,
		})
		if err != nil {
			// Record stays 'queued'; the next sweep picks it up again.
			logger.Error("delivery recovery enqueue failed",
				"delivery_id", rc.id, "error", err.Error())
			continue
		}
		n++
	}
	return n
}
