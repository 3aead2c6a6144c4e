package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/maildrip/maildrip/internal/pkg/logger"
)

const (
	// DefaultRecoveryInterval is how often the sweeper scans for stuck jobs.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a job can sit in 'running' before we
	// assume the worker that claimed it crashed.
	DefaultStaleAge = 5 * time.Minute
)

// RecoveryWorker requeues jobs abandoned by crashed workers and
// dead-letters jobs that have burned through their attempt budget while
// stuck. Without it, a worker crash mid-job strands the row in 'running'
// forever.
type RecoveryWorker struct {
	db          *sql.DB
	interval    time.Duration
	staleAge    time.Duration
	maxAttempts int
}

// NewRecoveryWorker creates a sweeper. maxAttempts should match the
// largest MaxAttempts across registered retry policies; jobs stuck past
// that many claims are dead-lettered instead of requeued.
func NewRecoveryWorker(db *sql.DB, interval, staleAge time.Duration, maxAttempts int) *RecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	return &RecoveryWorker{
		db:          db,
		interval:    interval,
		staleAge:    staleAge,
		maxAttempts: maxAttempts,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (r *RecoveryWorker) Start(ctx context.Context) {
	logger.Info("queue recovery starting",
		"interval", r.interval.String(),
		"stale_age", r.staleAge.String(),
		"max_attempts", r.maxAttempts)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue recovery stopping")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep makes two passes: requeue stale running jobs that still have
// attempts left, then dead-letter the ones that don't.
func (r *RecoveryWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(sweepCtx, `
		UPDATE jobs
		SET status = 'queued',
		    worker_id = '',
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE status = 'running'
		  AND claimed_at < NOW() - $1::interval
		  AND attempts < $2
	`, r.staleAge.String(), r.maxAttempts)
	if err != nil {
		logger.Error("recovery requeue failed", "error", err.Error())
	} else if n, _ := res.RowsAffected(); n > 0 {
		logger.Warn("requeued stuck jobs", "count", n)
	}

	res, err = r.db.ExecContext(sweepCtx, `
		UPDATE jobs
		SET status = 'dead_letter',
		    last_error = 'abandoned after max attempts',
		    updated_at = NOW()
		WHERE status = 'running'
		  AND claimed_at < NOW() - $1::interval
		  AND attempts >= $2
	`, r.staleAge.String(), r.maxAttempts)
	if err != nil {
		logger.Error("recovery dead-letter failed", "error", err.Error())
	} else if n, _ := res.RowsAffected(); n > 0 {
		logger.Error("dead-lettered stuck jobs", "count", n)
	}
}
