package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/maildrip/maildrip/internal/pkg/logger"
)

// WorkerPool claims jobs from the jobs table and runs the handler
// registered for each job type. Multiple pools (in one process or many)
// can share the table; SKIP LOCKED keeps them from claiming the same row.
type WorkerPool struct {
	db           *sql.DB
	workerID     string
	numWorkers   int
	batchSize    int
	pollInterval time.Duration

	handlers map[string]Handler
	policies map[string]RetryPolicy

	totalCompleted int64
	totalRetried   int64
	totalFailed    int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWorkerPool creates a pool. Register handlers before calling Start.
func NewWorkerPool(db *sql.DB, numWorkers, batchSize int, pollInterval time.Duration) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &WorkerPool{
		db:           db,
		workerID:     fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		numWorkers:   numWorkers,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
		policies:     make(map[string]RetryPolicy),
	}
}

// Register binds a handler and retry policy to a job type. Jobs of an
// unregistered type are left alone by this pool.
func (p *WorkerPool) Register(jobType string, h Handler, policy RetryPolicy) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	p.handlers[jobType] = h
	p.policies[jobType] = policy
}

// Start launches the worker goroutines. Safe to call once; subsequent
// calls are no-ops until Stop.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	logger.Info("worker pool starting",
		"worker_id", p.workerID,
		"workers", p.numWorkers,
		"batch_size", p.batchSize,
		"job_types", fmt.Sprintf("%v", types))

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("worker pool stopped",
		"worker_id", p.workerID,
		"completed", atomic.LoadInt64(&p.totalCompleted),
		"retried", atomic.LoadInt64(&p.totalRetried),
		"failed", atomic.LoadInt64(&p.totalFailed))
}

// Stats returns lifetime counters for this pool.
func (p *WorkerPool) Stats() map[string]int64 {
	return map[string]int64{
		"completed": atomic.LoadInt64(&p.totalCompleted),
		"retried":   atomic.LoadInt64(&p.totalRetried),
		"failed":    atomic.LoadInt64(&p.totalFailed),
	}
}

func (p *WorkerPool) worker(workerNum int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			jobs, err := p.claimBatch(p.ctx)
			if err != nil {
				logger.Error("claim batch failed", "worker", workerNum, "error", err.Error())
				p.sleep(time.Second)
				continue
			}
			if len(jobs) == 0 {
				p.sleep(p.pollInterval)
				continue
			}
			for _, job := range jobs {
				p.runJob(p.ctx, job)
			}
		}
	}
}

// sleep waits d or until the pool is stopping, whichever comes first.
func (p *WorkerPool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}

// claimBatch atomically moves up to batchSize runnable jobs of the types
// this pool handles into 'running' and returns them.
func (p *WorkerPool) claimBatch(ctx context.Context) ([]Job, error) {
	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}

	rows, err := p.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE jobs
			SET status = 'running',
			    worker_id = $1,
			    claimed_at = NOW(),
			    attempts = attempts + 1,
			    updated_at = NOW()
			WHERE id IN (
				SELECT j.id FROM jobs j
				WHERE j.status = 'queued'
				  AND j.job_type = ANY($2)
				  AND j.scheduled_at <= NOW()
				ORDER BY j.scheduled_at ASC
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, job_type, payload, attempts
		)
		SELECT id, job_type, payload, attempts FROM claimed
	`, p.workerID, pq.Array(types), p.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Type, &j.Payload, &j.Attempts); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// runJob executes the handler and records the outcome.
func (p *WorkerPool) runJob(ctx context.Context, job Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		// Shouldn't happen; claimBatch filters on registered types.
		p.failJob(ctx, job, "no handler registered")
		return
	}

	err := handler(ctx, job)
	switch {
	case err == nil:
		p.completeJob(ctx, job)
	case IsRetryable(err):
		p.rescheduleJob(ctx, job, err)
	default:
		atomic.AddInt64(&p.totalFailed, 1)
		logger.Error("job failed permanently",
			"job_id", job.ID.String(), "job_type", job.Type,
			"attempts", job.Attempts, "error", err.Error())
		p.failJob(ctx, job, err.Error())
	}
}

func (p *WorkerPool) completeJob(ctx context.Context, job Job) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = NOW(), last_error = '', updated_at = NOW()
		WHERE id = $1
	`, job.ID)
	if err != nil {
		logger.Error("mark job completed failed", "job_id", job.ID.String(), "error", err.Error())
		return
	}
	atomic.AddInt64(&p.totalCompleted, 1)
}

// rescheduleJob puts the job back in 'queued' with exponential backoff, or
// dead-letters it once attempts reach the policy's limit.
func (p *WorkerPool) rescheduleJob(ctx context.Context, job Job, cause error) {
	policy := p.policies[job.Type]
	if job.Attempts >= policy.MaxAttempts {
		atomic.AddInt64(&p.totalFailed, 1)
		logger.Error("job exhausted retries",
			"job_id", job.ID.String(), "job_type", job.Type,
			"attempts", job.Attempts, "error", cause.Error())
		p.deadLetterJob(ctx, job, cause.Error())
		return
	}

	delay := policy.Delay(job.Attempts)
	_, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued',
		    worker_id = '',
		    claimed_at = NULL,
		    scheduled_at = NOW() + $2 * INTERVAL '1 second',
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, job.ID, int(delay.Seconds()), truncateError(cause.Error()))
	if err != nil {
		logger.Error("reschedule job failed", "job_id", job.ID.String(), "error", err.Error())
		return
	}
	atomic.AddInt64(&p.totalRetried, 1)
	logger.Warn("job rescheduled",
		"job_id", job.ID.String(), "job_type", job.Type,
		"attempts", job.Attempts, "delay_sec", int(delay.Seconds()),
		"error", cause.Error())
}

func (p *WorkerPool) failJob(ctx context.Context, job Job, lastError string) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, job.ID, truncateError(lastError))
	if err != nil {
		logger.Error("mark job failed errored", "job_id", job.ID.String(), "error", err.Error())
	}
}

func (p *WorkerPool) deadLetterJob(ctx context.Context, job Job, lastError string) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'dead_letter', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, job.ID, truncateError(lastError))
	if err != nil {
		logger.Error("dead-letter job errored", "job_id", job.ID.String(), "error", err.Error())
	}
}

// truncateError keeps last_error rows bounded.
func truncateError(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}
