package domain

import "time"

// JobStatus enumerates the lifecycle of a queued background job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// Job type names. Confirmation notification and message delivery are
// deliberately distinct job types; they carry different payloads and have
// different retry policies.
const (
	JobTypeConfirmation = "subscriber.confirmation"
	JobTypeFanout       = "message.fanout"
	JobTypeDeliverySend = "delivery.send"
)

// Payloads for the built-in job types. The enqueueing service and the
// handler agree on these; everything in between treats them as opaque JSON.
type ConfirmationJobPayload struct {
	SubscriberID string `json:"subscriber_id"`
}

type FanoutJobPayload struct {
	MessageID string `json:"message_id"`
}

type DeliveryJobPayload struct {
	DeliveryID string `json:"delivery_id"`
	MessageID  string `json:"message_id"`
}

// Job is a durable unit of background work. Payload is an opaque JSON
// document owned by the handler registered for the job type.
type Job struct {
	ID          string     `json:"id" db:"id"`
	Type        string     `json:"job_type" db:"job_type"`
	Payload     []byte     `json:"payload" db:"payload"`
	Status      JobStatus  `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	ClaimedAt   *time.Time `json:"claimed_at" db:"claimed_at"`
	WorkerID    string     `json:"worker_id" db:"worker_id"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
}
