package domain

import "time"

// DeliveryStatus enumerates the lifecycle of a single per-subscriber
// delivery. The conditional queued→sending transition is the per-record
// lease: no two workers process the same record concurrently.
type DeliveryStatus string

const (
	DeliveryQueued  DeliveryStatus = "queued"
	DeliverySending DeliveryStatus = "sending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// IsTerminal reports whether the status is a final outcome.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// DeliveryRecord tracks the delivery of one message to one subscriber.
// At most one record exists per (message, subscriber) pair; fan-out relies
// on that constraint for exactly-once semantics under retry.
//
// SentAt is set iff the last attempt succeeded. A record with a null SentAt
// and attempts at the configured maximum is failed; there is no separate
// failure flag beyond the status column.
type DeliveryRecord struct {
	ID            string         `json:"id" db:"id"`
	MessageID     string         `json:"message_id" db:"message_id"`
	SubscriberID  string         `json:"subscriber_id" db:"subscriber_id"`
	Status        DeliveryStatus `json:"status" db:"status"`
	Attempts      int            `json:"attempts" db:"attempts"`
	LastError     string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	SentAt        *time.Time     `json:"sent_at" db:"sent_at"`
	LastAttemptAt *time.Time     `json:"last_attempt_at" db:"last_attempt_at"`
}
