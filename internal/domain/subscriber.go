package domain

import "time"

// Subscriber represents a single email recipient within a mailing list.
// A given address subscribes to a given list at most once; the
// (list_id, email) pair is unique at the storage boundary.
//
// Lifecycle: created unconfirmed, confirmed via the explicit opt-in
// transition (idempotent), deleted on unsubscribe. Deleting a subscriber
// cascades to its delivery records.
type Subscriber struct {
	ID        string    `json:"id" db:"id"`
	ListID    string    `json:"list_id" db:"list_id"`
	Email     string    `json:"email" db:"email"`
	Confirmed bool      `json:"confirmed" db:"confirmed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
