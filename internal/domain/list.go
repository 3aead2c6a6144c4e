package domain

import "time"

// MailingList is a named collection of subscribers owned by a single
// principal. The owner is a reference into the external auth subsystem;
// this core only records and exposes it so that the authorization
// collaborator can consult it.
type MailingList struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
