package domain

import "time"

// Message is a composed email addressed to all confirmed subscribers of a
// mailing list. Messages are immutable after creation.
//
// StartedAt is set when the fan-out build job begins; FinishedAt when the
// last delivery record reaches a terminal outcome (or immediately, for a
// list with no confirmed subscribers).
type Message struct {
	ID         string     `json:"id" db:"id"`
	ListID     string     `json:"list_id" db:"list_id"`
	Subject    string     `json:"subject" db:"subject"`
	Body       string     `json:"body" db:"body"`
	StartedAt  *time.Time `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// MessageProgress summarizes delivery outcomes for a message.
type MessageProgress struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}
