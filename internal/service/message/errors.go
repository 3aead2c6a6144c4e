package message

import "errors"

// Sentinel errors for the message service layer.
var (
	ErrNotFound         = errors.New("message not found")
	ErrListNotFound     = errors.New("mailing list not found")
	ErrInvalidInput     = errors.New("subject and body are required")
	ErrQueueUnavailable = errors.New("task queue unavailable")
)
