package list

import "errors"

// Sentinel errors for the list service layer.
var (
	ErrNotFound    = errors.New("mailing list not found")
	ErrInvalidName = errors.New("list name is required")
)
