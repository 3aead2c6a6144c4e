package subscription

import "errors"

// Sentinel errors for the subscription service layer.
var (
	ErrNotFound     = errors.New("subscriber not found")
	ErrListNotFound = errors.New("mailing list not found")
	ErrDuplicate    = errors.New("email already subscribed to this list")
	ErrInvalidEmail = errors.New("invalid email address")
)
