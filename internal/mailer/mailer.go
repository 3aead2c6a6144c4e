// Package mailer is the outbound mail capability. The rest of the system
// depends only on the Sender interface and the three-way outcome contract:
// nil (delivered), a permanent error (never retried), or anything else
// (transient, retried by the queue layer with backoff).
package mailer

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers a single email. Implementations must honor ctx
// cancellation; a timeout is classified as transient by callers.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// PermanentError marks a send failure that retrying cannot fix
// (rejected address, suspended sending account, malformed content).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent send failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a permanent send failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is a permanent send failure.
// Everything else, including timeouts, is treated as transient.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// SenderFunc adapts a function to the Sender interface. Used by tests and
// by small wiring shims.
type SenderFunc func(ctx context.Context, to, subject, htmlBody, textBody string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	return f(ctx, to, subject, htmlBody, textBody)
}
