// Package message implements message composition and delivery progress
// reads.
//
// Create is the one write: it persists the message and enqueues the
// fan-out build job as a single logical operation. If the job cannot be
// enqueued the message insert is compensated, so no message row ever
// exists without a build job behind it.
package message
