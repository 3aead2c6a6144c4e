// Package subscription implements the subscriber lifecycle: double-opt-in
// signup, confirmation, and unsubscribe.
//
// Subscribe enqueues the confirmation email as a background job; a queue
// outage degrades to a subscriber without a confirmation email rather than
// a failed signup. Unsubscribe deletes the subscriber, cascades away its
// delivery records, and finishes any message that was only waiting on them.
package subscription
