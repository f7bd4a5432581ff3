// Package timer implements the per-connection deadline facility.
//
// Each deadline is identified by a Purpose such as "hello.max-wait". At most
// one deadline per purpose is armed at a time; arming a purpose again
// replaces the previous deadline.
//
// # Expiry Delivery
//
// Expiries are handed to a callback as Expiry values carrying the generation
// of the deadline that fired. The owner forwards them into its own event
// queue and calls Claim when it processes them. Claim only succeeds if the
// same generation is still armed, so a deadline that was cancelled or
// re-armed after it fired but before it was processed is discarded.
//
// # Clock
//
// Deadlines run on a clock.Clock so tests can drive them with clock.NewMock.
package timer
