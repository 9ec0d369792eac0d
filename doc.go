// Package deferq provides a deferred-callback scheduler.
//
// A Scheduler keeps callbacks ordered by their expiration on a
// monotonic clock and answers two questions: which callbacks are due
// now (TakeExpired) and how long until the next one is due (NextTimeout).
// It never executes callbacks itself and is not safe for concurrent use.
//
// Loop is a driving loop around a Scheduler. It executes due callbacks
// sequentially on its own goroutine, and its methods can safely be
// used from within multiple goroutines.
package deferq
