// Package txn wraps store mutations in bounded-retry optimistic
// transactions.
//
// Execute re-reads the current document before every attempt and hands it
// to the caller's intent function, so the committed value is always
// computed from the freshest state (last-writer-recomputes). Conflicts are
// retried with a configurable backoff policy; exhaustion surfaces
// ErrPreconditionFailed. Errors returned by the intent itself are business
// decisions and propagate immediately without retry.
package txn
