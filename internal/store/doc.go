// Package store implements the versioned document store adapter.
//
// Documents are JSON envelopes carrying a monotonic version and an update
// timestamp around opaque payload bytes. All mutations are conditional on
// the caller's expected version (compare-and-set); multi-document writes
// commit atomically or not at all. The check-and-set is serialized under a
// process mutex and persisted as a single Pebble batch, so a version match
// observed during validation still holds at commit time.
//
// Version semantics:
//   - A successful write bumps the version by exactly 1.
//   - ExpectedVersion 0 means "create only": the write fails with
//     ErrConflict if the document already exists.
//   - A mismatched version returns ErrConflict; callers retry through the
//     txn executor, never by blind re-write.
package store
