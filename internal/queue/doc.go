// Package queue implements the unified queue engine.
//
// An Entry is a customer's position in a location's service queue. Its
// status moves through a fixed state machine:
//
//	waiting -> called -> in_service -> completed
//	waiting -> cancelled
//	waiting -> expired   (sweep)
//	called  -> cancelled
//
// Terminal entries are immutable and never physically deleted.
//
// Positions among waiting entries at a location are dense 1..N. Joins
// assign max+1 through an atomic per-location+day counter document;
// removing an entry from the waiting set (call-next, cancel, expire)
// renumbers every entry behind it in one all-or-nothing conditional
// batch, so the ordering never shows gaps or duplicates.
//
// Every mutation goes through the txn executor (optimistic retries),
// invalidates the location's snapshot cache before returning, and then
// emits a domain event carrying the post-mutation entry snapshot.
//
// # Keyspace
//
//	loc/{loc}/entry/{id}          - entry documents
//	loc/{loc}/day/{yyyymmdd}/ctr  - position counter (tail of waiting set)
//	loc/{loc}/reqid/{requestId}   - join idempotency index -> entry id
//	locmeta/{loc}                 - location registry record
package queue
