// Package events carries pitline's domain events.
//
// The queue engine emits one event per committed mutation, after cache
// invalidation, with the post-mutation entry snapshot as payload. The Bus
// fans events out to in-process subscribers (update distribution, SSE);
// the Journal persists them per location for reporting and the recent-
// events listing. Subscribers may attach a CEL filter expression, e.g.
//
//	type == 'entry.called' && priority == 'urgent'
//
// Delivery to a subscriber is best-effort: a full subscriber buffer drops
// the event for that subscriber rather than blocking the emitting
// operation.
package events
