// Package id generates 128-bit lexicographically sortable identifiers.
//
// Pitline uses these for domain-event ordering: an event id encodes its
// creation time in the high 8 bytes and a per-process sequence in the low
// 8 bytes, so iterating the persisted event journal yields emission order.
package id
