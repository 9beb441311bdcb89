// Package pebblestore wraps a Pebble database with pitline's fsync policy,
// batch helpers, and a metrics seam. It is the physical layer under the
// versioned document store; nothing above it should touch Pebble directly.
package pebblestore
