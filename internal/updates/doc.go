// Package updates distributes queue state to clients in one of two
// modes behind a single Subscribe call.
//
// Poll mode (the default) delivers a fresh snapshot on a fixed interval.
// Its cost is bounded by the interval regardless of mutation rate, which
// keeps a busy queue from overwhelming slow consumers.
//
// Push mode is opt-in. The subscription attaches to the event bus and
// delivers an update for every mutation, each carrying the event that
// caused it plus a post-mutation snapshot. The initial snapshot is taken
// after the bus subscription is attached, so a mutation landing between
// the two is never lost: it is either in the snapshot or in the stream.
package updates
