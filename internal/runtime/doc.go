// Package runtime wires storage, cache, transaction executor, queue
// engine, eventing, and update distribution into a single-node instance.
// Servers and the CLI open a Runtime and talk to its facades rather than
// constructing components themselves.
package runtime
