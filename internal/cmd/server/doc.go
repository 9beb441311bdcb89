// Package serverrun boots the runtime and HTTP server for the
// `pitline server start` command and blocks until shutdown.
package serverrun
