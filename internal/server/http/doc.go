// Package httpserver exposes the queue engine over a minimal JSON HTTP
// API plus an SSE stream for live updates. It is the only built-in
// consumer surface; the CLI talks to these endpoints.
package httpserver
