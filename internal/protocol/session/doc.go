// Package session owns the server side of one swiftwire connection.
//
// Ownership boundary:
// - per-connection state machine (length → body → dispatch → length ...)
// - idle clock re-armed before every read and write issuance
// - bounded FIFO write queue with a single writer
// - server configuration and retry backoff primitives
//
// A Session exclusively owns its socket, buffers and write queue. Close is
// idempotent; the first recorded reason wins and later failures are discarded.
package session
