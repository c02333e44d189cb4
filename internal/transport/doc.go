// Package transport holds the TCP socket plumbing shared by the client, the
// session and the listener: address-reuse listeners, no-delay toggling and
// two-way shutdown.
package transport
