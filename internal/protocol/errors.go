package protocol

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrResolve          = errors.New("protocol: resolve failure")
	ErrConnect          = errors.New("protocol: connect failure")
	ErrConnectTimeout   = errors.New("protocol: connect timeout")
	ErrHandshakeTimeout = errors.New("protocol: handshake timeout")

	ErrProtocolViolation = errors.New("protocol: violation")
	ErrBadLength         = fmt.Errorf("%w: bad length", ErrProtocolViolation)
	ErrBadType           = fmt.Errorf("%w: bad type", ErrProtocolViolation)
	ErrIDMismatch        = fmt.Errorf("%w: id mismatch", ErrProtocolViolation)
	ErrTruncated         = fmt.Errorf("%w: truncated", ErrProtocolViolation)

	ErrWriteQueueOverflow = errors.New("protocol: write queue overflow")
	ErrIdleTimeout        = errors.New("protocol: idle timeout")
	ErrIO                 = errors.New("protocol: io failure")
	ErrBind               = errors.New("protocol: bind failure")
	ErrCancelled          = errors.New("protocol: cancelled")
	ErrClosed             = errors.New("protocol: connection closed")
)

// Reason maps err to a stable label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrBadLength):
		return "bad_length"
	case errors.Is(err, ErrBadType):
		return "bad_type"
	case errors.Is(err, ErrIDMismatch):
		return "id_mismatch"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrWriteQueueOverflow):
		return "write_queue_overflow"
	case errors.Is(err, ErrIdleTimeout):
		return "idle_timeout"
	case errors.Is(err, ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, ErrResolve):
		return "resolve_failure"
	case errors.Is(err, ErrConnect):
		return "connect_failure"
	case errors.Is(err, ErrBind):
		return "bind_failure"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrIO):
		return "io_failure"
	default:
		return "unknown"
	}
}
