package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
)

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Listen binds addr with SO_REUSEADDR set before bind.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	return lc.Listen(ctx, "tcp", addr)
}

// SetNoDelay toggles TCP_NODELAY when conn is a TCP socket.
func SetNoDelay(conn net.Conn, enabled bool) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tc.SetNoDelay(enabled)
}

// Shutdown shuts both directions of conn down and then releases it. Closing an
// already closed connection is not an error.
func Shutdown(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
	}
	if err := conn.Close(); err != nil && !IsClosed(err) {
		return err
	}
	return nil
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports whether err means the local side already released conn.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// IsPeerClosed reports whether err is the peer ending the stream.
func IsPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
