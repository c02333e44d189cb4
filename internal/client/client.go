package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/swiftwire/internal/observability"
	"github.com/danmuck/swiftwire/internal/protocol"
	"github.com/danmuck/swiftwire/internal/protocol/frame"
	"github.com/danmuck/swiftwire/internal/protocol/session"
	"github.com/danmuck/swiftwire/internal/transport"
	"github.com/rs/zerolog"
)

var ErrAlreadyConnected = errors.New("client: already connected")

type Config struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	NoDelay            bool
	MaxConnectAttempts int
	Backoff            session.BackoffConfig
	Resolver           *net.Resolver
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		NoDelay:            true,
		MaxConnectAttempts: 1,
		Backoff:            session.DefaultBackoff(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	if c.Resolver == nil {
		c.Resolver = net.DefaultResolver
	}
	return c
}

// Client owns at most one connection to a swiftwire server.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg.withDefaults(),
		log: observability.ComponentLogger("client"),
	}
}

// Connect resolves host and dials the resolved addresses in order. Resolve and
// connect share one deadline armed at call time; timeout <= 0 uses
// Config.ConnectTimeout.
func (c *Client) Connect(ctx context.Context, host string, port uint16, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}
	if timeout <= 0 {
		timeout = c.cfg.ConnectTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := c.cfg.Resolver.LookupHost(cctx, host)
	if err != nil {
		return connectError(ctx, cctx, protocol.ErrResolve, host, err)
	}

	var dialer net.Dialer
	var lastErr error
	service := strconv.Itoa(int(port))
	for _, addr := range addrs {
		conn, err := dialer.DialContext(cctx, "tcp", net.JoinHostPort(addr, service))
		if err != nil {
			lastErr = err
			c.log.Debug().Str("addr", addr).Err(err).Msg("client dial failed")
			if cctx.Err() != nil {
				break
			}
			continue
		}
		if c.cfg.NoDelay {
			if err := transport.SetNoDelay(conn, true); err != nil {
				c.log.Debug().Err(err).Msg("client set no-delay failed")
			}
		}
		c.conn = conn
		c.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %q", host)
	}
	return connectError(ctx, cctx, protocol.ErrConnect, host, lastErr)
}

func connectError(parent, cctx context.Context, kind error, host string, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%w: connect %s: %v", protocol.ErrCancelled, host, parent.Err())
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", protocol.ErrConnectTimeout, host)
	default:
		return fmt.Errorf("%w: %s: %v", kind, host, err)
	}
}

// Handshake sends HELLO for clientID and waits for the matching HELLO_ACK.
// On failure the returned id and status are zero and the connection is
// dropped, since a late ack may still arrive on it. timeout <= 0 uses
// Config.HandshakeTimeout.
func (c *Client) Handshake(ctx context.Context, clientID uint64, timeout time.Duration) (uint64, uint8, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, 0, fmt.Errorf("%w: not connected", protocol.ErrClosed)
	}
	if timeout <= 0 {
		timeout = c.cfg.HandshakeTimeout
	}

	started := time.Now()
	ack, err := c.handshake(ctx, conn, clientID, timeout)
	result := "ok"
	if err != nil {
		result = protocol.Reason(err)
	}
	observability.RecordHandshake(result, time.Since(started))
	if err != nil {
		c.log.Debug().Uint64("client_id", clientID).Str("result", result).Err(err).Msg("client handshake failed")
		c.drop(conn)
		return 0, 0, err
	}
	return ack.ClientID, ack.Status, nil
}

func (c *Client) handshake(ctx context.Context, conn net.Conn, clientID uint64, timeout time.Duration) (protocol.HelloAck, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := hctx.Deadline()
	_ = conn.SetDeadline(deadline)
	// Parent cancellation has no deadline of its own, so abort in-flight I/O
	// by moving the deadline into the past.
	stop := context.AfterFunc(hctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write(frame.Encode(protocol.EncodeHello(clientID))); err != nil {
		return protocol.HelloAck{}, handshakeError(ctx, "write", err)
	}
	body, err := frame.ReadFrame(conn, frame.Limits{MaxFrame: protocol.ClientMaxFrame})
	if err != nil {
		return protocol.HelloAck{}, handshakeError(ctx, "read", err)
	}
	ack, err := protocol.DecodeHelloAck(body, clientID)
	if err != nil {
		return protocol.HelloAck{}, err
	}
	if !stop() {
		return protocol.HelloAck{}, handshakeError(ctx, "read", context.Cause(hctx))
	}
	_ = conn.SetDeadline(time.Time{})
	return ack, nil
}

func handshakeError(parent context.Context, op string, err error) error {
	switch {
	case errors.Is(err, protocol.ErrProtocolViolation):
		return err
	case parent.Err() != nil:
		return fmt.Errorf("%w: handshake %s: %v", protocol.ErrCancelled, op, parent.Err())
	case transport.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", protocol.ErrHandshakeTimeout, op)
	case transport.IsPeerClosed(err):
		return fmt.Errorf("%w: handshake %s: peer closed: %v", protocol.ErrIO, op, err)
	default:
		return fmt.Errorf("%w: handshake %s: %v", protocol.ErrIO, op, err)
	}
}

// Close shuts the connection down in both directions and releases it. Closing
// a client with no connection is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := transport.Shutdown(conn); err != nil {
		return fmt.Errorf("%w: close: %v", protocol.ErrIO, err)
	}
	return nil
}

// drop releases conn if it is still the client's connection.
func (c *Client) drop(conn net.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = transport.Shutdown(conn)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Dial connects and completes the handshake, retrying with backoff up to
// cfg.MaxConnectAttempts. Protocol violations are not retried.
func Dial(ctx context.Context, cfg Config, host string, port uint16, clientID uint64) (*Client, protocol.HelloAck, error) {
	c := New(cfg)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		err := c.Connect(ctx, host, port, 0)
		if err == nil {
			var id uint64
			var status uint8
			id, status, err = c.Handshake(ctx, clientID, 0)
			if err == nil {
				return c, protocol.HelloAck{ClientID: id, Status: status}, nil
			}
			_ = c.Close()
		}
		c.log.Warn().Int("attempt", attempt).Str("host", host).Uint16("port", port).Err(err).Msg("client dial attempt failed")
		if errors.Is(err, protocol.ErrProtocolViolation) || errors.Is(err, protocol.ErrCancelled) || !c.shouldRetry(attempt) {
			return nil, protocol.HelloAck{}, err
		}
		if serr := session.SleepBackoff(ctx, c.cfg.Backoff, attempt, rng); serr != nil {
			return nil, protocol.HelloAck{}, fmt.Errorf("%w: %v", protocol.ErrCancelled, serr)
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}
