package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/swiftwire/internal/observability"
	"github.com/danmuck/swiftwire/internal/protocol"
	"github.com/danmuck/swiftwire/internal/protocol/frame"
	"github.com/danmuck/swiftwire/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Session is the server-side actor for one accepted connection.
type Session struct {
	id      uint64
	conn    net.Conn
	cfg     Config
	limits  frame.Limits
	out     *Outbox
	log     zerolog.Logger
	onClose func(*Session, error)
	opened  time.Time

	state   atomic.Int32
	writing atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
	err     error
}

type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

// WithOnClose registers fn to run once, after the socket has been released.
func WithOnClose(fn func(*Session, error)) Option {
	return func(s *Session) {
		s.onClose = fn
	}
}

// NewSession takes ownership of conn. cfg is expected to be validated by the caller.
func NewSession(id uint64, conn net.Conn, cfg Config, opts ...Option) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		limits: frame.Limits{MaxFrame: cfg.MaxFrame},
		out:    NewOutbox(cfg.MaxWriteQueueBytes),
		opened: time.Now(),
		done:   make(chan struct{}),
	}
	s.log = observability.ComponentLogger("session").With().
		Uint64("session", id).
		Str("remote", remoteAddr(conn)).
		Logger()
	for _, opt := range opts {
		opt(s)
	}
	observability.RecordSessionOpened()
	return s
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) RemoteAddr() string {
	return remoteAddr(s.conn)
}

func (s *Session) State() State {
	if s.closed.Load() {
		return StateClosed
	}
	return State(s.state.Load())
}

// Writing reports whether a write is in flight.
func (s *Session) Writing() bool {
	return s.writing.Load()
}

// Pending returns queued-but-unsent bytes.
func (s *Session) Pending() int {
	return s.out.Pending()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the close reason once Done is closed, nil before.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Start runs the session on its own goroutine.
func (s *Session) Start(ctx context.Context) {
	go func() {
		_ = s.Run(ctx)
	}()
}

// Run drives the session until it closes and returns the close reason.
// Cancelling ctx closes the session with ErrCancelled.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.TCPNoDelay {
		if err := transport.SetNoDelay(s.conn, true); err != nil {
			s.log.Debug().Err(err).Msg("session set no-delay failed")
		}
	}
	s.log.Debug().Msg("session started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.readLoop)
	g.Go(s.writeLoop)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.fail(fmt.Errorf("%w: %v", protocol.ErrCancelled, context.Cause(gctx)))
		case <-s.done:
		}
		return nil
	})
	_ = g.Wait()
	<-s.done
	return s.Err()
}

// Send frames body and queues it behind any pending replies.
func (s *Session) Send(body []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: session %d", protocol.ErrClosed, s.id)
	}
	if len(body) == 0 || uint64(len(body)) > uint64(s.cfg.MaxFrame) {
		return fmt.Errorf("%w: length=%d max=%d", protocol.ErrBadLength, len(body), s.cfg.MaxFrame)
	}
	return s.enqueue(frame.Encode(body))
}

// Close shuts the session down. Calling it again has no effect.
func (s *Session) Close() error {
	s.fail(fmt.Errorf("%w: closed by owner", protocol.ErrCancelled))
	return nil
}

func (s *Session) readLoop() error {
	for {
		s.state.Store(int32(StateAwaitingLength))
		s.touch()
		length, err := frame.ReadLength(s.conn, s.limits.MaxFrame)
		if err != nil {
			return s.fail(s.readError(err))
		}

		s.state.Store(int32(StateAwaitingBody))
		s.touch()
		body, err := frame.ReadBody(s.conn, length)
		if err != nil {
			return s.fail(s.readError(err))
		}

		s.state.Store(int32(StateDispatching))
		if err := s.dispatch(body); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(body []byte) error {
	msgType := body[0]
	observability.RecordFrame(protocol.MessageTypeName(msgType))

	ack, ok := protocol.Respond(body)
	if !ok {
		s.log.Debug().
			Uint8("type", msgType).
			Int("body_len", len(body)).
			Msg("session ignoring short frame")
		return nil
	}
	if err := s.enqueue(frame.Encode(protocol.EncodeHelloAck(ack))); err != nil {
		return err
	}
	observability.RecordAck(ack.Status)
	return nil
}

func (s *Session) enqueue(buf []byte) error {
	pending, err := s.out.Push(buf)
	if err != nil {
		return s.fail(err)
	}
	observability.RecordQueuedBytes(pending)
	return nil
}

func (s *Session) writeLoop() error {
	for {
		select {
		case <-s.done:
			return nil
		case <-s.out.Ready():
		}
		for {
			buf, ok := s.out.Head()
			if !ok {
				break
			}
			s.writing.Store(true)
			s.touch()
			_, err := s.conn.Write(buf)
			s.out.Pop()
			s.writing.Store(false)
			if err != nil {
				return s.fail(s.writeError(err))
			}
		}
	}
}

// touch re-arms the idle clock for both directions.
func (s *Session) touch() {
	_ = s.conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))
}

func (s *Session) readError(err error) error {
	switch {
	case errors.Is(err, protocol.ErrProtocolViolation):
		return err
	case transport.IsTimeout(err):
		return fmt.Errorf("%w: no frame within %s", protocol.ErrIdleTimeout, s.cfg.IdleTimeout)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: peer closed", protocol.ErrClosed)
	default:
		return fmt.Errorf("%w: read: %v", protocol.ErrIO, err)
	}
}

func (s *Session) writeError(err error) error {
	if transport.IsTimeout(err) {
		return fmt.Errorf("%w: write stalled for %s", protocol.ErrIdleTimeout, s.cfg.IdleTimeout)
	}
	return fmt.Errorf("%w: write: %v", protocol.ErrIO, err)
}

// fail closes the session with reason unless it is already closed. Losing
// callers get the recorded reason, or nil if the winner has not finished.
func (s *Session) fail(reason error) error {
	if !s.closed.CompareAndSwap(false, true) {
		return s.Err()
	}
	s.err = reason
	s.state.Store(int32(StateClosed))
	if err := transport.Shutdown(s.conn); err != nil {
		s.log.Debug().Err(err).Msg("session shutdown")
	}
	close(s.done)

	label := protocol.Reason(reason)
	observability.RecordSessionClosed(label)
	event := s.log.Warn()
	switch {
	case errors.Is(reason, protocol.ErrClosed), errors.Is(reason, protocol.ErrCancelled):
		event = s.log.Debug()
	case errors.Is(reason, protocol.ErrIdleTimeout):
		event = s.log.Info()
	}
	event.
		Str("reason", label).
		Err(reason).
		Dur("age", time.Since(s.opened)).
		Int("queued_frames", s.out.Len()).
		Int("queued_bytes", s.out.Pending()).
		Msg("session closed")

	if s.onClose != nil {
		s.onClose(s, reason)
	}
	return reason
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
