package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/swiftwire/internal/observability"
	"github.com/danmuck/swiftwire/internal/protocol"
	"github.com/danmuck/swiftwire/internal/protocol/session"
	"github.com/danmuck/swiftwire/internal/transport"
	"github.com/rs/zerolog"
)

var ErrAlreadyServing = errors.New("server: serve already called")

// Stats is a point-in-time view of listener activity.
type Stats struct {
	Addr           string            `json:"addr"`
	Serving        bool              `json:"serving"`
	Active         int               `json:"active"`
	Accepted       uint64            `json:"accepted"`
	AcceptErrors   uint64            `json:"accept_errors"`
	ClosedByReason map[string]uint64 `json:"closed_by_reason"`
}

// Server accepts connections and runs one session per connection.
type Server struct {
	ln      net.Listener
	cfg     session.Config
	backoff session.BackoffConfig
	log     zerolog.Logger

	nextID       atomic.Uint64
	acceptErrors atomic.Uint64
	started      atomic.Bool
	serving      atomic.Bool
	closing      atomic.Bool
	stopped      chan struct{}
	wg           sync.WaitGroup

	mu       sync.Mutex
	sessions map[uint64]*session.Session
	closedBy map[string]uint64
}

// Listen validates cfg and binds addr with address reuse. Bind failures are
// returned wrapped in ErrBind.
func Listen(ctx context.Context, addr string, cfg session.Config) (*Server, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ln, err := transport.Listen(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", protocol.ErrBind, addr, err)
	}
	return New(ln, cfg), nil
}

// New wraps an existing listener.
func New(ln net.Listener, cfg session.Config) *Server {
	return &Server{
		ln:       ln,
		cfg:      cfg.WithDefaults(),
		backoff:  session.BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second},
		log:      observability.ComponentLogger("listener").With().Str("addr", ln.Addr().String()).Logger(),
		stopped:  make(chan struct{}),
		sessions: make(map[uint64]*session.Session),
		closedBy: make(map[string]uint64),
	}
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Config() session.Config {
	return s.cfg
}

// Serving reports whether the accept loop is running.
func (s *Server) Serving() bool {
	return s.serving.Load()
}

// Serve runs the accept loop until ctx is cancelled or Close is called, then
// closes every session and waits for them. Failed accepts are logged and
// retried after a backoff. Serve may be called once.
func (s *Server) Serve(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	defer close(s.stopped)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	s.serving.Store(true)
	defer s.serving.Store(false)
	s.log.Info().
		Int("threads", s.cfg.Threads).
		Dur("idle_timeout", s.cfg.IdleTimeout).
		Uint32("max_frame", s.cfg.MaxFrame).
		Int("max_write_queue_bytes", s.cfg.MaxWriteQueueBytes).
		Msg("listener serving")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var failures int
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			failures++
			s.acceptErrors.Add(1)
			observability.RecordAcceptError()
			s.log.Warn().Err(err).Int("consecutive", failures).Msg("listener accept failed")
			if err := session.SleepBackoff(ctx, s.backoff, failures, rng); err != nil {
				break
			}
			continue
		}
		failures = 0
		s.spawn(ctx, conn)
	}

	s.closeSessions()
	s.wg.Wait()
	s.log.Info().Msg("listener stopped")
	return nil
}

func (s *Server) spawn(ctx context.Context, conn net.Conn) {
	id := s.nextID.Add(1)
	sess := session.NewSession(id, conn, s.cfg, session.WithOnClose(s.untrack))
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	if s.closing.Load() {
		_ = sess.Close()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = sess.Run(ctx)
	}()
}

func (s *Server) untrack(sess *session.Session, reason error) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.closedBy[protocol.Reason(reason)]++
	s.mu.Unlock()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	open := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		_ = sess.Close()
	}
}

// Close stops accepting, closes every session and waits for them to finish.
// If Serve is running, Close also waits for it to return.
func (s *Server) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	if s.started.Load() {
		<-s.stopped
	}
	s.closeSessions()
	s.wg.Wait()
	if err != nil && !transport.IsClosed(err) {
		return err
	}
	return nil
}

// Sessions returns the ids of open sessions in ascending order.
func (s *Server) Sessions() []uint64 {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := make(map[string]uint64, len(s.closedBy))
	for reason, n := range s.closedBy {
		closed[reason] = n
	}
	return Stats{
		Addr:           s.ln.Addr().String(),
		Serving:        s.serving.Load(),
		Active:         len(s.sessions),
		Accepted:       s.nextID.Load(),
		AcceptErrors:   s.acceptErrors.Load(),
		ClosedByReason: closed,
	}
}
