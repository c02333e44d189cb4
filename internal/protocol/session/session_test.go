package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/swiftwire/internal/protocol"
	"github.com/danmuck/swiftwire/internal/protocol/frame"
	"github.com/danmuck/swiftwire/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	rng := rand.New(rand.NewSource(7))
	for attempt := 1; attempt <= 8; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		if got <= 0 || got > time.Duration(float64(cfg.MaxDelay)*1.5) {
			t.Fatalf("attempt%d out of bounds: %v", attempt, got)
		}
	}
}

func TestSleepBackoffHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := BackoffConfig{InitialDelay: time.Hour}
	if err := SleepBackoff(ctx, cfg, 1, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.IdleTimeout != 60*time.Second || cfg.MaxFrame != 1<<20 || cfg.MaxWriteQueueBytes != 8<<20 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	bad := DefaultConfig()
	bad.Threads = 0
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestOutboxLimit(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox(28)
	for i := 0; i < 2; i++ {
		if _, err := o.Push(make([]byte, 14)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if o.Pending() != 28 || o.Len() != 2 {
		t.Fatalf("pending=%d len=%d", o.Pending(), o.Len())
	}
	if _, err := o.Push([]byte{1}); !errors.Is(err, protocol.ErrWriteQueueOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if o.Pending() != 28 {
		t.Fatalf("refused push changed pending: %d", o.Pending())
	}
}

func TestOutboxCountsHeadUntilPop(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox(64)
	if _, err := o.Push([]byte("first")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := o.Push([]byte("second")); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case <-o.Ready():
	default:
		t.Fatalf("ready not signalled")
	}
	head, ok := o.Head()
	if !ok || string(head) != "first" {
		t.Fatalf("unexpected head=%q ok=%v", head, ok)
	}
	if o.Pending() != 11 {
		t.Fatalf("head must stay counted, pending=%d", o.Pending())
	}
	o.Pop()
	if o.Pending() != 6 {
		t.Fatalf("pending after pop=%d", o.Pending())
	}
	o.Pop()
	o.Pop()
	if _, ok := o.Head(); ok || o.Pending() != 0 {
		t.Fatalf("expected empty outbox")
	}
}

func TestStateString(t *testing.T) {
	testlog.Start(t)
	if StateAwaitingLength.String() != "awaiting_length" || StateClosed.String() != "closed" {
		t.Fatalf("unexpected state names")
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 2 * time.Second
	return cfg
}

func startSession(t *testing.T, cfg Config) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := NewSession(1, server, cfg)
	s.Start(context.Background())
	t.Cleanup(func() {
		_ = s.Close()
		_ = client.Close()
	})
	return s, client
}

func writeFrame(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write(frame.Encode(body)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readAck(t *testing.T, conn net.Conn) protocol.HelloAck {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	body, err := frame.ReadFrame(conn, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if len(body) != protocol.HelloAckBodyLen || body[0] != protocol.MsgHelloAck {
		t.Fatalf("unexpected ack body=%x", body)
	}
	return protocol.HelloAck{ClientID: protocol.Uint64(body[1:]), Status: body[9]}
}

func waitClosed(t *testing.T, s *Session) error {
	t.Helper()
	select {
	case <-s.Done():
		return s.Err()
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not close, state=%s", s.State())
		return nil
	}
}

func TestSessionHelloAckBytes(t *testing.T) {
	testlog.Start(t)
	_, client := startSession(t, testConfig())

	writeFrame(t, client, protocol.EncodeHello(42))
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	got := make([]byte, 14)
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{0, 0, 0, 10, 0x81, 0, 0, 0, 0, 0, 0, 0, 42, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("ack bytes mismatch\n got=%x\nwant=%x", got, want)
	}
}

func TestSessionUnknownTypeStatus(t *testing.T) {
	testlog.Start(t)
	_, client := startSession(t, testConfig())

	writeFrame(t, client, []byte{0x02, 0, 0, 0, 0, 0, 0, 0, 7})
	ack := readAck(t, client)
	if ack.ClientID != 7 || ack.Status != protocol.StatusUnknownType {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestSessionIgnoresShortBody(t *testing.T) {
	testlog.Start(t)
	s, client := startSession(t, testConfig())

	writeFrame(t, client, []byte{protocol.MsgHello, 1, 2})
	writeFrame(t, client, protocol.EncodeHello(5))
	ack := readAck(t, client)
	if ack.ClientID != 5 || ack.Status != protocol.StatusKnown {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if s.Err() != nil {
		t.Fatalf("session closed: %v", s.Err())
	}
}

func TestSessionRepliesInOrder(t *testing.T) {
	testlog.Start(t)
	_, client := startSession(t, testConfig())

	go func() {
		for id := uint64(1); id <= 3; id++ {
			_, _ = client.Write(frame.Encode(protocol.EncodeHello(id)))
		}
	}()
	for id := uint64(1); id <= 3; id++ {
		if ack := readAck(t, client); ack.ClientID != id {
			t.Fatalf("ack %d out of order: %+v", id, ack)
		}
	}
}

func TestSessionWriteQueueOverflow(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaxWriteQueueBytes = 28
	s, client := startSession(t, cfg)

	for id := uint64(1); id <= 3; id++ {
		writeFrame(t, client, protocol.EncodeHello(id))
	}
	if err := waitClosed(t, s); !errors.Is(err, protocol.ErrWriteQueueOverflow) {
		t.Fatalf("expected ErrWriteQueueOverflow, got %v", err)
	}
}

func TestSessionCloseLogReportsQueue(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaxWriteQueueBytes = 28
	var logs bytes.Buffer
	closed := make(chan struct{})
	server, client := net.Pipe()
	defer client.Close()
	s := NewSession(1, server, cfg,
		WithLogger(zerolog.New(&logs)),
		WithOnClose(func(*Session, error) { close(closed) }),
	)
	s.Start(context.Background())

	for id := uint64(1); id <= 3; id++ {
		writeFrame(t, client, protocol.EncodeHello(id))
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not close")
	}

	var entry struct {
		Message      string `json:"message"`
		Reason       string `json:"reason"`
		QueuedFrames *int   `json:"queued_frames"`
	}
	found := false
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		if err := json.Unmarshal(line, &entry); err == nil && entry.Message == "session closed" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("no close entry in %s", logs.String())
	}
	if entry.Reason != "write_queue_overflow" || entry.QueuedFrames == nil || *entry.QueuedFrames < 1 {
		t.Fatalf("unexpected close entry %+v", entry)
	}
}

func TestSessionWriteQueueExactLimit(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaxWriteQueueBytes = 28
	s, client := startSession(t, cfg)

	writeFrame(t, client, protocol.EncodeHello(1))
	writeFrame(t, client, protocol.EncodeHello(2))
	time.Sleep(50 * time.Millisecond)
	if err := s.Err(); err != nil {
		t.Fatalf("session closed at exact limit: %v", err)
	}
	if s.Pending() != 28 {
		t.Fatalf("expected 28 pending bytes, got %d", s.Pending())
	}
	readAck(t, client)
	readAck(t, client)
}

func TestSessionIdleTimeout(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	s, _ := startSession(t, cfg)

	if err := waitClosed(t, s); !errors.Is(err, protocol.ErrIdleTimeout) {
		t.Fatalf("expected ErrIdleTimeout, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("unexpected state %s", s.State())
	}
}

func TestSessionActivityResetsIdle(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.IdleTimeout = 200 * time.Millisecond
	s, client := startSession(t, cfg)

	for id := uint64(1); id <= 5; id++ {
		time.Sleep(80 * time.Millisecond)
		writeFrame(t, client, protocol.EncodeHello(id))
		readAck(t, client)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("active session closed: %v", err)
	}
	if err := waitClosed(t, s); !errors.Is(err, protocol.ErrIdleTimeout) {
		t.Fatalf("expected ErrIdleTimeout once quiet, got %v", err)
	}
}

func TestSessionBadLengthCloses(t *testing.T) {
	testlog.Start(t)
	cases := map[string][]byte{
		"zero":     {0, 0, 0, 0},
		"oversize": {0x00, 0x10, 0x00, 0x01},
	}
	for name, prefix := range cases {
		t.Run(name, func(t *testing.T) {
			s, client := startSession(t, testConfig())
			_ = client.SetWriteDeadline(time.Now().Add(time.Second))
			if _, err := client.Write(prefix); err != nil {
				t.Fatalf("write prefix: %v", err)
			}
			err := waitClosed(t, s)
			if !errors.Is(err, protocol.ErrBadLength) || !errors.Is(err, protocol.ErrProtocolViolation) {
				t.Fatalf("expected ErrBadLength, got %v", err)
			}
		})
	}
}

func TestSessionPeerClose(t *testing.T) {
	testlog.Start(t)
	s, client := startSession(t, testConfig())
	_ = client.Close()
	if err := waitClosed(t, s); !errors.Is(err, protocol.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer client.Close()
	var calls atomic.Int32
	s := NewSession(9, server, testConfig(), WithOnClose(func(*Session, error) { calls.Add(1) }))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, protocol.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	if calls.Load() != 1 {
		t.Fatalf("onClose ran %d times", calls.Load())
	}
	if err := s.Send(protocol.EncodeHello(1)); !errors.Is(err, protocol.ErrClosed) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestSessionContextCancel(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(3, server, testConfig())
	s.Start(ctx)
	cancel()
	if err := waitClosed(t, s); !errors.Is(err, protocol.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestSessionSendRejectsBadLength(t *testing.T) {
	testlog.Start(t)
	s, _ := startSession(t, testConfig())
	if err := s.Send(nil); !errors.Is(err, protocol.ErrBadLength) {
		t.Fatalf("expected ErrBadLength for empty body, got %v", err)
	}
}
