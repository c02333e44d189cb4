package session

import (
	"fmt"
	"sync"

	"github.com/danmuck/swiftwire/internal/protocol"
)

// Outbox is the FIFO of encoded frames waiting for the session writer. Pending
// counts every queued byte, including the frame currently being written, until
// Pop releases it.
type Outbox struct {
	mu      sync.Mutex
	frames  [][]byte
	pending int
	limit   int
	ready   chan struct{}
}

func NewOutbox(limit int) *Outbox {
	return &Outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends buf. A push that would take pending past the limit is refused
// with ErrWriteQueueOverflow; reaching the limit exactly is allowed.
func (o *Outbox) Push(buf []byte) (int, error) {
	o.mu.Lock()
	next := o.pending + len(buf)
	if next > o.limit {
		o.mu.Unlock()
		return next, fmt.Errorf("%w: pending=%d limit=%d", protocol.ErrWriteQueueOverflow, next, o.limit)
	}
	o.frames = append(o.frames, buf)
	o.pending = next
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return next, nil
}

// Head returns the oldest frame without removing it.
func (o *Outbox) Head() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return nil, false
	}
	return o.frames[0], true
}

// Pop drops the head after it has been written.
func (o *Outbox) Pop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return
	}
	o.pending -= len(o.frames[0])
	o.frames[0] = nil
	o.frames = o.frames[1:]
	if len(o.frames) == 0 {
		o.frames = nil
	}
}

func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

// Ready is signalled after every successful Push.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}
