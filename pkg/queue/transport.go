package queue

import (
	"context"
	"sync"
	"time"
)

// Transport moves messages between producers and consumers. Receive hands out
// a message that stays owned by the caller until Acknowledge or Reject.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	// Receive waits up to timeout and returns nil, nil when nothing arrived
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)
	Acknowledge(ctx context.Context, msg *Message) error
	// Reject drops msg, or puts it back with one more attempt when requeue is set
	Reject(ctx context.Context, msg *Message, requeue bool) error
	Close() error
}

// MemoryTransport is an in-process Transport. It keeps every acknowledged
// and dead-lettered message for inspection.
type MemoryTransport struct {
	ch     chan *Message
	mu     sync.Mutex
	acked  []*Message
	dead   []*Message
	closed bool
	done   chan struct{}
}

// NewMemoryTransport creates a transport buffering up to size messages
func NewMemoryTransport(size int) *MemoryTransport {
	if size <= 0 {
		size = 1024
	}
	return &MemoryTransport{
		ch:   make(chan *Message, size),
		done: make(chan struct{}),
	}
}

func (t *MemoryTransport) Send(ctx context.Context, msg *Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	select {
	case t.ch <- msg:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MemoryTransport) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-t.ch:
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-t.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Acknowledge(ctx context.Context, msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acked = append(t.acked, msg)
	return nil
}

func (t *MemoryTransport) Reject(ctx context.Context, msg *Message, requeue bool) error {
	if requeue {
		retry := *msg
		retry.Attempts++
		return t.Send(ctx, &retry)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = append(t.dead, msg)
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// Pending returns the number of messages waiting to be received
func (t *MemoryTransport) Pending() int {
	return len(t.ch)
}

// Acked returns the acknowledged messages in acknowledgement order
func (t *MemoryTransport) Acked() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Message(nil), t.acked...)
}

// Dead returns the rejected messages in rejection order
func (t *MemoryTransport) Dead() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Message(nil), t.dead...)
}
