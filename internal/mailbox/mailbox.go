// Package mailbox provides an unbounded FIFO queue consumed by a single
// goroutine. Producers never block, which lets request handlers hand work
// to a processing loop without waiting on it.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the mailbox is closed and drained.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded queue of T.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Push appends v. It reports false when the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest item, waiting until one is available, the context
// ends or the mailbox is closed and empty.
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-m.notify:
		}
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close rejects further pushes. Queued items can still be popped.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
