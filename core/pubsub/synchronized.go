package pubsub

import (
	"context"
	"sync"

	"github.com/kilianp07/seta/core/model"
)

// Synchronized serializes every call to the wrapped RideSource. Ride
// handlers are called by the wrapped source and never hold the lock.
type Synchronized struct {
	mu    sync.Mutex
	inner RideSource
}

// NewSynchronized wraps inner.
func NewSynchronized(inner RideSource) *Synchronized {
	return &Synchronized{inner: inner}
}

func (s *Synchronized) Subscribe(d model.District, h RideHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Subscribe(d, h)
}

func (s *Synchronized) Unsubscribe(d model.District) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Unsubscribe(d)
}

func (s *Synchronized) PublishConfirmation(ctx context.Context, c model.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.PublishConfirmation(ctx, c)
}
