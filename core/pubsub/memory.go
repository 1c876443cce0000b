package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/seta/core/model"
)

// ErrBrokerClosed is returned by a closed MemoryBroker.
var ErrBrokerClosed = errors.New("broker closed")

// MemoryBroker is an in-process broker used by the fleet simulation and by
// tests. Handlers run synchronously on the publishing goroutine.
type MemoryBroker struct {
	city     model.City
	mu       sync.RWMutex
	rides    map[model.District]map[int]RideHandler
	confirms []ConfirmationHandler
	closed   bool
}

// NewMemoryBroker returns an empty broker routing rides over city.
func NewMemoryBroker(city model.City) *MemoryBroker {
	return &MemoryBroker{city: city, rides: make(map[model.District]map[int]RideHandler)}
}

// Client returns the RideSource view of the broker used by taxi id.
func (b *MemoryBroker) Client(taxiID int) RideSource {
	return &memoryClient{broker: b, taxiID: taxiID}
}

// PublishRide delivers ride to every taxi subscribed to the district of
// its start position.
func (b *MemoryBroker) PublishRide(_ context.Context, ride model.RideRequest) error {
	return b.publishRide(b.city.DistrictOf(ride.Start), ride)
}

// PublishRideIn delivers ride to the subscribers of d.
func (b *MemoryBroker) PublishRideIn(d model.District, ride model.RideRequest) error {
	return b.publishRide(d, ride)
}

func (b *MemoryBroker) publishRide(d model.District, ride model.RideRequest) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := make([]RideHandler, 0, len(b.rides[d]))
	for _, h := range b.rides[d] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ride)
	}
	return nil
}

// SubscribeConfirmations registers h for every published confirmation.
func (b *MemoryBroker) SubscribeConfirmations(h ConfirmationHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.confirms = append(b.confirms, h)
	return nil
}

// Subscribers returns how many taxis listen on d.
func (b *MemoryBroker) Subscribers(d model.District) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rides[d])
}

// Close drops every subscription.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.rides = make(map[model.District]map[int]RideHandler)
	b.confirms = nil
}

type memoryClient struct {
	broker *MemoryBroker
	taxiID int
}

func (c *memoryClient) Subscribe(d model.District, h RideHandler) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	subs, ok := b.rides[d]
	if !ok {
		subs = make(map[int]RideHandler)
		b.rides[d] = subs
	}
	subs[c.taxiID] = h
	return nil
}

func (c *memoryClient) Unsubscribe(d model.District) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rides[d][c.taxiID]; !ok {
		return ErrNotSubscribed
	}
	delete(b.rides[d], c.taxiID)
	return nil
}

func (c *memoryClient) PublishConfirmation(_ context.Context, conf model.Confirmation) error {
	b := c.broker
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := append([]ConfirmationHandler(nil), b.confirms...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(conf)
	}
	return nil
}
