package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/seta/core/model"
)

func TestMemoryBroker_RoutesByStartDistrict(t *testing.T) {
	b := NewMemoryBroker(model.DefaultCity)
	var got1, got3 []int
	require.NoError(t, b.Client(1).Subscribe(model.District1, func(r model.RideRequest) { got1 = append(got1, r.ID) }))
	require.NoError(t, b.Client(3).Subscribe(model.District3, func(r model.RideRequest) { got3 = append(got3, r.ID) }))

	require.NoError(t, b.PublishRide(context.Background(), model.RideRequest{ID: 7, Start: model.Position{X: 1, Y: 1}, End: model.Position{X: 2, Y: 2}}))
	require.NoError(t, b.PublishRide(context.Background(), model.RideRequest{ID: 8, Start: model.Position{X: 8, Y: 8}, End: model.Position{X: 2, Y: 2}}))

	assert.Equal(t, []int{7}, got1)
	assert.Equal(t, []int{8}, got3)
}

func TestMemoryBroker_Unsubscribe(t *testing.T) {
	b := NewMemoryBroker(model.DefaultCity)
	c := b.Client(1)
	require.NoError(t, c.Subscribe(model.District2, func(model.RideRequest) {}))
	assert.Equal(t, 1, b.Subscribers(model.District2))
	require.NoError(t, c.Unsubscribe(model.District2))
	assert.Equal(t, 0, b.Subscribers(model.District2))
	assert.ErrorIs(t, c.Unsubscribe(model.District2), ErrNotSubscribed)
}

func TestMemoryBroker_Confirmations(t *testing.T) {
	b := NewMemoryBroker(model.DefaultCity)
	var got []model.Confirmation
	require.NoError(t, b.SubscribeConfirmations(func(c model.Confirmation) { got = append(got, c) }))
	require.NoError(t, b.Client(4).PublishConfirmation(context.Background(), model.Confirmation{RideID: 1, TaxiID: 4, Timestamp: time.Now()}))
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].TaxiID)

	b.Close()
	assert.ErrorIs(t, b.Client(4).PublishConfirmation(context.Background(), model.Confirmation{}), ErrBrokerClosed)
}

func TestSynchronized_ConcurrentUse(t *testing.T) {
	b := NewMemoryBroker(model.DefaultCity)
	s := NewSynchronized(b.Client(1))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(d model.District) {
			defer wg.Done()
			_ = s.Subscribe(d, func(model.RideRequest) {})
			_ = s.PublishConfirmation(context.Background(), model.Confirmation{RideID: 1})
			_ = s.Unsubscribe(d)
		}(model.Districts[i%len(model.Districts)])
	}
	wg.Wait()
	for _, d := range model.Districts {
		assert.Equal(t, 0, b.Subscribers(d))
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "seta/rides/district2", RideTopic("seta", model.District2))
	assert.Equal(t, "seta/rides/confirmations", ConfirmationTopic("seta"))
}
