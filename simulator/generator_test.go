package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/pubsub"
	"github.com/kilianp07/seta/infra/logger"
)

type recordingPublisher struct {
	mu       sync.Mutex
	rides    []model.RideRequest
	handlers []pubsub.ConfirmationHandler
}

func (p *recordingPublisher) PublishRide(_ context.Context, r model.RideRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rides = append(p.rides, r)
	return nil
}

func (p *recordingPublisher) SubscribeConfirmations(h pubsub.ConfirmationHandler) error {
	p.handlers = append(p.handlers, h)
	return nil
}

func (p *recordingPublisher) confirm(c model.Confirmation) {
	for _, h := range p.handlers {
		h(c)
	}
}

func TestGenerator_NewRideInsideCity(t *testing.T) {
	g := NewGenerator(&recordingPublisher{}, GeneratorConfig{City: model.City{Width: 2, Height: 1}, Seed: 7}, logger.NopLogger{})
	for i := 0; i < 50; i++ {
		r := g.NewRide()
		assert.Equal(t, i, r.ID)
		require.NoError(t, r.Validate(model.City{Width: 2, Height: 1}))
	}
}

func TestGenerator_ResendsUnconfirmed(t *testing.T) {
	pub := &recordingPublisher{}
	g := NewGenerator(pub, GeneratorConfig{ResendAfter: 10 * time.Second, Seed: 1}, logger.NopLogger{})
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }
	require.NoError(t, g.Listen())
	ctx := context.Background()

	first, err := g.Publish(ctx)
	require.NoError(t, err)
	second, err := g.Publish(ctx)
	require.NoError(t, err)

	pub.confirm(model.Confirmation{RideID: first.ID, TaxiID: 3})
	pub.confirm(model.Confirmation{RideID: first.ID, TaxiID: 3})

	n, err := g.ResendDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(10 * time.Second)
	n, err = g.ResendDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, pub.rides, 3)
	resent := pub.rides[2]
	assert.Equal(t, second.ID, resent.ID)
	assert.Equal(t, second.Start, resent.Start)
	assert.True(t, resent.Timestamp.After(second.Timestamp))

	assert.Equal(t, GeneratorStats{Published: 2, Resent: 1, Confirmed: 1, Pending: 1}, g.Stats())
}
