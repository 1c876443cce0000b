// Package pubsub defines how taxis receive ride requests for their district
// and publish ride confirmations. Delivery is at-least-once: handlers must
// tolerate duplicates.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/seta/core/model"
)

// ErrNotSubscribed is returned when unsubscribing from a district that has
// no active subscription.
var ErrNotSubscribed = errors.New("not subscribed")

// RideHandler receives a ride published on a district topic.
type RideHandler func(ride model.RideRequest)

// ConfirmationHandler receives ride confirmations.
type ConfirmationHandler func(c model.Confirmation)

// RideSource is the taxi side of the district pub/sub.
type RideSource interface {
	Subscribe(district model.District, h RideHandler) error
	Unsubscribe(district model.District) error
	PublishConfirmation(ctx context.Context, c model.Confirmation) error
}

// RidePublisher is the generator side of the district pub/sub.
type RidePublisher interface {
	PublishRide(ctx context.Context, ride model.RideRequest) error
	SubscribeConfirmations(h ConfirmationHandler) error
}

// RideTopic returns the topic carrying rides that start in d.
func RideTopic(prefix string, d model.District) string {
	return fmt.Sprintf("%s/rides/%s", prefix, d)
}

// ConfirmationTopic returns the topic carrying ride confirmations.
func ConfirmationTopic(prefix string) string {
	return prefix + "/rides/confirmations"
}
