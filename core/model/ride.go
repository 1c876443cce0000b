package model

import (
	"fmt"
	"time"
)

// RideRequest is a ride published by the generator on a district topic.
type RideRequest struct {
	ID        int       `json:"id"`
	Start     Position  `json:"start"`
	End       Position  `json:"end"`
	Timestamp time.Time `json:"timestamp"`
}

// String returns a short description used in logs.
func (r RideRequest) String() string {
	return fmt.Sprintf("ride#%d %s->%s", r.ID, r.Start, r.End)
}

// Length is the distance between the ride start and end.
func (r RideRequest) Length() float64 { return Distance(r.Start, r.End) }

// Validate checks that the ride lies inside the city and actually moves.
func (r RideRequest) Validate(c City) error {
	if !c.Contains(r.Start) || !c.Contains(r.End) {
		return fmt.Errorf("ride %d outside city bounds", r.ID)
	}
	if r.Start == r.End {
		return fmt.Errorf("ride %d starts where it ends", r.ID)
	}
	return nil
}

// Confirmation is published by the taxi that won the election for a ride.
type Confirmation struct {
	RideID    int       `json:"ride_id"`
	TaxiID    int       `json:"taxi_id"`
	Timestamp time.Time `json:"timestamp"`
}
