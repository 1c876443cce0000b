// Package ring implements the per-district logical ring taxis use to pass
// election tokens: connections to remote taxis, the ring topology derived
// from them and the RPC contract exchanged between taxis.
package ring

import (
	"context"
	"errors"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
)

// ErrClosed is returned when a ring operation is attempted on a peer whose
// channel is closed because it lives in another district.
var ErrClosed = errors.New("ring: peer channel closed")

// Announcement carries the identity and position of the announcing taxi.
type Announcement struct {
	Taxi     model.TaxiIdentity
	Position model.Position
}

// ElectionToken is the message forwarded hop by hop around a ring.
type ElectionToken struct {
	From      int
	Ride      model.RideRequest
	Candidate election.Candidate
}

// Client is the caller side of the ring RPC surface.
type Client interface {
	// AnnounceSelf presents a new taxi and returns the remote position.
	AnnounceSelf(ctx context.Context, a Announcement) (model.Position, error)
	AnnounceDistrictChange(ctx context.Context, a Announcement) error
	AnnounceDeparture(ctx context.Context, taxiID int) error
	// ForwardElection hands the token to the next taxi. retry is true when
	// the remote does not consider the caller its ring predecessor.
	ForwardElection(ctx context.Context, tok ElectionToken) (retry bool, err error)
	AnnounceElected(ctx context.Context, rideID int, winner election.Candidate) error
	// RequestRechargeApproval asks for the station. A denial carries the
	// timestamp of the remote hold the requester must wait for.
	RequestRechargeApproval(ctx context.Context, requester int, ts int64) (ok bool, hold int64, err error)
	// AnnounceRechargeFree ends the hold with timestamp hold.
	AnnounceRechargeFree(ctx context.Context, from int, hold int64) error
	Close() error
}

// Dialer opens a Client towards a remote taxi.
type Dialer interface {
	Dial(ctx context.Context, to model.TaxiIdentity) (Client, error)
}

// Handler is the serving side of the ring RPC surface, implemented by a taxi.
type Handler interface {
	HandleAnnounceSelf(ctx context.Context, a Announcement) (model.Position, error)
	HandleDistrictChange(ctx context.Context, a Announcement) error
	HandleDeparture(ctx context.Context, taxiID int) error
	HandleForwardElection(ctx context.Context, tok ElectionToken) (bool, error)
	HandleElected(ctx context.Context, rideID int, winner election.Candidate) error
	HandleRechargeApproval(ctx context.Context, requester int, ts int64) (bool, int64, error)
	HandleRechargeFree(ctx context.Context, from int, hold int64) error
}

// Server exposes a Handler to remote taxis.
type Server interface {
	Serve(h Handler) error
	Close() error
}
