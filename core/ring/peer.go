package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
)

// Peer is the local handle on a remote taxi. Its channel is open exactly
// when the remote is known to be in the local taxi's district. An open
// channel is dialed lazily on first use and kept until the channel closes.
type Peer struct {
	identity model.TaxiIdentity
	dialer   Dialer

	mu       sync.Mutex
	district model.District
	open     bool
	client   Client
}

// NewPeer creates a closed peer with an unknown district.
func NewPeer(identity model.TaxiIdentity, dialer Dialer) *Peer {
	return &Peer{identity: identity, dialer: dialer}
}

// Identity returns the remote identity.
func (p *Peer) Identity() model.TaxiIdentity { return p.identity }

// ID returns the remote taxi id.
func (p *Peer) ID() int { return p.identity.ID }

// District returns the last known district of the remote.
func (p *Peer) District() model.District {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.district
}

// IsOpen reports whether the channel is open.
func (p *Peer) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// SetDistrict records the remote district and opens or closes the channel
// depending on whether it matches local.
func (p *Peer) SetDistrict(d, local model.District) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.district = d
	if d == local && d.Valid() {
		p.open = true
		return
	}
	p.closeLocked()
}

// Close closes the channel.
func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Peer) closeLocked() error {
	p.open = false
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// channel returns the cached client of an open channel, dialing it if needed.
// The dial runs without the lock; a client dialed concurrently or after the
// channel closed is discarded.
func (p *Peer) channel(ctx context.Context) (Client, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil, fmt.Errorf("taxi %d: %w", p.identity.ID, ErrClosed)
	}
	if p.client != nil {
		c := p.client
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.dialer.Dial(ctx, p.identity)
	if err != nil {
		return nil, fmt.Errorf("dial taxi %d: %w", p.identity.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.open:
		_ = c.Close()
		return nil, fmt.Errorf("taxi %d: %w", p.identity.ID, ErrClosed)
	case p.client != nil:
		_ = c.Close()
		return p.client, nil
	}
	p.client = c
	return c, nil
}

// invalidate drops a cached client after a transport failure so the next
// call redials.
func (p *Peer) invalidate(c Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == c {
		_ = c.Close()
		p.client = nil
	}
}

// withChannel runs fn on the open channel, or on a temporary connection when
// the channel is closed.
func (p *Peer) withChannel(ctx context.Context, fn func(Client) error) error {
	c, err := p.channel(ctx)
	if err == nil {
		if err := fn(c); err != nil {
			p.invalidate(c)
			return err
		}
		return nil
	}
	if !errors.Is(err, ErrClosed) {
		return err
	}
	c, err = p.dialer.Dial(ctx, p.identity)
	if err != nil {
		return fmt.Errorf("dial taxi %d: %w", p.identity.ID, err)
	}
	defer c.Close()
	return fn(c)
}

// onChannel runs fn on the open channel only.
func (p *Peer) onChannel(ctx context.Context, fn func(Client) error) error {
	c, err := p.channel(ctx)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		p.invalidate(c)
		return err
	}
	return nil
}

// AnnounceSelf presents the local taxi to the remote, learns the remote
// position and re-evaluates the channel from it.
func (p *Peer) AnnounceSelf(ctx context.Context, a Announcement, city model.City, local model.District) (model.Position, error) {
	var pos model.Position
	err := p.withChannel(ctx, func(c Client) error {
		var err error
		pos, err = c.AnnounceSelf(ctx, a)
		return err
	})
	if err != nil {
		return model.Position{}, fmt.Errorf("announce to taxi %d: %w", p.identity.ID, err)
	}
	p.SetDistrict(city.DistrictOf(pos), local)
	return pos, nil
}

// AnnounceDistrictChange sends the new local position and re-evaluates the
// channel against the new local district.
func (p *Peer) AnnounceDistrictChange(ctx context.Context, a Announcement, local model.District) error {
	err := p.withChannel(ctx, func(c Client) error {
		return c.AnnounceDistrictChange(ctx, a)
	})
	p.SetDistrict(p.District(), local)
	if err != nil {
		return fmt.Errorf("district change to taxi %d: %w", p.identity.ID, err)
	}
	return nil
}

// AnnounceDeparture tells the remote the local taxi is leaving and closes
// the channel.
func (p *Peer) AnnounceDeparture(ctx context.Context, selfID int) error {
	err := p.withChannel(ctx, func(c Client) error {
		return c.AnnounceDeparture(ctx, selfID)
	})
	if cerr := p.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("departure to taxi %d: %w", p.identity.ID, err)
	}
	return nil
}

// ForwardElection passes the token to the remote.
func (p *Peer) ForwardElection(ctx context.Context, tok ElectionToken) (bool, error) {
	var retry bool
	err := p.onChannel(ctx, func(c Client) error {
		var err error
		retry, err = c.ForwardElection(ctx, tok)
		return err
	})
	return retry, err
}

// AnnounceElected notifies the remote that winner took the ride.
func (p *Peer) AnnounceElected(ctx context.Context, rideID int, winner election.Candidate) error {
	return p.onChannel(ctx, func(c Client) error {
		return c.AnnounceElected(ctx, rideID, winner)
	})
}

// RequestRechargeApproval asks the remote whether the local taxi may use the
// station.
func (p *Peer) RequestRechargeApproval(ctx context.Context, requester int, ts int64) (bool, int64, error) {
	var (
		ok   bool
		hold int64
	)
	err := p.onChannel(ctx, func(c Client) error {
		var err error
		ok, hold, err = c.RequestRechargeApproval(ctx, requester, ts)
		return err
	})
	return ok, hold, err
}

// AnnounceRechargeFree notifies the remote that the station is free. The
// remote may be owed a reply from before it left the district, so a closed
// channel falls back to a temporary connection.
func (p *Peer) AnnounceRechargeFree(ctx context.Context, from int, hold int64) error {
	return p.withChannel(ctx, func(c Client) error {
		return c.AnnounceRechargeFree(ctx, from, hold)
	})
}
