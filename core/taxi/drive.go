package taxi

import (
	"context"

	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/ring"
)

// completeRide delivers a ride: the taxi drives from its position to the
// ride start and then to its end.
func (n *Node) completeRide(ride model.RideRequest) {
	n.mu.Lock()
	if n.status != model.StatusDriving {
		n.mu.Unlock()
		return
	}
	from := n.districtLocked()
	km := model.Distance(n.position, ride.Start) + ride.Length()
	n.kilometers += km
	n.battery -= km * n.cfg.ConsumptionPerUnit
	if n.battery < 0 {
		n.battery = 0
	}
	n.rideCount++
	n.position = ride.End
	to := n.districtLocked()
	if n.battery < n.cfg.RechargeThreshold {
		n.wantRecharge = true
	}

	var (
		moved bool
		self  ring.Announcement
		known []*ring.Peer
	)
	if from != to {
		moved = true
		n.moving = true
		self = ring.Announcement{Taxi: n.cfg.Identity, Position: n.position}
		known = n.changeDistrictLocked(to)
	}

	needStation := n.wantRecharge && !n.closing
	var (
		ts      int64
		members []*ring.Peer
	)
	if needStation && !moved {
		ts, members = n.beginRechargeLocked()
	} else {
		n.setStatusLocked(model.StatusAvailable)
	}
	n.mu.Unlock()

	n.log.Infof("taxi %d: delivered %s, %.1f km, battery %.1f%%", n.ID(), ride, km, n.Battery())
	if moved {
		n.moveTo(from, to, self, known)
		if needStation {
			n.retryRecharge()
		}
		return
	}
	if needStation {
		n.runRecharge(ts, members)
	}
}

// changeDistrictLocked forgets the elections of the old district and
// re-evaluates every peer channel against the new one.
func (n *Node) changeDistrictLocked(to model.District) []*ring.Peer {
	n.elections.Clear()
	known := n.peers.All()
	for _, p := range known {
		p.SetDistrict(p.District(), to)
	}
	return known
}

// moveTo switches the ride subscription and announces the new position to
// every known taxi.
func (n *Node) moveTo(from, to model.District, self ring.Announcement, known []*ring.Peer) {
	n.log.Infof("taxi %d: moved from %s to %s", n.ID(), from, to)
	if err := n.rides.Unsubscribe(from); err != nil {
		n.log.Warnf("taxi %d: unsubscribe %s: %v", n.ID(), from, err)
	}
	if err := n.rides.Subscribe(to, n.onRide); err != nil {
		n.log.Errorf("taxi %d: subscribe %s: %v", n.ID(), to, err)
	}
	for _, p := range known {
		ctx, cancel := context.WithTimeout(n.runCtx, n.cfg.CallTimeout)
		if err := p.AnnounceDistrictChange(ctx, self, to); err != nil {
			n.log.Warnf("taxi %d: %v", n.ID(), err)
		}
		cancel()
	}
	n.mu.Lock()
	n.subscribed = to
	n.moving = false
	n.idle.Broadcast()
	n.mu.Unlock()
}
