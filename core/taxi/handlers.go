package taxi

import (
	"context"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/recharge"
	"github.com/kilianp07/seta/core/ring"
)

var _ ring.Handler = (*Node)(nil)

// HandleAnnounceSelf registers a taxi that joined the fleet and returns the
// local position.
func (n *Node) HandleAnnounceSelf(_ context.Context, a ring.Announcement) (model.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.learnPeerLocked(a)
	n.log.Debugf("taxi %d: taxi %d joined at %s", n.ID(), a.Taxi.ID, a.Position)
	return n.position, nil
}

// HandleDistrictChange updates the district of a peer.
func (n *Node) HandleDistrictChange(_ context.Context, a ring.Announcement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.learnPeerLocked(a)
	n.log.Debugf("taxi %d: taxi %d moved to %s", n.ID(), a.Taxi.ID, n.cfg.City.DistrictOf(a.Position))
	return nil
}

// learnPeerLocked applies an announcement to the peer table, repairing the
// ring when the peer was the successor and left the local district.
func (n *Node) learnPeerLocked(a ring.Announcement) {
	if a.Taxi.ID == n.ID() {
		return
	}
	local := n.districtLocked()
	before := n.peers.Next(n.ID(), local)
	p, ok := n.peers.Get(a.Taxi.ID)
	if !ok || p.Identity() != a.Taxi {
		if ok {
			_ = p.Close()
		}
		p = ring.NewPeer(a.Taxi, n.dialer)
		n.peers.Put(p)
	}
	p.SetDistrict(n.cfg.City.DistrictOf(a.Position), local)
	if p.District() != local {
		n.forgetStationPeerLocked(p.ID())
	}
	n.repairIfSuccessorLeftLocked(before, local)
}

// HandleDeparture removes a taxi leaving the fleet.
func (n *Node) HandleDeparture(_ context.Context, taxiID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	local := n.districtLocked()
	before := n.peers.Next(n.ID(), local)
	p := n.peers.Remove(taxiID)
	if p == nil {
		return nil
	}
	_ = p.Close()
	n.forgetStationPeerLocked(taxiID)
	n.repairIfSuccessorLeftLocked(before, local)
	n.log.Debugf("taxi %d: taxi %d left", n.ID(), taxiID)
	return nil
}

func (n *Node) repairIfSuccessorLeftLocked(before *ring.Peer, local model.District) {
	if before == nil || n.status == model.StatusUnstarted {
		return
	}
	if cur, ok := n.peers.Get(before.ID()); ok && cur == before && before.District() == local {
		return
	}
	n.inbox.Push(message{kind: msgRepair})
}

// forgetStationPeerLocked stops waiting on a peer that can no longer hold
// the local station.
func (n *Node) forgetStationPeerLocked(id int) {
	n.recharge.Forget(id)
	n.grantLocked()
}

// HandleForwardElection accepts a token from the ring predecessor. Tokens
// from any other taxi are refused with retry so the sender recomputes its
// successor.
func (n *Node) HandleForwardElection(_ context.Context, tok ring.ElectionToken) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status == model.StatusUnstarted {
		return true, nil
	}
	pred := n.peers.Predecessor(n.ID(), n.districtLocked())
	if pred == nil || pred.ID() != tok.From {
		return true, nil
	}
	n.inbox.Push(message{kind: msgElection, ride: tok.Ride, candidate: tok.Candidate})
	return false, nil
}

// HandleElected queues the result of an election.
func (n *Node) HandleElected(_ context.Context, rideID int, winner election.Candidate) error {
	n.inbox.Push(message{kind: msgElected, ride: model.RideRequest{ID: rideID}, candidate: winner})
	return nil
}

// HandleRechargeApproval answers a station request. The requester is
// approved unless the local taxi holds the station or asked for it first;
// a denial returns the timestamp of the local hold.
func (n *Node) HandleRechargeApproval(_ context.Context, requester int, ts int64) (bool, int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recharge.Observe(ts)
	if !n.status.InterestedInStation() {
		return true, 0, nil
	}
	if n.status == model.StatusWaitingToRecharge && recharge.Precedes(ts, requester, n.recharge.Timestamp, n.ID()) {
		return true, 0, nil
	}
	n.recharge.Defer(requester)
	return false, n.recharge.Timestamp, nil
}

// HandleRechargeFree queues a "station free" notification for the hold
// with timestamp hold.
func (n *Node) HandleRechargeFree(_ context.Context, from int, hold int64) error {
	n.inbox.Push(message{kind: msgRechargeFree, from: from, hold: hold})
	return nil
}
