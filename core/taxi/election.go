package taxi

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/monitoring"
	"github.com/kilianp07/seta/core/ring"
)

type messageKind int

const (
	msgElection messageKind = iota
	msgElected
	msgRepair
	msgRechargeFree
)

// message is an item of the processor queue.
type message struct {
	kind      messageKind
	ride      model.RideRequest
	candidate election.Candidate
	// local marks rides received on the district topic.
	local bool
	from  int
	// hold is the timestamp of the station hold a free ends.
	hold int64
}

// forwarding is a token the processor must pass on once the lock is
// released. seq pins the record version the token was computed from.
type forwarding struct {
	rideID int
	seq    uint64
}

func (n *Node) process(ctx context.Context) {
	defer close(n.procDone)
	defer monitoring.Recover()
	for {
		m, err := n.inbox.Pop(ctx)
		if err != nil {
			return
		}
		switch m.kind {
		case msgElection:
			n.handleElection(ctx, m)
		case msgElected:
			n.handleElected(ctx, m.ride.ID, m.candidate)
		case msgRepair:
			n.handleRepair(ctx)
		case msgRechargeFree:
			n.handleRechargeFree(m.from, m.hold)
		}
	}
}

// competingLocked reports whether the taxi takes part in elections as a
// candidate rather than as a passive relay.
func (n *Node) competingLocked() bool {
	return n.status == model.StatusAvailable && !n.closing
}

func (n *Node) handleElection(ctx context.Context, m message) {
	ride := m.ride
	n.mu.Lock()
	if n.status == model.StatusUnstarted {
		n.mu.Unlock()
		return
	}
	if n.cfg.City.DistrictOf(ride.Start) != n.districtLocked() {
		n.mu.Unlock()
		n.log.Debugf("taxi %d: dropping %s outside %s", n.ID(), ride, n.District())
		n.recordElection(ride.ID, metrics.ActionDropped)
		return
	}
	rec, participant := n.elections.Get(ride.ID)
	if participant && rec.Phase == election.PhaseElected {
		n.mu.Unlock()
		return
	}

	var next *forwarding
	win := false
	if m.local {
		if participant {
			if !ride.Timestamp.After(rec.Ride.Timestamp) {
				n.mu.Unlock()
				return
			}
			n.log.Debugf("taxi %d: %s resent, restarting election", n.ID(), ride)
			n.elections.Forget(ride.ID)
		}
		if !n.competingLocked() {
			n.mu.Unlock()
			return
		}
		r := n.elections.Propose(ride, n.candidateLocked(ride))
		next = &forwarding{rideID: ride.ID, seq: r.Seq}
	} else {
		next, win = n.electionStepLocked(ride, m.candidate, rec, participant)
	}
	n.mu.Unlock()

	switch {
	case win:
		n.win(ctx, ride.ID)
	case next != nil:
		n.forward(ctx, *next)
	}
}

// electionStepLocked applies a token received from the ring predecessor.
func (n *Node) electionStepLocked(ride model.RideRequest, received election.Candidate, rec election.Record, participant bool) (*forwarding, bool) {
	self := n.ID()
	if !n.competingLocked() {
		if participant && (rec.Leader.Same(received) || received.TaxiID == self) {
			return nil, false
		}
		r := n.elections.Propose(ride, received)
		return &forwarding{rideID: ride.ID, seq: r.Seq}, false
	}
	if !participant {
		leader := election.Max(n.candidateLocked(ride), received)
		r := n.elections.Propose(ride, leader)
		return &forwarding{rideID: ride.ID, seq: r.Seq}, false
	}
	switch {
	case received.Same(rec.Leader):
		if received.TaxiID == self {
			return nil, true
		}
		// A full circle with nobody claiming the ride.
		r := n.elections.Propose(ride, n.candidateLocked(ride))
		n.recordElection(ride.ID, metrics.ActionRestarted)
		return &forwarding{rideID: ride.ID, seq: r.Seq}, false
	case received.IsGreaterThan(rec.Leader):
		r := n.elections.Propose(ride, received)
		return &forwarding{rideID: ride.ID, seq: r.Seq}, false
	}
	return nil, false
}

// handleElected records the winner of a ride and restarts the elections the
// winner was leading, since it cannot take a second ride.
func (n *Node) handleElected(ctx context.Context, rideID int, winner election.Candidate) {
	n.mu.Lock()
	if n.status == model.StatusUnstarted {
		n.mu.Unlock()
		return
	}
	if !n.elections.Elect(rideID, winner) {
		n.mu.Unlock()
		return
	}
	var restarts []forwarding
	if n.competingLocked() {
		for _, id := range n.elections.LedBy(winner.TaxiID) {
			rec, _ := n.elections.Get(id)
			r := n.elections.Propose(rec.Ride, n.candidateLocked(rec.Ride))
			restarts = append(restarts, forwarding{rideID: id, seq: r.Seq})
		}
	}
	n.mu.Unlock()

	n.log.Debugf("taxi %d: ride %d taken by taxi %d", n.ID(), rideID, winner.TaxiID)
	for _, f := range restarts {
		n.recordElection(f.rideID, metrics.ActionRestarted)
		n.forward(ctx, f)
	}
}

// handleRepair re-forwards every open election after the ring successor
// changed under a token.
func (n *Node) handleRepair(ctx context.Context) {
	n.mu.Lock()
	if n.status == model.StatusUnstarted {
		n.mu.Unlock()
		return
	}
	var pending []forwarding
	for _, id := range n.elections.Pending() {
		rec, _ := n.elections.Get(id)
		pending = append(pending, forwarding{rideID: id, seq: rec.Seq})
	}
	n.mu.Unlock()
	for _, f := range pending {
		n.recordElection(f.rideID, metrics.ActionRepaired)
		n.forward(ctx, f)
	}
}

// forward passes the token of a ride to the ring successor. A stale hop is
// retried against a freshly computed successor until the record changes or
// the retry budget is spent.
func (n *Node) forward(ctx context.Context, f forwarding) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = n.cfg.ForwardRetryTimeout
	bo.Reset()

	for {
		n.mu.Lock()
		rec, ok := n.elections.Get(f.rideID)
		if !ok || rec.Seq != f.seq || rec.Phase != election.PhaseElection || n.status == model.StatusUnstarted {
			n.mu.Unlock()
			return
		}
		next := n.peers.Next(n.ID(), n.districtLocked())
		if next == nil {
			competing := n.competingLocked()
			n.mu.Unlock()
			if competing {
				n.win(ctx, f.rideID)
				return
			}
			n.log.Debugf("taxi %d: no ring member for ride %d, dropping token", n.ID(), f.rideID)
			n.recordElection(f.rideID, metrics.ActionDropped)
			return
		}
		tok := ring.ElectionToken{From: n.ID(), Ride: rec.Ride, Candidate: rec.Leader}
		n.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
		retry, err := next.ForwardElection(callCtx, tok)
		cancel()
		switch {
		case err == nil && !retry:
			n.recordElection(f.rideID, metrics.ActionForwarded)
			return
		case err != nil && !errors.Is(err, ring.ErrClosed):
			n.log.Warnf("taxi %d: forwarding ride %d to taxi %d: %v", n.ID(), f.rideID, next.ID(), err)
			n.recordElection(f.rideID, metrics.ActionDropped)
			return
		}
		n.recordElection(f.rideID, metrics.ActionRetry)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			n.log.Warnf("taxi %d: giving up forwarding ride %d", n.ID(), f.rideID)
			n.recordElection(f.rideID, metrics.ActionDropped)
			return
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// win takes the ride: the record becomes ELECTED, the taxi starts driving,
// the confirmation is published and the ring members are told.
func (n *Node) win(ctx context.Context, rideID int) {
	n.mu.Lock()
	rec, ok := n.elections.Get(rideID)
	if !ok || rec.Phase != election.PhaseElection || !n.competingLocked() {
		n.mu.Unlock()
		return
	}
	ride := rec.Ride
	self := n.candidateLocked(ride)
	n.elections.Elect(rideID, self)
	n.setStatusLocked(model.StatusDriving)
	members := n.peers.Members(n.districtLocked())
	n.sched.After(n.cfg.RideDelay, func() { n.completeRide(ride) })
	n.mu.Unlock()

	n.log.Infof("taxi %d: took %s", n.ID(), ride)
	n.recordElection(rideID, metrics.ActionWon)

	pubCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
	err := n.rides.PublishConfirmation(pubCtx, model.Confirmation{RideID: rideID, TaxiID: n.ID(), Timestamp: n.clock()})
	cancel()
	if err != nil {
		n.log.Errorf("taxi %d: confirm ride %d: %v", n.ID(), rideID, err)
		monitoring.CaptureException(err, map[string]string{"operation": "confirm_ride"})
	}

	for _, p := range members {
		n.goAsync(func() {
			callCtx, cancel := context.WithTimeout(n.runCtx, n.cfg.CallTimeout)
			defer cancel()
			if err := p.AnnounceElected(callCtx, rideID, self); err != nil {
				n.log.Warnf("taxi %d: announce ride %d to taxi %d: %v", n.ID(), rideID, p.ID(), err)
			}
		})
	}
}
