package taxi

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/monitoring"
	"github.com/kilianp07/seta/core/ring"
)

// beginRechargeLocked opens a station request and returns its timestamp
// with the ring members that must approve it.
func (n *Node) beginRechargeLocked() (int64, []*ring.Peer) {
	n.setStatusLocked(model.StatusWaitingToRecharge)
	n.waitingSince = n.clock()
	ts := n.recharge.Begin(n.waitingSince)
	members := n.peers.Members(n.districtLocked())
	n.log.Infof("taxi %d: requesting the %s station (ts=%d, %d members)", n.ID(), n.districtLocked(), ts, len(members))
	return ts, members
}

// runRecharge asks every member in parallel. A transport failure aborts
// the attempt and schedules a new one.
func (n *Node) runRecharge(ts int64, members []*ring.Peer) {
	var (
		mu     sync.Mutex
		denied = make(map[int]int64)
	)
	g, ctx := errgroup.WithContext(n.runCtx)
	for _, p := range members {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
			defer cancel()
			ok, hold, err := p.RequestRechargeApproval(callCtx, n.ID(), ts)
			if err != nil {
				return fmt.Errorf("recharge approval from taxi %d: %w", p.ID(), err)
			}
			if !ok {
				mu.Lock()
				denied[p.ID()] = hold
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()

	n.mu.Lock()
	if n.status != model.StatusWaitingToRecharge || n.recharge.Timestamp != ts {
		n.mu.Unlock()
		return
	}
	if err != nil {
		owed := n.peersByID(n.recharge.TakeOwed())
		n.recharge.Done()
		n.setStatusLocked(model.StatusAvailable)
		if !n.closing {
			n.stopRetry = n.sched.After(n.cfg.RechargeRetry, n.retryRecharge)
		}
		n.mu.Unlock()
		n.log.Errorf("taxi %d: recharge attempt aborted: %v", n.ID(), err)
		monitoring.CaptureException(err, map[string]string{"operation": "recharge"})
		n.freeStation(n.runCtx, owed, ts)
		return
	}
	n.recharge.FinishRound(denied)
	if len(denied) > 0 {
		n.log.Debugf("taxi %d: waiting for %v to free the station", n.ID(), n.recharge.Awaiting())
	}
	n.grantLocked()
	n.mu.Unlock()
}

// retryRecharge starts a new attempt if the taxi still needs the station.
func (n *Node) retryRecharge() {
	n.mu.Lock()
	if !n.wantRecharge || n.closing || n.status != model.StatusAvailable {
		n.mu.Unlock()
		return
	}
	ts, members := n.beginRechargeLocked()
	n.mu.Unlock()
	n.runRecharge(ts, members)
}

// handleRechargeFree runs the grant check after a peer freed the station.
func (n *Node) handleRechargeFree(from int, hold int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recharge.Release(from, hold)
	n.grantLocked()
}

// grantLocked enters RECHARGING once every member approved: the taxi drives
// to the district station and recharges for the configured delay.
func (n *Node) grantLocked() {
	if n.status != model.StatusWaitingToRecharge || !n.recharge.Granted() {
		return
	}
	n.setStatusLocked(model.StatusRecharging)
	station := n.cfg.City.RechargeStation(n.districtLocked())
	n.kilometers += model.Distance(n.position, station)
	n.position = station
	ev := metrics.RechargeEvent{
		TaxiID:   n.ID(),
		District: n.districtLocked(),
		Waited:   n.clock().Sub(n.waitingSince),
		Time:     n.clock(),
	}
	if err := n.metrics.RecordRecharge(ev); err != nil {
		n.log.Debugf("record recharge: %v", err)
	}
	n.log.Infof("taxi %d: recharging at %s", n.ID(), station)
	n.sched.After(n.cfg.RechargeDelay, n.finishRecharge)
}

// finishRecharge fills the battery and frees the station for the ring
// members and every peer still owed a reply.
func (n *Node) finishRecharge() {
	n.mu.Lock()
	if n.status != model.StatusRecharging {
		n.mu.Unlock()
		return
	}
	n.battery = 100
	n.wantRecharge = false
	ids := make(map[int]struct{})
	for _, p := range n.peers.Members(n.districtLocked()) {
		ids[p.ID()] = struct{}{}
	}
	for _, id := range n.recharge.TakeOwed() {
		ids[id] = struct{}{}
	}
	hold := n.recharge.Timestamp
	n.recharge.Done()
	targets := make([]int, 0, len(ids))
	for id := range ids {
		targets = append(targets, id)
	}
	peers := n.peersByID(targets)
	n.setStatusLocked(model.StatusAvailable)
	// Counted before the lock is released so Close waits for the
	// notifications.
	n.async.Add(1)
	n.mu.Unlock()

	n.log.Infof("taxi %d: recharged", n.ID())
	monitoring.Go(func() {
		defer n.async.Done()
		n.freeStation(context.WithoutCancel(n.runCtx), peers, hold)
	})
}

// freeStation tells peers the hold with timestamp hold is over. Failures
// are logged only.
func (n *Node) freeStation(ctx context.Context, peers []*ring.Peer, hold int64) {
	for _, p := range peers {
		callCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
		if err := p.AnnounceRechargeFree(callCtx, n.ID(), hold); err != nil {
			n.log.Warnf("taxi %d: free station for taxi %d: %v", n.ID(), p.ID(), err)
		}
		cancel()
	}
}
