// Package taxi implements a taxi agent: its state machine, the ride
// election it runs with the other taxis of its district and the recharge
// station mutual exclusion.
//
// A Node owns one coarse lock guarding every mutable field. Inbound ring
// messages that drive the election are queued and handled one at a time by
// a single processor goroutine; RPC handlers only take the lock briefly and
// never call other taxis. Outbound calls are always made with the lock
// released and the affected state is re-validated afterwards.
package taxi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/logger"
	"github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/monitoring"
	"github.com/kilianp07/seta/core/pubsub"
	"github.com/kilianp07/seta/core/recharge"
	"github.com/kilianp07/seta/core/registry"
	"github.com/kilianp07/seta/core/ring"
	"github.com/kilianp07/seta/core/scheduler"
	"github.com/kilianp07/seta/internal/eventbus"
	"github.com/kilianp07/seta/internal/mailbox"
	"go.uber.org/multierr"
)

var (
	// ErrNotRunning is returned when an operation needs a started taxi.
	ErrNotRunning = errors.New("taxi not running")
	// ErrBusy is returned when a manual recharge cannot be requested.
	ErrBusy = errors.New("taxi busy")
)

// Deps groups the collaborators of a Node.
type Deps struct {
	Registry registry.Registry
	Rides    pubsub.RideSource
	Dialer   ring.Dialer
	Server   ring.Server
	Logger   logger.Logger

	// Scheduler runs ride completion, recharge and statistics tasks. A
	// TimerScheduler owned by the node is used when nil.
	Scheduler scheduler.Scheduler
	Metrics   metrics.MetricsSink
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Node is a taxi agent.
type Node struct {
	cfg      Config
	registry registry.Registry
	rides    pubsub.RideSource
	dialer   ring.Dialer
	server   ring.Server
	log      logger.Logger
	sched    scheduler.Scheduler
	ownSched *scheduler.TimerScheduler
	metrics  metrics.MetricsSink
	clock    func() time.Time
	events   *eventbus.TypedBus[metrics.StatusEvent]
	inbox    *mailbox.Mailbox[message]

	mu         sync.Mutex
	idle       *sync.Cond
	status     model.TaxiStatus
	position   model.Position
	battery    float64
	kilometers float64
	rideCount  int
	peers      *ring.Table
	elections  *election.Table
	recharge   *recharge.State
	// wantRecharge is set when the battery is low or a manual recharge was
	// requested, until the station has been used.
	wantRecharge bool
	waitingSince time.Time
	subscribed   model.District
	// moving is set while a district change is being announced.
	moving    bool
	closing   bool
	stopStats scheduler.Cancel
	stopRetry scheduler.Cancel

	cancel   context.CancelFunc
	runCtx   context.Context
	procDone chan struct{}
	sinkDone chan struct{}
	async    sync.WaitGroup
}

// New validates cfg and builds an unstarted node.
func New(cfg Config, deps Deps) (*Node, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("taxi config: %w", err)
	}
	if deps.Registry == nil || deps.Rides == nil || deps.Dialer == nil || deps.Server == nil || deps.Logger == nil {
		return nil, fmt.Errorf("taxi: nil dependency provided to New")
	}
	n := &Node{
		cfg:       cfg,
		registry:  deps.Registry,
		rides:     deps.Rides,
		dialer:    deps.Dialer,
		server:    deps.Server,
		log:       deps.Logger,
		sched:     deps.Scheduler,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		events:    eventbus.NewTyped[metrics.StatusEvent](),
		inbox:     mailbox.New[message](),
		status:    model.StatusUnstarted,
		peers:     ring.NewTable(),
		elections: election.NewTable(),
		recharge:  recharge.NewState(),
	}
	n.idle = sync.NewCond(&n.mu)
	if n.sched == nil {
		n.ownSched = scheduler.NewTimerScheduler()
		n.sched = n.ownSched
	}
	if n.metrics == nil {
		n.metrics = metrics.NopSink{}
	}
	if n.clock == nil {
		n.clock = time.Now
	}
	return n, nil
}

// ID returns the taxi id.
func (n *Node) ID() int { return n.cfg.Identity.ID }

// Identity returns the taxi identity.
func (n *Node) Identity() model.TaxiIdentity { return n.cfg.Identity }

// Status returns the current status.
func (n *Node) Status() model.TaxiStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Position returns the current position.
func (n *Node) Position() model.Position {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.position
}

// District returns the district of the current position.
func (n *Node) District() model.District {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.districtLocked()
}

// Battery returns the battery level in percent.
func (n *Node) Battery() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.battery
}

// Statistics returns a snapshot of the cumulative counters.
func (n *Node) Statistics() model.Statistics {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statisticsLocked()
}

// Election returns the election record kept for a ride.
func (n *Node) Election(rideID int) (election.Record, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.elections.Get(rideID)
}

// Peers returns the identities of the known taxis and whether each is a
// member of the local ring.
func (n *Node) Peers() map[int]bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.districtLocked()
	res := make(map[int]bool)
	for _, p := range n.peers.All() {
		res[p.ID()] = p.District() == d
	}
	return res
}

// Events subscribes to status transitions. The channel is closed when the
// node has shut down.
func (n *Node) Events() <-chan metrics.StatusEvent { return n.events.SubscribeBuffered(32) }

func (n *Node) districtLocked() model.District { return n.cfg.City.DistrictOf(n.position) }

func (n *Node) statisticsLocked() model.Statistics {
	return model.Statistics{
		TaxiID:     n.cfg.Identity.ID,
		Kilometers: n.kilometers,
		Rides:      n.rideCount,
		Battery:    n.battery,
		Timestamp:  n.clock(),
	}
}

// setStatusLocked moves the state machine. An illegal transition is a
// programming error and panics.
func (n *Node) setStatusLocked(to model.TaxiStatus) {
	from := n.status
	if !model.CanTransition(from, to) {
		panic(fmt.Sprintf("taxi %d: illegal transition %s -> %s", n.cfg.Identity.ID, from, to))
	}
	n.status = to
	n.events.Publish(metrics.StatusEvent{TaxiID: n.cfg.Identity.ID, From: from, To: to, Time: n.clock()})
	n.idle.Broadcast()
}

func (n *Node) candidateLocked(ride model.RideRequest) election.Candidate {
	return election.Candidate{
		TaxiID:   n.cfg.Identity.ID,
		Distance: model.Distance(n.position, ride.Start),
		Battery:  n.battery,
	}
}

// Start serves the ring RPC surface, registers the taxi, announces it to
// the known taxis and subscribes to the rides of its district.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.status != model.StatusUnstarted || n.procDone != nil {
		n.mu.Unlock()
		return fmt.Errorf("taxi %d: already started", n.ID())
	}
	n.runCtx, n.cancel = context.WithCancel(context.Background())
	n.procDone = make(chan struct{})
	n.sinkDone = make(chan struct{})
	n.mu.Unlock()

	statusEvents := n.events.SubscribeBuffered(64)
	go n.recordStatus(statusEvents)
	go n.process(n.runCtx)

	if err := n.server.Serve(n); err != nil {
		n.abortStart()
		return fmt.Errorf("taxi %d: serve: %w", n.ID(), err)
	}
	n.mu.Lock()
	n.setStatusLocked(model.StatusGRPCStarted)
	n.mu.Unlock()

	reg, err := n.registry.Register(ctx, n.cfg.Identity)
	if err != nil {
		_ = n.server.Close()
		n.abortStart()
		return fmt.Errorf("taxi %d: register: %w", n.ID(), err)
	}

	n.mu.Lock()
	n.position = reg.Position
	n.battery = 100
	for _, id := range reg.Peers {
		if id.ID == n.ID() {
			continue
		}
		n.peers.Put(ring.NewPeer(id, n.dialer))
	}
	n.setStatusLocked(model.StatusRegistered)
	self := ring.Announcement{Taxi: n.cfg.Identity, Position: n.position}
	local := n.districtLocked()
	known := n.peers.All()
	n.mu.Unlock()

	n.log.Infof("taxi %d registered at %s (%s) with %d peers", n.ID(), self.Position, local, len(known))
	for _, p := range known {
		callCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
		_, err := p.AnnounceSelf(callCtx, self, n.cfg.City, local)
		cancel()
		if err != nil {
			n.log.Warnf("taxi %d: dropping unreachable peer %d: %v", n.ID(), p.ID(), err)
			n.mu.Lock()
			if cur, ok := n.peers.Get(p.ID()); ok && cur == p {
				n.peers.Remove(p.ID())
			}
			n.mu.Unlock()
			_ = p.Close()
		}
	}

	if err := n.rides.Subscribe(local, n.onRide); err != nil {
		_ = n.registry.Deregister(ctx, n.ID())
		_ = n.server.Close()
		n.abortStart()
		return fmt.Errorf("taxi %d: subscribe %s: %w", n.ID(), local, err)
	}

	n.mu.Lock()
	n.subscribed = local
	n.setStatusLocked(model.StatusAvailable)
	n.stopStats = n.sched.After(n.cfg.StatsInterval, n.reportStatistics)
	n.mu.Unlock()
	return nil
}

func (n *Node) abortStart() {
	n.mu.Lock()
	if n.status != model.StatusUnstarted {
		n.setStatusLocked(model.StatusUnstarted)
	}
	n.mu.Unlock()
	n.inbox.Close()
	n.cancel()
	<-n.procDone
	n.events.Close()
	<-n.sinkDone
}

func (n *Node) recordStatus(ch <-chan metrics.StatusEvent) {
	defer close(n.sinkDone)
	for ev := range ch {
		if err := n.metrics.RecordStatus(ev); err != nil {
			n.log.Debugf("record status: %v", err)
		}
	}
	if d := n.events.Dropped(); d > 0 {
		n.log.Debugf("taxi %d: %d status events were not recorded", n.ID(), d)
	}
}

// onRide receives rides published on the district topic.
func (n *Node) onRide(ride model.RideRequest) {
	if err := ride.Validate(n.cfg.City); err != nil {
		n.log.Warnf("taxi %d: ignoring ride: %v", n.ID(), err)
		return
	}
	n.inbox.Push(message{kind: msgElection, ride: ride, local: true})
}

// RequestRecharge asks for the district station. A driving taxi recharges
// once its ride is completed.
func (n *Node) RequestRecharge() error {
	n.mu.Lock()
	switch {
	case n.closing || n.status == model.StatusUnstarted:
		n.mu.Unlock()
		return ErrNotRunning
	case n.status == model.StatusDriving:
		n.wantRecharge = true
		n.mu.Unlock()
		n.log.Infof("taxi %d will recharge after the current ride", n.ID())
		return nil
	case n.status != model.StatusAvailable:
		st := n.status
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, st)
	}
	n.wantRecharge = true
	ts, members := n.beginRechargeLocked()
	n.mu.Unlock()
	n.runRecharge(ts, members)
	return nil
}

// Close shuts the taxi down. It waits for a ride or recharge in progress to
// complete, frees the peers owed a station reply, announces the departure,
// stops processing, unsubscribes, closes peer channels and deregisters.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.status == model.StatusUnstarted || n.closing {
		n.mu.Unlock()
		return ErrNotRunning
	}
	n.closing = true
	stop := context.AfterFunc(ctx, func() {
		n.mu.Lock()
		n.idle.Broadcast()
		n.mu.Unlock()
	})
	for (n.status.Busy() || n.moving) && ctx.Err() == nil {
		n.idle.Wait()
	}
	stop()
	var errs error
	if err := ctx.Err(); err != nil {
		errs = fmt.Errorf("waiting for taxi %d to be idle: %w", n.ID(), err)
	}
	if n.stopStats != nil {
		n.stopStats()
	}
	if n.stopRetry != nil {
		n.stopRetry()
	}
	owed := n.peersByID(n.recharge.TakeOwed())
	hold := n.recharge.Timestamp
	n.recharge.Done()
	known := n.peers.All()
	district := n.subscribed
	n.setStatusLocked(model.StatusUnstarted)
	n.mu.Unlock()

	n.log.Infof("taxi %d shutting down", n.ID())
	shutCtx := context.WithoutCancel(ctx)
	n.freeStation(shutCtx, owed, hold)
	for _, p := range known {
		callCtx, cancel := context.WithTimeout(shutCtx, n.cfg.CallTimeout)
		if err := p.AnnounceDeparture(callCtx, n.ID()); err != nil {
			n.log.Warnf("taxi %d: %v", n.ID(), err)
		}
		cancel()
	}

	n.inbox.Close()
	n.cancel()
	<-n.procDone

	errs = multierr.Append(errs, n.rides.Unsubscribe(district))
	errs = multierr.Append(errs, n.server.Close())
	n.mu.Lock()
	for _, p := range n.peers.All() {
		errs = multierr.Append(errs, p.Close())
		n.peers.Remove(p.ID())
	}
	n.mu.Unlock()
	if err := n.registry.Deregister(shutCtx, n.ID()); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("deregister taxi %d: %w", n.ID(), err))
	}
	n.async.Wait()
	if n.ownSched != nil {
		n.ownSched.Stop()
	}
	n.events.Close()
	<-n.sinkDone
	return errs
}

func (n *Node) peersByID(ids []int) []*ring.Peer {
	res := make([]*ring.Peer, 0, len(ids))
	for _, id := range ids {
		if p, ok := n.peers.Get(id); ok {
			res = append(res, p)
		}
	}
	return res
}

// goAsync runs fn on a goroutine awaited by Close.
func (n *Node) goAsync(fn func()) {
	n.async.Add(1)
	monitoring.Go(func() {
		defer n.async.Done()
		fn()
	})
}

func (n *Node) reportStatistics() {
	n.mu.Lock()
	if n.status == model.StatusUnstarted || n.closing {
		n.mu.Unlock()
		return
	}
	st := n.statisticsLocked()
	n.stopStats = n.sched.After(n.cfg.StatsInterval, n.reportStatistics)
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(n.runCtx, n.cfg.CallTimeout)
	defer cancel()
	if err := n.registry.LoadStatistics(ctx, st); err != nil {
		n.log.Warnf("taxi %d: statistics: %v", n.ID(), err)
	}
	if err := n.metrics.RecordStatistics(st); err != nil {
		n.log.Debugf("record statistics: %v", err)
	}
}

func (n *Node) recordElection(rideID int, action metrics.ElectionAction) {
	ev := metrics.ElectionEvent{TaxiID: n.ID(), RideID: rideID, Action: action, Time: n.clock()}
	if err := n.metrics.RecordElection(ev); err != nil {
		n.log.Debugf("record election: %v", err)
	}
}
