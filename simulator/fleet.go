package simulator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/kilianp07/seta/core/logger"
	"github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/pubsub"
	"github.com/kilianp07/seta/core/registry"
	"github.com/kilianp07/seta/core/taxi"
	"github.com/kilianp07/seta/internal/loopnet"
)

// Fleet runs taxis in one process. They talk over an in-process ring
// network and receive rides from an in-memory broker.
type Fleet struct {
	base    taxi.Config
	net     *loopnet.Network
	broker  *pubsub.MemoryBroker
	reg     *registry.MemoryRegistry
	metrics metrics.MetricsSink
	newLog  func(id int) logger.Logger

	mu    sync.Mutex
	nodes map[int]*taxi.Node
}

// FleetOption configures a Fleet.
type FleetOption func(*Fleet)

// WithMetrics sends the events of every taxi to sink.
func WithMetrics(sink metrics.MetricsSink) FleetOption {
	return func(f *Fleet) { f.metrics = sink }
}

// WithRegistry replaces the fleet registry.
func WithRegistry(reg *registry.MemoryRegistry) FleetOption {
	return func(f *Fleet) { f.reg = reg }
}

// NewFleet prepares an empty fleet. base is the configuration template of
// every taxi; its identity is overwritten per taxi.
func NewFleet(base taxi.Config, newLog func(id int) logger.Logger, opts ...FleetOption) *Fleet {
	base.SetDefaults()
	f := &Fleet{
		base:   base,
		net:    loopnet.New(),
		broker: pubsub.NewMemoryBroker(base.City),
		newLog: newLog,
		nodes:  make(map[int]*taxi.Node),
	}
	for _, o := range opts {
		o(f)
	}
	if f.reg == nil {
		f.reg = registry.NewMemoryRegistry(base.City)
	}
	return f
}

// Broker is the ride publisher of the fleet.
func (f *Fleet) Broker() *pubsub.MemoryBroker { return f.broker }

// Registry is the admin registry of the fleet.
func (f *Fleet) Registry() *registry.MemoryRegistry { return f.reg }

// Add starts a taxi with the given id.
func (f *Fleet) Add(ctx context.Context, id int) (*taxi.Node, error) {
	cfg := f.base
	cfg.Identity = model.TaxiIdentity{ID: id, Host: "sim", Port: 10000 + id}
	n, err := taxi.New(cfg, taxi.Deps{
		Registry: f.reg,
		Rides:    pubsub.NewSynchronized(f.broker.Client(id)),
		Dialer:   f.net,
		Server:   f.net.Server(cfg.Identity),
		Logger:   f.newLog(id),
		Metrics:  f.metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, fmt.Errorf("start taxi %d: %w", id, err)
	}
	f.mu.Lock()
	f.nodes[id] = n
	f.mu.Unlock()
	return n, nil
}

// Start adds taxis 1..count.
func (f *Fleet) Start(ctx context.Context, count int) error {
	for id := 1; id <= count; id++ {
		if _, err := f.Add(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Node returns the taxi with the given id.
func (f *Fleet) Node(id int) (*taxi.Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	return n, ok
}

// Nodes returns the running taxis ordered by id.
func (f *Fleet) Nodes() []*taxi.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]*taxi.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}

// Remove shuts one taxi down.
func (f *Fleet) Remove(ctx context.Context, id int) error {
	f.mu.Lock()
	n, ok := f.nodes[id]
	delete(f.nodes, id)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("taxi %d: %w", id, registry.ErrNotFound)
	}
	return n.Close(ctx)
}

// Close shuts every taxi down and closes the broker.
func (f *Fleet) Close(ctx context.Context) error {
	var err error
	for _, n := range f.Nodes() {
		err = multierr.Append(err, f.Remove(ctx, n.ID()))
	}
	f.broker.Close()
	return err
}
