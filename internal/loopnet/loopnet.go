// Package loopnet is an in-process ring transport. Taxis attach their
// handler under their address and dial each other without sockets, which
// lets a whole fleet run inside one test or simulation process.
package loopnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/ring"
)

// ErrUnreachable is returned when no handler listens on the dialed address
// or the address was marked down.
var ErrUnreachable = errors.New("loopnet: address unreachable")

// Network routes calls between attached handlers.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]ring.Handler
	down     map[string]bool
	calls    map[string]int
}

// New returns an empty network.
func New() *Network {
	return &Network{
		handlers: make(map[string]ring.Handler),
		down:     make(map[string]bool),
		calls:    make(map[string]int),
	}
}

// Listen attaches h at the address of id.
func (n *Network) Listen(id model.TaxiIdentity, h ring.Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr := id.Address()
	if _, ok := n.handlers[addr]; ok {
		return fmt.Errorf("loopnet: %s already in use", addr)
	}
	n.handlers[addr] = h
	return nil
}

// Close detaches the handler at the address of id.
func (n *Network) Close(id model.TaxiIdentity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id.Address())
}

// SetDown makes calls to id fail with ErrUnreachable while down is true.
func (n *Network) SetDown(id model.TaxiIdentity, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id.Address()] = down
}

// Calls returns how many calls reached the handler of id for method.
func (n *Network) Calls(id model.TaxiIdentity, method string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.calls[id.Address()+"/"+method]
}

func (n *Network) handler(addr, method string) (ring.Handler, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.handlers[addr]
	if !ok || n.down[addr] {
		return nil, fmt.Errorf("%s %s: %w", method, addr, ErrUnreachable)
	}
	n.calls[addr+"/"+method]++
	return h, nil
}

// Dial implements ring.Dialer.
func (n *Network) Dial(_ context.Context, to model.TaxiIdentity) (ring.Client, error) {
	n.mu.RLock()
	_, ok := n.handlers[to.Address()]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: %w", to.Address(), ErrUnreachable)
	}
	return &client{net: n, addr: to.Address()}, nil
}

type client struct {
	net    *Network
	addr   string
	mu     sync.Mutex
	closed bool
}

func (c *client) target(method string) (ring.Handler, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%s %s: client closed", method, c.addr)
	}
	return c.net.handler(c.addr, method)
}

func (c *client) AnnounceSelf(ctx context.Context, a ring.Announcement) (model.Position, error) {
	h, err := c.target("AnnounceSelf")
	if err != nil {
		return model.Position{}, err
	}
	return h.HandleAnnounceSelf(ctx, a)
}

func (c *client) AnnounceDistrictChange(ctx context.Context, a ring.Announcement) error {
	h, err := c.target("AnnounceDistrictChange")
	if err != nil {
		return err
	}
	return h.HandleDistrictChange(ctx, a)
}

func (c *client) AnnounceDeparture(ctx context.Context, taxiID int) error {
	h, err := c.target("AnnounceDeparture")
	if err != nil {
		return err
	}
	return h.HandleDeparture(ctx, taxiID)
}

func (c *client) ForwardElection(ctx context.Context, tok ring.ElectionToken) (bool, error) {
	h, err := c.target("ForwardElection")
	if err != nil {
		return false, err
	}
	return h.HandleForwardElection(ctx, tok)
}

func (c *client) AnnounceElected(ctx context.Context, rideID int, winner election.Candidate) error {
	h, err := c.target("AnnounceElected")
	if err != nil {
		return err
	}
	return h.HandleElected(ctx, rideID, winner)
}

func (c *client) RequestRechargeApproval(ctx context.Context, requester int, ts int64) (bool, int64, error) {
	h, err := c.target("RequestRechargeApproval")
	if err != nil {
		return false, 0, err
	}
	return h.HandleRechargeApproval(ctx, requester, ts)
}

func (c *client) AnnounceRechargeFree(ctx context.Context, from int, hold int64) error {
	h, err := c.target("AnnounceRechargeFree")
	if err != nil {
		return err
	}
	return h.HandleRechargeFree(ctx, from, hold)
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Server returns a ring.Server attaching handlers at the address of id.
func (n *Network) Server(id model.TaxiIdentity) ring.Server {
	return &server{net: n, id: id}
}

type server struct {
	net *Network
	id  model.TaxiIdentity
}

func (s *server) Serve(h ring.Handler) error { return s.net.Listen(s.id, h) }

func (s *server) Close() error {
	s.net.Close(s.id)
	return nil
}
