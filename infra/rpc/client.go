package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/ring"
)

// Dialer opens net/rpc channels to other taxis.
type Dialer struct {
	// Timeout bounds each TCP connect attempt.
	Timeout time.Duration
	// Retries is the number of extra connect attempts on failure.
	Retries uint64
}

var _ ring.Dialer = Dialer{}

// Dial connects to the ring server of to.
func (d Dialer) Dial(ctx context.Context, to model.TaxiIdentity) (ring.Client, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	nd := net.Dialer{Timeout: timeout}
	var conn net.Conn
	op := func() error {
		c, err := nd.DialContext(ctx, "tcp", to.Address())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), d.Retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("dial taxi %d at %s: %w", to.ID, to.Address(), err)
	}
	return &Client{addr: to.Address(), rc: rpc.NewClient(conn)}, nil
}

// Client is a ring.Client over one net/rpc connection.
type Client struct {
	addr string
	rc   *rpc.Client
}

var _ ring.Client = (*Client)(nil)

// call runs method and gives up when ctx ends. The connection stays usable
// for later calls; a late reply is discarded by net/rpc.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	call := c.rc.Go(serviceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", method, c.addr, ctx.Err())
	case res := <-call.Done:
		if res.Error != nil {
			return fmt.Errorf("%s %s: %w", method, c.addr, res.Error)
		}
		return nil
	}
}

func (c *Client) AnnounceSelf(ctx context.Context, a ring.Announcement) (model.Position, error) {
	var reply PositionReply
	err := c.call(ctx, "AnnounceSelf", AnnounceArgs{Announcement: a}, &reply)
	return reply.Position, err
}

func (c *Client) AnnounceDistrictChange(ctx context.Context, a ring.Announcement) error {
	return c.call(ctx, "AnnounceDistrictChange", AnnounceArgs{Announcement: a}, &Ack{})
}

func (c *Client) AnnounceDeparture(ctx context.Context, taxiID int) error {
	return c.call(ctx, "AnnounceDeparture", DepartureArgs{TaxiID: taxiID}, &Ack{})
}

func (c *Client) ForwardElection(ctx context.Context, tok ring.ElectionToken) (bool, error) {
	var reply BoolReply
	err := c.call(ctx, "ForwardElection", ForwardArgs{Token: tok}, &reply)
	return reply.Value, err
}

func (c *Client) AnnounceElected(ctx context.Context, rideID int, winner election.Candidate) error {
	return c.call(ctx, "AnnounceElected", ElectedArgs{RideID: rideID, Winner: winner}, &Ack{})
}

func (c *Client) RequestRechargeApproval(ctx context.Context, requester int, ts int64) (bool, int64, error) {
	var reply ApprovalReply
	err := c.call(ctx, "RequestRechargeApproval", ApprovalArgs{Requester: requester, Timestamp: ts}, &reply)
	return reply.Approved, reply.Hold, err
}

func (c *Client) AnnounceRechargeFree(ctx context.Context, from int, hold int64) error {
	return c.call(ctx, "AnnounceRechargeFree", FreeArgs{From: from, Hold: hold}, &Ack{})
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rc.Close()
}
