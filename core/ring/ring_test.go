package ring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
)

type fakeClient struct {
	pos    model.Position
	closed bool
	calls  []string
	err    error
}

func (c *fakeClient) AnnounceSelf(context.Context, Announcement) (model.Position, error) {
	c.calls = append(c.calls, "self")
	return c.pos, c.err
}
func (c *fakeClient) AnnounceDistrictChange(context.Context, Announcement) error {
	c.calls = append(c.calls, "district")
	return c.err
}
func (c *fakeClient) AnnounceDeparture(context.Context, int) error {
	c.calls = append(c.calls, "departure")
	return c.err
}
func (c *fakeClient) ForwardElection(context.Context, ElectionToken) (bool, error) {
	c.calls = append(c.calls, "forward")
	return false, c.err
}
func (c *fakeClient) AnnounceElected(context.Context, int, election.Candidate) error {
	c.calls = append(c.calls, "elected")
	return c.err
}
func (c *fakeClient) RequestRechargeApproval(context.Context, int, int64) (bool, int64, error) {
	c.calls = append(c.calls, "approval")
	return true, 0, c.err
}
func (c *fakeClient) AnnounceRechargeFree(context.Context, int, int64) error {
	c.calls = append(c.calls, "free")
	return c.err
}
func (c *fakeClient) Close() error { c.closed = true; return nil }

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	clients []*fakeClient
	pos     model.Position
	err     error
}

func (d *fakeDialer) Dial(context.Context, model.TaxiIdentity) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dials++
	c := &fakeClient{pos: d.pos}
	d.clients = append(d.clients, c)
	return c, nil
}

func peerIn(id int, d model.District) *Peer {
	p := NewPeer(model.TaxiIdentity{ID: id, Host: "localhost", Port: 9000 + id}, &fakeDialer{})
	p.SetDistrict(d, d)
	return p
}

func TestNextWrapsAround(t *testing.T) {
	tbl := NewTable()
	for _, id := range []int{7, 2, 5} {
		tbl.Put(peerIn(id, model.District1))
	}
	tbl.Put(peerIn(4, model.District2))

	assert.Equal(t, 5, tbl.Next(3, model.District1).ID())
	assert.Equal(t, 7, tbl.Next(5, model.District1).ID())
	assert.Equal(t, 2, tbl.Next(7, model.District1).ID())
	assert.Equal(t, 2, tbl.Next(9, model.District1).ID())
	assert.Equal(t, 4, tbl.Next(9, model.District2).ID())
	assert.Nil(t, tbl.Next(1, model.District3))
}

func TestPredecessorMirrorsNext(t *testing.T) {
	tbl := NewTable()
	for _, id := range []int{1, 2, 3} {
		tbl.Put(peerIn(id, model.District1))
	}
	assert.Equal(t, 3, tbl.Predecessor(1, model.District1).ID())
	assert.Equal(t, 1, tbl.Predecessor(2, model.District1).ID())
	assert.Equal(t, 3, tbl.Predecessor(4, model.District1).ID())
	assert.Nil(t, tbl.Predecessor(1, model.District4))
}

func TestRemove(t *testing.T) {
	tbl := NewTable()
	tbl.Put(peerIn(1, model.District1))
	tbl.Put(peerIn(2, model.District1))
	require.NotNil(t, tbl.Remove(2))
	assert.Nil(t, tbl.Remove(2))
	assert.Len(t, tbl.All(), 1)
	assert.Nil(t, tbl.Next(1, model.District1))
}

func TestSetDistrictTogglesChannel(t *testing.T) {
	d := &fakeDialer{}
	p := NewPeer(model.TaxiIdentity{ID: 1, Host: "h", Port: 1}, d)
	assert.False(t, p.IsOpen())
	p.SetDistrict(model.District2, model.District2)
	assert.True(t, p.IsOpen())
	p.SetDistrict(model.District2, model.District2)
	assert.True(t, p.IsOpen())
	assert.Equal(t, 0, d.dials, "channel is dialed lazily")

	_, err := p.ForwardElection(context.Background(), ElectionToken{})
	require.NoError(t, err)
	assert.Equal(t, 1, d.dials)

	p.SetDistrict(model.District3, model.District2)
	assert.False(t, p.IsOpen())
	assert.True(t, d.clients[0].closed)
	p.SetDistrict(model.District3, model.District2)
	assert.False(t, p.IsOpen())
}

func TestRingCallsRequireOpenChannel(t *testing.T) {
	p := NewPeer(model.TaxiIdentity{ID: 1, Host: "h", Port: 1}, &fakeDialer{})
	_, err := p.ForwardElection(context.Background(), ElectionToken{})
	assert.True(t, errors.Is(err, ErrClosed))
	_, _, err = p.RequestRechargeApproval(context.Background(), 2, 10)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestAnnounceSelfAppliesRemoteDistrict(t *testing.T) {
	city := model.DefaultCity
	d := &fakeDialer{pos: model.Position{X: 9, Y: 9}}
	p := NewPeer(model.TaxiIdentity{ID: 3, Host: "h", Port: 3}, d)

	pos, err := p.AnnounceSelf(context.Background(), Announcement{}, city, model.District3)
	require.NoError(t, err)
	assert.Equal(t, model.Position{X: 9, Y: 9}, pos)
	assert.Equal(t, model.District3, p.District())
	assert.True(t, p.IsOpen())
	assert.True(t, d.clients[0].closed, "temporary connection closed")

	other := NewPeer(model.TaxiIdentity{ID: 4, Host: "h", Port: 4}, d)
	_, err = other.AnnounceSelf(context.Background(), Announcement{}, city, model.District1)
	require.NoError(t, err)
	assert.False(t, other.IsOpen())
}

func TestAnnounceDepartureCloses(t *testing.T) {
	d := &fakeDialer{}
	p := NewPeer(model.TaxiIdentity{ID: 3, Host: "h", Port: 3}, d)
	p.SetDistrict(model.District1, model.District1)
	require.NoError(t, p.AnnounceDeparture(context.Background(), 1))
	assert.False(t, p.IsOpen())
	assert.Equal(t, []string{"departure"}, d.clients[0].calls)
	assert.True(t, d.clients[0].closed)
}

func TestDialFailureSurfaces(t *testing.T) {
	d := &fakeDialer{err: errors.New("refused")}
	p := NewPeer(model.TaxiIdentity{ID: 3, Host: "h", Port: 3}, d)
	_, err := p.AnnounceSelf(context.Background(), Announcement{}, model.DefaultCity, model.District1)
	assert.ErrorContains(t, err, "refused")
}

// gatedDialer blocks every dial until release is closed.
type gatedDialer struct {
	started chan struct{}
	release chan struct{}
	client  *fakeClient
}

func (d *gatedDialer) Dial(context.Context, model.TaxiIdentity) (Client, error) {
	close(d.started)
	<-d.release
	return d.client, nil
}

func TestDialDoesNotHoldPeerLock(t *testing.T) {
	d := &gatedDialer{started: make(chan struct{}), release: make(chan struct{}), client: &fakeClient{}}
	p := NewPeer(model.TaxiIdentity{ID: 1, Host: "h", Port: 1}, d)
	p.SetDistrict(model.District2, model.District2)

	errc := make(chan error, 1)
	go func() {
		_, err := p.ForwardElection(context.Background(), ElectionToken{})
		errc <- err
	}()
	<-d.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Equal(t, model.District2, p.District())
		p.SetDistrict(model.District3, model.District2)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "peer state is readable while a dial is in flight")

	close(d.release)
	err := <-errc
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, d.client.closed, "client dialed for a closed channel is discarded")
	assert.False(t, p.IsOpen())
}
