package rpc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/ring"
	"github.com/kilianp07/seta/infra/logger"
)

type recordingHandler struct {
	mu       sync.Mutex
	tokens   []ring.ElectionToken
	elected  map[int]election.Candidate
	freed    []int
	holds    []int64
	departed []int
	block    chan struct{}
}

func (h *recordingHandler) HandleAnnounceSelf(_ context.Context, a ring.Announcement) (model.Position, error) {
	return model.Position{X: a.Taxi.ID, Y: 7}, nil
}

func (h *recordingHandler) HandleDistrictChange(context.Context, ring.Announcement) error {
	return errors.New("not today")
}

func (h *recordingHandler) HandleDeparture(_ context.Context, id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.departed = append(h.departed, id)
	return nil
}

func (h *recordingHandler) HandleForwardElection(_ context.Context, tok ring.ElectionToken) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens = append(h.tokens, tok)
	return tok.From != 1, nil
}

func (h *recordingHandler) HandleElected(_ context.Context, rideID int, w election.Candidate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.elected[rideID] = w
	return nil
}

func (h *recordingHandler) HandleRechargeApproval(_ context.Context, requester int, ts int64) (bool, int64, error) {
	if h.block != nil {
		<-h.block
	}
	if ts < 100 && requester != 0 {
		return true, 0, nil
	}
	return false, 77, nil
}

func (h *recordingHandler) HandleRechargeFree(_ context.Context, from int, hold int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freed = append(h.freed, from)
	h.holds = append(h.holds, hold)
	return nil
}

func identityOf(t *testing.T, id int, addr string) model.TaxiIdentity {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return model.TaxiIdentity{ID: id, Host: host, Port: p}
}

func startServer(t *testing.T, h ring.Handler) model.TaxiIdentity {
	t.Helper()
	srv := NewServer("127.0.0.1:0", logger.NopLogger{})
	require.NoError(t, srv.Serve(h))
	t.Cleanup(func() { _ = srv.Close() })
	return identityOf(t, 2, srv.Addr())
}

func TestRoundTrip(t *testing.T) {
	h := &recordingHandler{elected: make(map[int]election.Candidate)}
	to := startServer(t, h)
	ctx := context.Background()

	c, err := Dialer{}.Dial(ctx, to)
	require.NoError(t, err)
	defer c.Close()

	pos, err := c.AnnounceSelf(ctx, ring.Announcement{Taxi: model.TaxiIdentity{ID: 3, Host: "h", Port: 1}})
	require.NoError(t, err)
	assert.Equal(t, model.Position{X: 3, Y: 7}, pos)

	err = c.AnnounceDistrictChange(ctx, ring.Announcement{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not today")

	ride := model.RideRequest{ID: 9, Start: model.Position{X: 1, Y: 2}, End: model.Position{X: 3, Y: 4}, Timestamp: time.UnixMilli(1700000000000)}
	retry, err := c.ForwardElection(ctx, ring.ElectionToken{From: 1, Ride: ride, Candidate: election.Candidate{TaxiID: 1, Distance: 2.5, Battery: 80}})
	require.NoError(t, err)
	assert.False(t, retry)
	retry, err = c.ForwardElection(ctx, ring.ElectionToken{From: 4, Ride: ride})
	require.NoError(t, err)
	assert.True(t, retry)

	require.NoError(t, c.AnnounceElected(ctx, 9, election.Candidate{TaxiID: 1, Distance: 2.5, Battery: 80}))
	ok, _, err := c.RequestRechargeApproval(ctx, 1, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, hold, err := c.RequestRechargeApproval(ctx, 1, 420)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(77), hold)
	require.NoError(t, c.AnnounceRechargeFree(ctx, 5, 1234))
	require.NoError(t, c.AnnounceDeparture(ctx, 6))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.tokens, 2)
	assert.Equal(t, ride.ID, h.tokens[0].Ride.ID)
	assert.True(t, ride.Timestamp.Equal(h.tokens[0].Ride.Timestamp))
	assert.Equal(t, 2.5, h.tokens[0].Candidate.Distance)
	assert.Equal(t, election.Candidate{TaxiID: 1, Distance: 2.5, Battery: 80}, h.elected[9])
	assert.Equal(t, []int{5}, h.freed)
	assert.Equal(t, []int64{1234}, h.holds)
	assert.Equal(t, []int{6}, h.departed)
}

func TestCallHonoursContext(t *testing.T) {
	h := &recordingHandler{elected: make(map[int]election.Candidate), block: make(chan struct{})}
	defer close(h.block)
	to := startServer(t, h)

	c, err := Dialer{}.Dial(context.Background(), to)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = c.RequestRechargeApproval(ctx, 1, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	to := identityOf(t, 9, l.Addr().String())
	require.NoError(t, l.Close())

	_, err = Dialer{Timeout: 100 * time.Millisecond, Retries: 1}.Dial(context.Background(), to)
	assert.Error(t, err)
}

func TestServerCloseDropsClients(t *testing.T) {
	h := &recordingHandler{elected: make(map[int]election.Candidate)}
	srv := NewServer("127.0.0.1:0", logger.NopLogger{})
	require.NoError(t, srv.Serve(h))
	to := identityOf(t, 2, srv.Addr())

	c, err := Dialer{}.Dial(context.Background(), to)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.AnnounceRechargeFree(context.Background(), 1, 1))

	require.NoError(t, srv.Close())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.AnnounceRechargeFree(ctx, 1, 1))
}
