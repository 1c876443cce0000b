package loopnet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/ring"
)

type echoHandler struct {
	pos      model.Position
	tokens   []ring.ElectionToken
	departed []int
}

func (h *echoHandler) HandleAnnounceSelf(context.Context, ring.Announcement) (model.Position, error) {
	return h.pos, nil
}
func (h *echoHandler) HandleDistrictChange(context.Context, ring.Announcement) error { return nil }
func (h *echoHandler) HandleDeparture(_ context.Context, id int) error {
	h.departed = append(h.departed, id)
	return nil
}
func (h *echoHandler) HandleForwardElection(_ context.Context, tok ring.ElectionToken) (bool, error) {
	h.tokens = append(h.tokens, tok)
	return tok.From != 1, nil
}
func (h *echoHandler) HandleElected(context.Context, int, election.Candidate) error { return nil }
func (h *echoHandler) HandleRechargeApproval(_ context.Context, requester int, _ int64) (bool, int64, error) {
	return requester%2 == 0, 0, nil
}
func (h *echoHandler) HandleRechargeFree(context.Context, int, int64) error {
	return errors.New("unexpected")
}

func TestNetwork_RoutesCalls(t *testing.T) {
	ctx := context.Background()
	n := New()
	id := model.TaxiIdentity{ID: 2, Host: "loop", Port: 2}
	h := &echoHandler{pos: model.Position{X: 3, Y: 4}}
	require.NoError(t, n.Listen(id, h))
	assert.Error(t, n.Listen(id, h), "address reuse")

	c, err := n.Dial(ctx, id)
	require.NoError(t, err)

	pos, err := c.AnnounceSelf(ctx, ring.Announcement{})
	require.NoError(t, err)
	assert.Equal(t, h.pos, pos)

	retry, err := c.ForwardElection(ctx, ring.ElectionToken{From: 1})
	require.NoError(t, err)
	assert.False(t, retry)
	retry, err = c.ForwardElection(ctx, ring.ElectionToken{From: 5})
	require.NoError(t, err)
	assert.True(t, retry)
	assert.Len(t, h.tokens, 2)
	assert.Equal(t, 2, n.Calls(id, "ForwardElection"))

	ok, _, err := c.RequestRechargeApproval(ctx, 4, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.AnnounceDeparture(ctx, 1))
	assert.Equal(t, []int{1}, h.departed)
}

func TestNetwork_Unreachable(t *testing.T) {
	ctx := context.Background()
	n := New()
	id := model.TaxiIdentity{ID: 3, Host: "loop", Port: 3}
	_, err := n.Dial(ctx, id)
	assert.ErrorIs(t, err, ErrUnreachable)

	require.NoError(t, n.Listen(id, &echoHandler{}))
	c, err := n.Dial(ctx, id)
	require.NoError(t, err)

	n.SetDown(id, true)
	_, _, err = c.RequestRechargeApproval(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrUnreachable)
	n.SetDown(id, false)

	n.Close(id)
	err = c.AnnounceElected(ctx, 1, election.Candidate{TaxiID: 1})
	assert.ErrorIs(t, err, ErrUnreachable)

	require.NoError(t, c.Close())
	require.NoError(t, n.Listen(id, &echoHandler{}))
	assert.Error(t, c.AnnounceDistrictChange(ctx, ring.Announcement{}))
}
