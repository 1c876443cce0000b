package recharge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrecedes(t *testing.T) {
	assert.True(t, Precedes(10, 1, 11, 9), "earlier timestamp wins")
	assert.False(t, Precedes(11, 9, 10, 1))
	assert.True(t, Precedes(10, 7, 10, 3), "larger id wins a tie")
	assert.False(t, Precedes(10, 3, 10, 7))
}

func TestBeginIsLamportOrdered(t *testing.T) {
	s := NewState()
	now := time.UnixMilli(1000)
	s.Observe(5000)
	ts := s.Begin(now)
	assert.Equal(t, int64(5001), ts)
	assert.Equal(t, int64(5002), s.Begin(now))
	assert.Equal(t, int64(9000), s.Begin(time.UnixMilli(9000)))
}

func TestGrantAfterReleases(t *testing.T) {
	s := NewState()
	s.Begin(time.UnixMilli(1))
	assert.False(t, s.Granted(), "round still open")
	s.FinishRound(map[int]int64{2: 50, 3: 60})
	assert.Equal(t, []int{2, 3}, s.Awaiting())
	s.Release(2, 50)
	assert.False(t, s.Granted())
	s.Release(3, 60)
	assert.True(t, s.Granted())
}

func TestReleaseDuringRoundIsNotLost(t *testing.T) {
	s := NewState()
	s.Begin(time.UnixMilli(1))
	s.Release(4, 70)
	s.FinishRound(map[int]int64{4: 70})
	assert.True(t, s.Granted())
}

func TestReleaseOfOlderHoldKeepsDenial(t *testing.T) {
	s := NewState()
	s.Begin(time.UnixMilli(1000))
	// The free ends hold 500; the denial comes from a newer hold 999.
	s.Release(4, 500)
	s.FinishRound(map[int]int64{4: 999})
	assert.False(t, s.Granted())
	assert.Equal(t, []int{4}, s.Awaiting())

	s.Release(4, 500)
	assert.False(t, s.Granted(), "stale free after the round")
	s.Release(4, 999)
	assert.True(t, s.Granted())
}

func TestOwed(t *testing.T) {
	s := NewState()
	s.Defer(3)
	s.Defer(1)
	s.Defer(3)
	assert.Equal(t, []int{1, 3}, s.TakeOwed())
	assert.Empty(t, s.TakeOwed())
}

func TestDoneResets(t *testing.T) {
	s := NewState()
	s.Begin(time.UnixMilli(1))
	s.FinishRound(nil)
	assert.True(t, s.Granted())
	s.Done()
	assert.False(t, s.Granted())
	assert.Zero(t, s.Timestamp)
}
