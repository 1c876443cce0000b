// Package recharge keeps the bookkeeping of the Ricart-Agrawala mutual
// exclusion protecting a district recharge station.
package recharge

import (
	"sort"
	"time"
)

// Precedes reports whether the request (ts, id) must be served before
// (otherTs, otherID): earlier timestamp first, larger id on equal timestamps.
func Precedes(ts int64, id int, otherTs int64, otherID int) bool {
	if ts != otherTs {
		return ts < otherTs
	}
	return id > otherID
}

// State is the recharge bookkeeping of one taxi. It is not safe for
// concurrent use.
type State struct {
	// Timestamp of the outstanding request, in milliseconds.
	Timestamp int64

	lastSeen  int64
	roundDone bool
	// awaiting and released map a peer to the timestamp of its hold on the
	// station. A free only cancels a denial for the same hold.
	awaiting map[int]int64
	owed     map[int]struct{}
	released map[int]int64
}

// NewState creates an idle state.
func NewState() *State {
	return &State{
		awaiting: make(map[int]int64),
		owed:     make(map[int]struct{}),
		released: make(map[int]int64),
	}
}

// Begin starts a new request and returns its timestamp. The timestamp is the
// wall clock in milliseconds, pushed past every timestamp observed from peers.
func (s *State) Begin(now time.Time) int64 {
	ts := now.UnixMilli()
	if ts <= s.lastSeen {
		ts = s.lastSeen + 1
	}
	s.Timestamp = ts
	s.lastSeen = ts
	s.roundDone = false
	clear(s.awaiting)
	clear(s.released)
	return ts
}

// Observe records a timestamp carried by a peer request.
func (s *State) Observe(ts int64) {
	if ts > s.lastSeen {
		s.lastSeen = ts
	}
}

// Defer remembers that requester was told to wait and must be notified
// once the station is free.
func (s *State) Defer(requester int) { s.owed[requester] = struct{}{} }

// TakeOwed returns the deferred requesters in ascending order and forgets them.
func (s *State) TakeOwed() []int {
	ids := keys(s.owed)
	clear(s.owed)
	return ids
}

// Release handles a "station free" notification from a peer ending the
// hold with timestamp hold.
func (s *State) Release(from int, hold int64) {
	if h, ok := s.awaiting[from]; ok && h == hold {
		delete(s.awaiting, from)
	}
	if !s.roundDone {
		s.released[from] = hold
	}
}

// FinishRound closes the approval round. denied maps every peer that denied
// the request to the hold it reported; a peer is awaited unless it already
// freed that same hold.
func (s *State) FinishRound(denied map[int]int64) {
	for id, hold := range denied {
		if h, ok := s.released[id]; ok && h == hold {
			continue
		}
		s.awaiting[id] = hold
	}
	clear(s.released)
	s.roundDone = true
}

// Forget removes a peer that left the district from the awaiting set.
func (s *State) Forget(id int) {
	delete(s.awaiting, id)
	delete(s.owed, id)
}

// Granted reports whether the round is complete and nobody is awaited.
func (s *State) Granted() bool { return s.roundDone && len(s.awaiting) == 0 }

// Awaiting returns the peers still holding up the request, ascending.
func (s *State) Awaiting() []int { return keys(s.awaiting) }

// Done clears the outstanding request once the station has been used or the
// attempt was aborted.
func (s *State) Done() {
	s.Timestamp = 0
	s.roundDone = false
	clear(s.awaiting)
	clear(s.released)
}

func keys[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
