package election

import (
	"sort"

	"github.com/kilianp07/seta/core/model"
)

// Phase is the state of an election for one ride.
type Phase int

const (
	PhaseElection Phase = iota
	PhaseElected
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseElection:
		return "ELECTION"
	case PhaseElected:
		return "ELECTED"
	default:
		return "unknown"
	}
}

// Record is what a taxi knows about the election of one ride.
type Record struct {
	Ride   model.RideRequest
	Leader Candidate
	Phase  Phase
	Seq    uint64
}

// Table maps ride ids to records. It is not safe for concurrent use; the
// owning taxi guards it with its own lock.
type Table struct {
	records map[int]*Record
	seq     uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[int]*Record)}
}

// Get returns a copy of the record for the ride.
func (t *Table) Get(rideID int) (Record, bool) {
	r, ok := t.records[rideID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Propose stores leader as the current ELECTION leader of the ride and bumps
// the record sequence. The stored ride keeps the most recent timestamp seen.
func (t *Table) Propose(ride model.RideRequest, leader Candidate) Record {
	t.seq++
	r, ok := t.records[ride.ID]
	if !ok || ride.Timestamp.After(r.Ride.Timestamp) {
		if !ok {
			r = &Record{}
			t.records[ride.ID] = r
		}
		r.Ride = ride
	}
	r.Leader = leader
	r.Phase = PhaseElection
	r.Seq = t.seq
	return *r
}

// Elect marks the ride as won by winner. It returns false when the ride was
// already ELECTED, in which case nothing changes.
func (t *Table) Elect(rideID int, winner Candidate) bool {
	r, ok := t.records[rideID]
	if ok && r.Phase == PhaseElected {
		return false
	}
	t.seq++
	if !ok {
		r = &Record{Ride: model.RideRequest{ID: rideID}}
		t.records[rideID] = r
	}
	r.Leader = winner
	r.Phase = PhaseElected
	r.Seq = t.seq
	return true
}

// Forget drops the record of a ride.
func (t *Table) Forget(rideID int) { delete(t.records, rideID) }

// LedBy returns, in ascending order, the rides still in ELECTION whose leader
// is the given taxi.
func (t *Table) LedBy(taxiID int) []int {
	var ids []int
	for id, r := range t.records {
		if r.Phase == PhaseElection && r.Leader.TaxiID == taxiID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Pending returns, in ascending order, every ride still in ELECTION.
func (t *Table) Pending() []int {
	var ids []int
	for id, r := range t.records {
		if r.Phase == PhaseElection {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Clear removes every record.
func (t *Table) Clear() { t.records = make(map[int]*Record) }

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }
