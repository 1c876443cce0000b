package ring

import (
	"sort"

	"github.com/kilianp07/seta/core/model"
)

// Table holds the peers known to a taxi. It is not safe for concurrent use;
// the owning taxi guards it with its own lock.
type Table struct {
	peers map[int]*Peer
}

// NewTable creates an empty table.
func NewTable() *Table { return &Table{peers: make(map[int]*Peer)} }

// Put stores p, replacing and returning any previous peer with the same id.
func (t *Table) Put(p *Peer) *Peer {
	old := t.peers[p.ID()]
	t.peers[p.ID()] = p
	return old
}

// Get returns the peer with the given id.
func (t *Table) Get(id int) (*Peer, bool) {
	p, ok := t.peers[id]
	return p, ok
}

// Remove deletes and returns the peer with the given id.
func (t *Table) Remove(id int) *Peer {
	p := t.peers[id]
	delete(t.peers, id)
	return p
}

// All returns every peer ordered by id.
func (t *Table) All() []*Peer {
	res := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}

// Members returns the peers in the local district ordered by id.
func (t *Table) Members(local model.District) []*Peer {
	var res []*Peer
	for _, p := range t.All() {
		if p.District() == local {
			res = append(res, p)
		}
	}
	return res
}

// Next returns the ring successor of localID: the member with the smallest id
// above localID, wrapping to the smallest id. It is nil for a single-taxi ring.
func (t *Table) Next(localID int, local model.District) *Peer {
	members := t.Members(local)
	if len(members) == 0 {
		return nil
	}
	for _, p := range members {
		if p.ID() > localID {
			return p
		}
	}
	return members[0]
}

// Predecessor returns the ring predecessor of localID, the mirror of Next.
func (t *Table) Predecessor(localID int, local model.District) *Peer {
	members := t.Members(local)
	if len(members) == 0 {
		return nil
	}
	for i := len(members) - 1; i >= 0; i-- {
		if members[i].ID() < localID {
			return members[i]
		}
	}
	return members[len(members)-1]
}
