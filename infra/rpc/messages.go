package rpc

import (
	"github.com/kilianp07/seta/core/election"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/ring"
)

// serviceName is the name the ring service is registered under.
const serviceName = "Taxi"

type AnnounceArgs struct {
	Announcement ring.Announcement
}

type PositionReply struct {
	Position model.Position
}

type DepartureArgs struct {
	TaxiID int
}

type ForwardArgs struct {
	Token ring.ElectionToken
}

type ElectedArgs struct {
	RideID int
	Winner election.Candidate
}

type ApprovalArgs struct {
	Requester int
	Timestamp int64
}

type FreeArgs struct {
	From int
	Hold int64
}

// BoolReply answers ForwardElection (retry).
type BoolReply struct {
	Value bool
}

// ApprovalReply answers RequestRechargeApproval. Hold is the timestamp of
// the denier's request when Approved is false.
type ApprovalReply struct {
	Approved bool
	Hold     int64
}

// Ack is the reply of notification calls. gob refuses structs without
// exported fields.
type Ack struct {
	OK bool
}
