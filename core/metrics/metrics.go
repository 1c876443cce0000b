package metrics

import (
	"time"

	"github.com/kilianp07/seta/core/model"
)

// StatusEvent records a taxi state machine transition.
type StatusEvent struct {
	TaxiID int
	From   model.TaxiStatus
	To     model.TaxiStatus
	Time   time.Time
}

// ElectionAction names what a taxi did with an election token.
type ElectionAction string

const (
	ActionForwarded ElectionAction = "forwarded"
	ActionRetry     ElectionAction = "retry"
	ActionWon       ElectionAction = "won"
	ActionDropped   ElectionAction = "dropped"
	ActionRepaired  ElectionAction = "repaired"
	ActionRestarted ElectionAction = "restarted"
)

// ElectionEvent records one step of a ride election on a taxi.
type ElectionEvent struct {
	TaxiID int
	RideID int
	Action ElectionAction
	Time   time.Time
}

// RechargeEvent is recorded when a taxi is granted the recharge station.
type RechargeEvent struct {
	TaxiID   int
	District model.District
	Waited   time.Duration
	Time     time.Time
}

// MetricsSink records taxi events for observability purposes.
type MetricsSink interface {
	RecordStatus(ev StatusEvent) error
	RecordElection(ev ElectionEvent) error
	RecordRecharge(ev RechargeEvent) error
	RecordStatistics(st model.Statistics) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordStatus(StatusEvent) error          { return nil }
func (NopSink) RecordElection(ElectionEvent) error      { return nil }
func (NopSink) RecordRecharge(RechargeEvent) error      { return nil }
func (NopSink) RecordStatistics(model.Statistics) error { return nil }
