package metrics

import (
	"go.uber.org/multierr"

	"github.com/kilianp07/seta/core/model"
)

// MultiSink fans events out to several sinks. Every sink receives the event
// even when an earlier one fails; the errors are combined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) each(fn func(MetricsSink) error) error {
	var err error
	for _, s := range m.Sinks {
		err = multierr.Append(err, fn(s))
	}
	return err
}

// RecordStatus forwards status transitions.
func (m *MultiSink) RecordStatus(ev StatusEvent) error {
	return m.each(func(s MetricsSink) error { return s.RecordStatus(ev) })
}

// RecordElection forwards election steps.
func (m *MultiSink) RecordElection(ev ElectionEvent) error {
	return m.each(func(s MetricsSink) error { return s.RecordElection(ev) })
}

// RecordRecharge forwards recharge grants.
func (m *MultiSink) RecordRecharge(ev RechargeEvent) error {
	return m.each(func(s MetricsSink) error { return s.RecordRecharge(ev) })
}

// RecordStatistics forwards periodic statistics.
func (m *MultiSink) RecordStatistics(st model.Statistics) error {
	return m.each(func(s MetricsSink) error { return s.RecordStatistics(st) })
}

// Close releases the sinks holding a connection.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
