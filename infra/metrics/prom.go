package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
)

// PromSink records taxi events in Prometheus metrics.
type PromSink struct {
	transitions *prometheus.CounterVec
	status      *prometheus.GaugeVec
	elections   *prometheus.CounterVec
	waits       *prometheus.HistogramVec
	kilometers  *prometheus.GaugeVec
	rides       *prometheus.GaugeVec
	battery     *prometheus.GaugeVec
}

// NewPromSink registers taxi metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// register adds c to reg, reusing an identical collector registered
// earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_status_transitions_total",
		Help: "Taxi state machine transitions",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if s.status, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taxi_status",
		Help: "Current status of each taxi, 1 for the active status",
	}, []string{"taxi_id", "status"})); err != nil {
		return nil, err
	}
	if s.elections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_election_actions_total",
		Help: "Election token handling by action",
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if s.waits, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taxi_recharge_wait_seconds",
		Help:    "Time between a recharge request and the station grant",
		Buckets: prometheus.DefBuckets,
	}, []string{"district"})); err != nil {
		return nil, err
	}
	if s.kilometers, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taxi_kilometers",
		Help: "Kilometers driven by each taxi",
	}, []string{"taxi_id"})); err != nil {
		return nil, err
	}
	if s.rides, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taxi_rides",
		Help: "Rides delivered by each taxi",
	}, []string{"taxi_id"})); err != nil {
		return nil, err
	}
	if s.battery, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taxi_battery_percent",
		Help: "Battery level of each taxi",
	}, []string{"taxi_id"})); err != nil {
		return nil, err
	}
	return s, nil
}

var _ coremetrics.MetricsSink = (*PromSink)(nil)

// RecordStatus counts the transition and moves the status gauge.
func (s *PromSink) RecordStatus(ev coremetrics.StatusEvent) error {
	id := strconv.Itoa(ev.TaxiID)
	s.transitions.WithLabelValues(ev.From.String(), ev.To.String()).Inc()
	s.status.WithLabelValues(id, ev.From.String()).Set(0)
	s.status.WithLabelValues(id, ev.To.String()).Set(1)
	return nil
}

// RecordElection counts election actions.
func (s *PromSink) RecordElection(ev coremetrics.ElectionEvent) error {
	s.elections.WithLabelValues(string(ev.Action)).Inc()
	return nil
}

// RecordRecharge observes how long the taxi waited for the station.
func (s *PromSink) RecordRecharge(ev coremetrics.RechargeEvent) error {
	s.waits.WithLabelValues(ev.District.String()).Observe(ev.Waited.Seconds())
	return nil
}

// RecordStatistics exposes the latest statistics report of a taxi.
func (s *PromSink) RecordStatistics(st model.Statistics) error {
	id := strconv.Itoa(st.TaxiID)
	s.kilometers.WithLabelValues(id).Set(st.Kilometers)
	s.rides.WithLabelValues(id).Set(float64(st.Rides))
	s.battery.WithLabelValues(id).Set(st.Battery)
	return nil
}
