package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving taxi events.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes taxi events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

var _ coremetrics.MetricsSink = (*InfluxSink)(nil)

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordStatus writes a state machine transition.
func (s *InfluxSink) RecordStatus(ev coremetrics.StatusEvent) error {
	p := write.NewPointWithMeasurement("taxi_status").
		AddTag("taxi_id", strconv.Itoa(ev.TaxiID)).
		AddTag("from", ev.From.String()).
		AddTag("to", ev.To.String()).
		AddField("status", int(ev.To)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordElection writes one election step.
func (s *InfluxSink) RecordElection(ev coremetrics.ElectionEvent) error {
	p := write.NewPointWithMeasurement("election_event").
		AddTag("taxi_id", strconv.Itoa(ev.TaxiID)).
		AddTag("action", string(ev.Action)).
		AddField("ride_id", ev.RideID).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordRecharge writes a station grant.
func (s *InfluxSink) RecordRecharge(ev coremetrics.RechargeEvent) error {
	p := write.NewPointWithMeasurement("recharge_granted").
		AddTag("taxi_id", strconv.Itoa(ev.TaxiID)).
		AddTag("district", ev.District.String()).
		AddField("waited_ms", round3(float64(ev.Waited)/float64(time.Millisecond))).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordStatistics writes a statistics report.
func (s *InfluxSink) RecordStatistics(st model.Statistics) error {
	ts := st.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	p := write.NewPointWithMeasurement("taxi_statistics").
		AddTag("taxi_id", strconv.Itoa(st.TaxiID)).
		AddField("kilometers", round3(st.Kilometers)).
		AddField("rides", st.Rides).
		AddField("battery", round3(st.Battery)).
		SetTime(ts)
	return s.write(p)
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
