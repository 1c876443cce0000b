package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/seta/core/factory"
	coremetrics "github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (r *lineRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, strings.TrimSpace(string(data)))
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (r *lineRecorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...)
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordStatusAndStatistics(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()

	require.NoError(t, sink.RecordStatus(coremetrics.StatusEvent{TaxiID: 2, From: model.StatusAvailable, To: model.StatusDriving, Time: now}))
	require.NoError(t, sink.RecordStatistics(model.Statistics{TaxiID: 2, Kilometers: 1.23456, Rides: 1, Battery: 98.7654, Timestamp: now}))

	status := write.NewPointWithMeasurement("taxi_status").
		AddTag("taxi_id", "2").
		AddTag("from", "AVAILABLE").
		AddTag("to", "DRIVING").
		AddField("status", int(model.StatusDriving)).
		SetTime(now)
	stats := write.NewPointWithMeasurement("taxi_statistics").
		AddTag("taxi_id", "2").
		AddField("kilometers", 1.235).
		AddField("rides", 1).
		AddField("battery", 98.765).
		SetTime(now)
	assert.Equal(t, []string{line(status), line(stats)}, rec.lines())
}

func TestInfluxSink_RecordElectionAndRecharge(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()

	require.NoError(t, sink.RecordElection(coremetrics.ElectionEvent{TaxiID: 1, RideID: 7, Action: coremetrics.ActionWon, Time: now}))
	require.NoError(t, sink.RecordRecharge(coremetrics.RechargeEvent{TaxiID: 1, District: model.District4, Waited: 250 * time.Millisecond, Time: now}))

	election := write.NewPointWithMeasurement("election_event").
		AddTag("taxi_id", "1").
		AddTag("action", "won").
		AddField("ride_id", 7).
		SetTime(now)
	recharge := write.NewPointWithMeasurement("recharge_granted").
		AddTag("taxi_id", "1").
		AddTag("district", "district4").
		AddField("waited_ms", 250.0).
		SetTime(now)
	assert.Equal(t, []string{line(election), line(recharge)}, rec.lines())
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}

func TestFactoryRegistersSinks(t *testing.T) {
	s, err := coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopSink{}, s)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	s, err = coremetrics.NewMetricsSink([]factory.ModuleConfig{
		{Type: "nop"},
		{Type: "influx", Conf: map[string]any{"url": srv.URL, "token": "t", "org": "o", "bucket": "b"}},
	})
	require.NoError(t, err)
	assert.IsType(t, &coremetrics.MultiSink{}, s)

	_, err = coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "statsd"}})
	assert.ErrorContains(t, err, "influx")
}
