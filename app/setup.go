// Package app assembles the seta commands from the configuration: the taxi
// agent, the admin registry server, the ride generator and the in-process
// simulation.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/seta/config"
	coremetrics "github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/monitoring"
	"github.com/kilianp07/seta/core/taxi"
	"github.com/kilianp07/seta/infra/logger"
	"github.com/kilianp07/seta/infra/metrics"
	inframon "github.com/kilianp07/seta/infra/monitoring"
)

// Setup configures logging and error reporting for a command. The returned
// function flushes them and must be called before exiting.
func Setup(cfg *config.Config, service string) (func(), error) {
	closer, err := logger.Setup(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	mon, err := inframon.NewSentryMonitor(cfg.Sentry, service)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	monitoring.Init(mon)
	return func() {
		monitoring.Flush(2 * time.Second)
		_ = closer.Close()
	}, nil
}

// TaxiConfig maps the file configuration onto the settings of one taxi.
func TaxiConfig(cfg *config.Config) taxi.Config {
	return taxi.Config{
		Identity: cfg.Taxi.Identity(),
		City:     cfg.City,

		ConsumptionPerUnit: cfg.Battery.ConsumptionPerUnit,
		RechargeThreshold:  cfg.Battery.RechargeThreshold,

		RideDelay:           cfg.Timing.RideDelay,
		RechargeDelay:       cfg.Timing.RechargeDelay,
		RechargeRetry:       cfg.Timing.RechargeRetry,
		StatsInterval:       cfg.Timing.StatsInterval,
		ForwardRetryTimeout: cfg.Timing.ForwardRetryTimeout,
		CallTimeout:         cfg.Timing.CallTimeout,
	}
}

// sinkCloser is implemented by sinks holding a connection.
type sinkCloser interface{ Close() }

// newMetrics builds the configured sinks and, when an address is set,
// starts the Prometheus endpoint until ctx ends.
func newMetrics(ctx context.Context, cfg coremetrics.Config, log logger.Logger) (coremetrics.MetricsSink, func(), error) {
	sink, err := coremetrics.NewMetricsSink(cfg.Sinks)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics sinks: %w", err)
	}
	release := func() {
		if c, ok := sink.(sinkCloser); ok {
			c.Close()
		}
	}
	if cfg.PrometheusAddr == "" {
		return sink, release, nil
	}
	srv, err := metrics.NewPromServer(cfg.PrometheusAddr, nil, log)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("metrics endpoint: %w", err)
	}
	promCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(promCtx); err != nil {
			log.Errorf("metrics endpoint: %v", err)
		}
	}()
	return sink, func() {
		cancel()
		<-done
		release()
	}, nil
}
