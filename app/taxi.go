package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kilianp07/seta/config"
	coremetrics "github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/pubsub"
	"github.com/kilianp07/seta/core/taxi"
	"github.com/kilianp07/seta/infra/logger"
	"github.com/kilianp07/seta/infra/mqtt"
	"github.com/kilianp07/seta/infra/registry"
	"github.com/kilianp07/seta/infra/rpc"
)

// TaxiService runs one taxi agent: its ring RPC server, its broker session
// and its registry client.
type TaxiService struct {
	Node *taxi.Node

	cfg     *config.Config
	server  *rpc.Server
	mqtt    *mqtt.PahoClient
	sink    coremetrics.MetricsSink
	release func()
	log     logger.Logger
}

// NewTaxiService connects the taxi collaborators. The node is started by
// Run.
func NewTaxiService(ctx context.Context, cfg *config.Config) (*TaxiService, error) {
	log := logger.ForTaxi(cfg.Taxi.ID)

	reg, err := registry.NewClient(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("registry client: %w", err)
	}
	mqttCfg := cfg.MQTT
	if mqttCfg.ClientID == "seta" || mqttCfg.ClientID == "" {
		mqttCfg.ClientID = fmt.Sprintf("taxi-%d", cfg.Taxi.ID)
	}
	rides, err := mqtt.NewPahoClient(mqttCfg, cfg.City)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	sink, release, err := newMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		rides.Disconnect()
		return nil, err
	}
	server := rpc.NewServer(cfg.Taxi.ListenAddr(), log)
	node, err := taxi.New(TaxiConfig(cfg), taxi.Deps{
		Registry: reg,
		Rides:    pubsub.NewSynchronized(rides),
		Dialer:   rpc.Dialer{Timeout: cfg.RPC.DialTimeout, Retries: cfg.RPC.DialRetries},
		Server:   server,
		Logger:   log,
		Metrics:  sink,
	})
	if err != nil {
		release()
		rides.Disconnect()
		return nil, err
	}
	return &TaxiService{Node: node, cfg: cfg, server: server, mqtt: rides, sink: sink, release: release, log: log}, nil
}

// Run starts the taxi and reads operator commands from in until "quit", the
// end of in or the end of ctx, then shuts the taxi down. in is closed on
// return when it is an io.Closer.
func (s *TaxiService) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	defer s.release()
	defer s.mqtt.Disconnect()
	if err := s.Node.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "taxi %d started at %s, commands: recharge, status, quit\n", s.Node.ID(), s.Node.Position())

	readCommands(ctx, in, func(line string) bool { return s.command(line, out) })

	shutCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	return s.Node.Close(shutCtx)
}

// readCommands passes the lines of in to handle until handle returns false,
// in ends or ctx is done. An io.Closer in is closed on return to stop the
// reading goroutine; any other reader leaves it blocked until in yields.
func readCommands(ctx context.Context, in io.Reader, handle func(string) bool) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !handle(line) {
				return
			}
		}
	}
}

// command runs one operator command and reports whether to keep reading.
func (s *TaxiService) command(line string, out io.Writer) bool {
	switch strings.ToLower(line) {
	case "":
	case "quit", "exit":
		return false
	case "recharge":
		err := s.Node.RequestRecharge()
		switch {
		case errors.Is(err, taxi.ErrBusy):
			fmt.Fprintf(out, "cannot recharge now: %v\n", err)
		case err != nil:
			fmt.Fprintf(out, "recharge: %v\n", err)
		default:
			fmt.Fprintln(out, "recharge requested")
		}
	case "status":
		st := s.Node.Statistics()
		fmt.Fprintf(out, "%s at %s (%s), battery %.1f%%, %d rides, %.1f km\n",
			s.Node.Status(), s.Node.Position(), s.Node.District(), st.Battery, st.Rides, st.Kilometers)
	default:
		fmt.Fprintf(out, "unknown command %q\n", line)
	}
	return true
}

// shutdownTimeout leaves a ride and a recharge in progress time to end.
func (s *TaxiService) shutdownTimeout() time.Duration {
	return s.cfg.Timing.RideDelay + s.cfg.Timing.RechargeDelay + 2*s.cfg.Timing.CallTimeout
}
