package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/seta/config"
	coreregistry "github.com/kilianp07/seta/core/registry"
	"github.com/kilianp07/seta/infra/logger"
	"github.com/kilianp07/seta/simulator"
)

// RunSimulation runs a whole fleet in one process: the taxis, the ride
// generator and the admin API over the fleet registry. It stops after the
// configured duration or when ctx ends.
func RunSimulation(ctx context.Context, cfg *config.Config) error {
	log := logger.New("simulation")
	if cfg.Simulation.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Simulation.Duration)
		defer cancel()
	}

	sink, release, err := newMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		return err
	}
	defer release()

	reg := coreregistry.NewMemoryRegistry(cfg.City, coreregistry.WithHistory(cfg.Admin.History))
	admin, err := NewAdminServer(cfg, reg)
	if err != nil {
		return err
	}

	base := TaxiConfig(cfg)
	fleet := simulator.NewFleet(base, logger.ForTaxi, simulator.WithMetrics(sink), simulator.WithRegistry(reg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return admin.Run(gctx) })
	if err := fleet.Start(ctx, cfg.Simulation.Taxis); err != nil {
		log.Errorf("start fleet: %v", err)
		g.Go(func() error { return err })
	} else {
		gen := simulator.NewGenerator(fleet.Broker(), generatorConfig(cfg), log)
		g.Go(func() error { return gen.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			st := gen.Stats()
			log.Infof("published %d rides, resent %d, %d confirmed, %d pending", st.Published, st.Resent, st.Confirmed, st.Pending)
			return nil
		})
	}
	err = g.Wait()

	shutCtx, cancel := context.WithTimeout(context.Background(), base.RideDelay+base.RechargeDelay+10*time.Second)
	defer cancel()
	if cerr := fleet.Close(shutCtx); cerr != nil {
		log.Warnf("fleet shutdown: %v", cerr)
	}
	return err
}
