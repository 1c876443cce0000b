package app

import (
	"context"
	"fmt"

	"github.com/kilianp07/seta/config"
	"github.com/kilianp07/seta/infra/logger"
	"github.com/kilianp07/seta/infra/mqtt"
	"github.com/kilianp07/seta/simulator"
)

// RunRides publishes random rides on the broker until ctx ends.
func RunRides(ctx context.Context, cfg *config.Config) error {
	log := logger.New("rides")
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = "rides"
	pub, err := mqtt.NewPahoClient(mqttCfg, cfg.City)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer pub.Disconnect()

	gen := simulator.NewGenerator(pub, generatorConfig(cfg), log)
	if err := gen.Run(ctx); err != nil {
		return err
	}
	st := gen.Stats()
	log.Infof("published %d rides, resent %d, %d confirmed, %d pending", st.Published, st.Resent, st.Confirmed, st.Pending)
	return nil
}

func generatorConfig(cfg *config.Config) simulator.GeneratorConfig {
	return simulator.GeneratorConfig{
		City:         cfg.City,
		RideInterval: cfg.Simulation.RideInterval,
		RidesPerTick: cfg.Simulation.RidesPerTick,
		ResendAfter:  cfg.Simulation.ResendAfter,
		Seed:         cfg.Simulation.Seed,
	}
}
