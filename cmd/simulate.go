package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/seta/app"
)

var simulateFlags struct {
	taxis    int
	duration time.Duration
	seed     int64
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a whole fleet and the ride generator in one process",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().IntVarP(&simulateFlags.taxis, "taxis", "n", 0, "number of taxis, overrides simulation.taxis")
	simulateCmd.Flags().DurationVarP(&simulateFlags.duration, "duration", "d", 0, "stop after this duration")
	simulateCmd.Flags().Int64Var(&simulateFlags.seed, "seed", 0, "ride generator seed")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("taxis") {
		cfg.Simulation.Taxis = simulateFlags.taxis
	}
	if cmd.Flags().Changed("duration") {
		cfg.Simulation.Duration = simulateFlags.duration
	}
	if cmd.Flags().Changed("seed") {
		cfg.Simulation.Seed = simulateFlags.seed
	}
	if err := cfg.Simulation.Validate(); err != nil {
		return err
	}
	flush, err := app.Setup(cfg, "simulation")
	if err != nil {
		return err
	}
	defer flush()
	return app.RunSimulation(ctx, cfg)
}
