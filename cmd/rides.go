package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/seta/app"
)

var ridesCmd = &cobra.Command{
	Use:   "rides",
	Short: "Publish random ride requests on the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.MQTT.Validate(); err != nil {
			return err
		}
		flush, err := app.Setup(cfg, "rides")
		if err != nil {
			return err
		}
		defer flush()
		return app.RunRides(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(ridesCmd)
}
