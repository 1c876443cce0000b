package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/seta/app"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Run the admin registry server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		flush, err := app.Setup(cfg, "admin")
		if err != nil {
			return err
		}
		defer flush()
		srv, err := app.NewAdminServer(cfg, nil)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
}
