package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/seta/app"
)

var taxiFlags struct {
	id   int
	host string
	port int
}

var taxiCmd = &cobra.Command{
	Use:   "taxi",
	Short: "Run a taxi agent",
	Long: `Run a taxi agent. The taxi registers with the admin server, joins the
ring of its district and takes rides from the broker. Type "recharge" to
send it to the station and "quit" to leave the fleet.`,
	RunE: runTaxi,
}

func init() {
	taxiCmd.Flags().IntVar(&taxiFlags.id, "id", 0, "taxi id, overrides taxi.id")
	taxiCmd.Flags().StringVar(&taxiFlags.host, "host", "", "host the other taxis dial, overrides taxi.host")
	taxiCmd.Flags().IntVar(&taxiFlags.port, "port", 0, "ring server port, defaults to 9000+id")
	rootCmd.AddCommand(taxiCmd)
}

func runTaxi(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("id") {
		cfg.Taxi.ID = taxiFlags.id
		cfg.Taxi.Port = 0
	}
	if cmd.Flags().Changed("host") {
		cfg.Taxi.Host = taxiFlags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Taxi.Port = taxiFlags.port
	}
	cfg.Taxi.SetDefaults()
	if err := cfg.Taxi.Validate(); err != nil {
		return err
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return err
	}

	flush, err := app.Setup(cfg, "taxi")
	if err != nil {
		return err
	}
	defer flush()
	svc, err := app.NewTaxiService(ctx, cfg)
	if err != nil {
		return err
	}
	return svc.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
