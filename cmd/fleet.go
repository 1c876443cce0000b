package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/seta/infra/registry"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Query the admin server",
}

var fleetLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered taxis",
	RunE:  runFleetLs,
}

var fleetReportCmd = &cobra.Command{
	Use:   "report <taxi-id>",
	Short: "Show the statistics reported by a taxi",
	Args:  cobra.ExactArgs(1),
	RunE:  runFleetReport,
}

func init() {
	fleetCmd.AddCommand(fleetLsCmd, fleetReportCmd)
	rootCmd.AddCommand(fleetCmd)
}

func registryClient(cmd *cobra.Command) (*registry.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return registry.NewClient(cfg.Registry)
}

func runFleetLs(cmd *cobra.Command, args []string) error {
	client, err := registryClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	entries, err := client.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tSTART\tBATTERY\tRIDES\tKM")
	for _, e := range entries {
		battery, rides, km := "-", "-", "-"
		if e.Last != nil {
			battery = fmt.Sprintf("%.1f", e.Last.Battery)
			rides = strconv.Itoa(e.Last.Rides)
			km = fmt.Sprintf("%.1f", e.Last.Kilometers)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", e.Taxi.ID, e.Taxi.Address(), e.Start, battery, rides, km)
	}
	return w.Flush()
}

func runFleetReport(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid taxi id %q", args[0])
	}
	client, err := registryClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	rep, err := client.Report(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
