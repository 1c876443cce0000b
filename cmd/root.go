package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/seta/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "seta",
	Short:         "Autonomous taxi fleet with district rings",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration file. A missing default file yields
// the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !cmd.Flags().Changed("config") && errors.Is(err, fs.ErrNotExist) {
		if _, ferr := fmt.Fprintf(cmd.ErrOrStderr(), "%s not found, using defaults\n", cfgPath); ferr != nil {
			fmt.Fprintln(os.Stderr, ferr)
		}
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}
