package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nabcore/internal/version"
	"nabcore/pkg/config"
)

// newRootCmd creates the root nabcore command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "nabcore",
		Short:         "Appliance hub and satellites",
		Long:          "nabcore runs the hub that owns the appliance hardware and the\nsatellites that drive it over the local socket.",
		Version:       fmt.Sprintf("nabcore %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv(config.EnvConfig, configPath)
			}
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $NAB_HOME/config.yaml)")

	cmd.AddCommand(
		newHubCmd(),
		newBondingCmd(),
		newAdvisoryCmd(),
		newLogsCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return cmd
}

// loadConfig resolves the config file and makes sure the home directory
// exists.
func loadConfig() (config.Config, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return config.Config{}, fmt.Errorf("create %s: %w", cfg.Home, err)
	}
	return cfg, nil
}
