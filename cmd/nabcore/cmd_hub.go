package main

import (
	"github.com/spf13/cobra"

	"nabcore/internal/logging"
	"nabcore/pkg/hardware"
	"nabcore/pkg/hub"
)

// newHubCmd creates the "nabcore hub" subcommand.
func newHubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hub",
		Short: "Run the hub daemon",
		Long:  "Binds the local socket, arbitrates modes between satellites,\nand executes their command sequences on the hardware.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.Init("hub", cfg.Log.Level, cfg.Log.Format)

			pidPath := cfg.PIDPath("hub")
			if err := claimPIDFile(pidPath); err != nil {
				return err
			}
			ctx, cleanup := SetupSignalHandler(cmd.Context(), pidPath, nil)
			defer cleanup()

			db, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			sim := hardware.NewSim(hardware.SimConfig{}, log)
			defer sim.Close()

			h := hub.New(hub.Config{
				SocketPath:      cfg.SocketPath,
				GraceWindow:     cfg.Hub.GraceWindow.Std(),
				ShutdownTimeout: cfg.Hub.ShutdownTimeout.Std(),
				WriteTimeout:    cfg.Hub.WriteTimeout.Std(),
				OutboxSize:      cfg.Hub.OutboxSize,
			}, sim, db, log)
			return h.Run(ctx)
		},
	}
}
