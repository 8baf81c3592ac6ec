package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nabcore/internal/logging"
	"nabcore/pkg/advisory"
	"nabcore/pkg/configstore"
	"nabcore/pkg/feed/aqicn"
	"nabcore/pkg/satellite"
)

// newAdvisoryCmd creates the "nabcore advisory" command group.
func newAdvisoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advisory",
		Short: "Air-quality advisory",
	}
	cmd.AddCommand(newAdvisoryRunCmd(), newAdvisoryPerformCmd(), newAdvisorySetCmd())
	return cmd
}

func newAdvisoryRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the advisory satellite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.Init(advisory.ClientName, cfg.Log.Level, cfg.Log.Format)

			store, err := configstore.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			feed := aqicn.New(aqicn.Config{Token: cfg.Advisory.Token, BaseURL: cfg.Advisory.BaseURL})
			svc := advisory.NewService(advisory.Config{Interval: cfg.Advisory.Interval.Std()}, store, feed, log)
			return runSatellite(cmd.Context(), cfg, satelliteDaemon{
				name:    advisory.ClientName,
				handler: svc,
				load:    svc.Load,
				attach:  func(c *satellite.Client) { svc.Attach(c) },
				poll: func(ctx context.Context, c *satellite.Client) {
					// A perform request written while the daemon was down.
					c.Submit(func(ctx context.Context) {
						if err := svc.OnReload(ctx); err != nil {
							log.Warn().Err(err).Msg("initial reload")
						}
					})
					svc.Run(ctx, c)
				},
			}, log)
		},
	}
}

// newAdvisoryPerformCmd schedules an immediate performance and signals the
// daemon.
func newAdvisoryPerformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "perform",
		Short: "Announce the current air quality now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return updateAdvisory(cmd, func(st *advisory.State) { *st = st.RequestPerform(time.Now()) })
		},
	}
}

// newAdvisorySetCmd edits the advisory preferences.
func newAdvisorySetCmd() *cobra.Command {
	var (
		metric, visual string
		lat, lon       float64
		clearLocation  bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the advisory metric, rendering or location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if metric != "" && metric != advisory.MetricAQI && metric != advisory.MetricPM25 {
				return fmt.Errorf("unknown metric %q", metric)
			}
			if visual != "" && visual != advisory.VisualAlways && visual != advisory.VisualNever {
				return fmt.Errorf("unknown visual preference %q", visual)
			}
			if flags.Changed("lat") != flags.Changed("lon") {
				return errors.New("--lat and --lon go together")
			}
			return updateAdvisory(cmd, func(st *advisory.State) {
				if metric != "" {
					st.Metric = metric
				}
				if visual != "" {
					st.Visual = visual
				}
				if flags.Changed("lat") {
					st.Location = &aqicn.Location{Lat: lat, Lon: lon}
				}
				if clearLocation {
					st.Location = nil
				}
			})
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "", "aqi or pm25")
	cmd.Flags().StringVar(&visual, "visual", "", "always or never")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().BoolVar(&clearLocation, "here", false, "locate by IP instead of coordinates")
	return cmd
}

func updateAdvisory(cmd *cobra.Command, mutate func(*advisory.State)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := configstore.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var st advisory.State
	if err := store.Load(ctx, advisory.StateKey, &st); err != nil && !errors.Is(err, configstore.ErrNotFound) {
		return err
	}
	st = st.Normalize()
	mutate(&st)
	if err := store.Save(ctx, advisory.StateKey, st); err != nil {
		return err
	}

	if err := SignalDaemon(cfg.PIDPath(advisory.ClientName), syscall.SIGHUP); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "saved; applied when the advisory daemon starts (%v)\n", err)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "saved; advisory daemon notified")
	return nil
}
