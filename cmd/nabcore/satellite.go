package main

import (
	"context"

	"github.com/rs/zerolog"

	"nabcore/pkg/config"
	"nabcore/pkg/satellite"
)

// satelliteDaemon is what a satellite command plugs into runSatellite.
type satelliteDaemon struct {
	name    string
	handler satellite.Handler
	load    func(ctx context.Context) error
	attach  func(c *satellite.Client)
	poll    func(ctx context.Context, c *satellite.Client)
}

// runSatellite runs d until SIGTERM/SIGINT: load the record, connect with
// retry, poll, reload on SIGHUP or config writes, and drain unanswered
// commands before exiting.
func runSatellite(ctx context.Context, cfg config.Config, d satelliteDaemon, log zerolog.Logger) error {
	if err := d.load(ctx); err != nil {
		return err
	}

	client := satellite.New(satellite.Config{
		SocketPath:   cfg.SocketPath,
		Name:         d.name,
		RetryDelay:   cfg.Satellite.RetryDelay.Std(),
		DrainTimeout: cfg.Satellite.DrainTimeout.Std(),
		BufferSize:   cfg.Satellite.BufferSize,
	}, d.handler, log)
	d.attach(client)

	pidPath := cfg.PIDPath(d.name)
	if err := claimPIDFile(pidPath); err != nil {
		return err
	}
	sigCtx, cleanup := SetupSignalHandler(ctx, pidPath, client.Reload)
	defer cleanup()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	done := make(chan error, 1)
	go func() { done <- client.Run(runCtx) }()
	go d.poll(runCtx, client)
	if cfg.Path != "" {
		go func() {
			if err := client.WatchFile(runCtx, cfg.Path); err != nil {
				log.Warn().Err(err).Msg("config watch disabled")
			}
		}()
	}

	select {
	case <-sigCtx.Done():
	case err := <-done:
		return err
	}

	if err := client.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("exiting with unanswered commands")
	}
	stop()
	return <-done
}
