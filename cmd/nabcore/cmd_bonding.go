package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"nabcore/internal/logging"
	"nabcore/pkg/bonding"
	"nabcore/pkg/configstore"
	"nabcore/pkg/satellite"
)

// newBondingCmd creates the "nabcore bonding" command group.
func newBondingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bonding",
		Short: "Pair this device with a remote peer",
	}
	cmd.AddCommand(
		newBondingRunCmd(),
		newIntentCmd(bonding.IntentPropose, "propose <handle>", "Propose bonding to a peer", cobra.ExactArgs(1)),
		newIntentCmd(bonding.IntentAccept, "accept", "Accept the pending proposal", cobra.NoArgs),
		newIntentCmd(bonding.IntentReject, "reject", "Reject the pending proposal", cobra.NoArgs),
		newIntentCmd(bonding.IntentDissolve, "dissolve", "End the current bond or proposal", cobra.NoArgs),
		newBondingLoginCmd(),
	)
	return cmd
}

func newBondingRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bonding satellite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.Init(bonding.ClientName, cfg.Log.Level, cfg.Log.Format)

			store, err := configstore.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			svc := bonding.NewService(bonding.Config{PollInterval: cfg.Bonding.PollInterval.Std()}, store, nil, log)
			return runSatellite(cmd.Context(), cfg, satelliteDaemon{
				name:    bonding.ClientName,
				handler: svc,
				load:    svc.Load,
				attach:  func(c *satellite.Client) { svc.Attach(c) },
				poll: func(ctx context.Context, c *satellite.Client) {
					// Open the feed session and replay the backlog once.
					c.Submit(func(ctx context.Context) {
						if err := svc.OnReload(ctx); err != nil {
							log.Warn().Err(err).Msg("initial feed setup")
						}
					})
					svc.Run(ctx, c)
				},
			}, log)
		},
	}
}

// newIntentCmd writes a local intent into the bonding record and signals
// the daemon to apply it.
func newIntentCmd(kind bonding.IntentKind, use, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			intent := bonding.Intent{Kind: kind}
			if len(argv) == 1 {
				intent.Peer = argv[0]
			}
			return updateBonding(cmd, func(rec *bonding.Record) { rec.Intent = &intent })
		},
	}
}

// newBondingLoginCmd stores the feed account used by the daemon.
func newBondingLoginCmd() *cobra.Command {
	var acct bonding.Account
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the feed account credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if acct.Instance == "" || acct.Username == "" || acct.AccessToken == "" {
				return errors.New("--instance, --username and --token are required")
			}
			return updateBonding(cmd, func(rec *bonding.Record) { rec.Account = acct })
		},
	}
	cmd.Flags().StringVar(&acct.Instance, "instance", "", "feed instance host")
	cmd.Flags().StringVar(&acct.Username, "username", "", "account user name")
	cmd.Flags().StringVar(&acct.AccessToken, "token", "", "access token")
	return cmd
}

// updateBonding loads the record, applies mutate, saves it, and asks a
// running daemon to reload.
func updateBonding(cmd *cobra.Command, mutate func(*bonding.Record)) error {
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
	var rec bonding.Record
	if err := store.Load(ctx, bonding.RecordKey, &rec); err != nil && !errors.Is(err, configstore.ErrNotFound) {
		return err
	}
	rec = rec.Normalize()
	mutate(&rec)
	if err := store.Save(ctx, bonding.RecordKey, rec); err != nil {
		return err
	}

	if err := SignalDaemon(cfg.PIDPath(bonding.ClientName), syscall.SIGHUP); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "saved; applied when the bonding daemon starts (%v)\n", err)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "saved; bonding daemon notified")
	return nil
}
