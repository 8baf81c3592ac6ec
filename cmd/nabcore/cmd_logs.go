package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"nabcore/pkg/eventlog"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail      int
	follow    bool
	eventType string
}

// newLogsCmd creates the "nabcore logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [client]",
		Short: "Query and tail the hub event log",
		Long:  "Displays events from the hub event log.\nOptionally filter by satellite name and follow new events.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := eventlog.QueryOpts{EventType: cfg.eventType}
			if len(args) == 1 {
				opts.Client = args[0]
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}
			reader, err := eventlog.NewReader(conf.DBPath)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer reader.Close()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followLogs(cmd.Context(), reader, w, opts, cfg.tail, time.Second)
			}
			return printLogs(cmd.Context(), reader, w, opts, cfg.tail)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().StringVar(&cfg.eventType, "type", "", "only show events of this type")

	return cmd
}

// printLogs displays the last n events in chronological order.
func printLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, opts eventlog.QueryOpts, n int) error {
	events, err := r.Tail(ctx, opts, n)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}

	for i := range events {
		formatEvent(w, &events[i])
	}
	return nil
}

// followLogs prints the tail, then polls for events past the last one
// shown until ctx is cancelled.
func followLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, opts eventlog.QueryOpts, n int, every time.Duration) error {
	events, err := r.Tail(ctx, opts, n)
	if err != nil {
		return err
	}
	for i := range events {
		formatEvent(w, &events[i])
		opts.AfterID = events[i].ID
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fresh, err := r.Tail(ctx, opts, 100)
			if err != nil {
				return err
			}
			for i := range fresh {
				formatEvent(w, &fresh[i])
				opts.AfterID = fresh[i].ID
			}
		}
	}
}

// formatEvent writes a single event in a human-readable format.
func formatEvent(w io.Writer, evt *eventlog.Event) {
	// Format: timestamp | client | event_type | conn_id | payload
	fmt.Fprintf(w, "%s | %-10s | %-16s | %-36s | %s\n",
		evt.CreatedAt.Format("2006-01-02 15:04:05"), evt.Client, evt.Type, evt.ConnID, evt.Payload)
}
