package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"nabcore/pkg/advisory"
	"nabcore/pkg/bonding"
	"nabcore/pkg/config"
	"nabcore/pkg/configstore"
	"nabcore/pkg/eventlog"
)

// Theme holds the status view colors.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default status theme.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// daemonRow is one line of the daemons section.
type daemonRow struct {
	Name   string
	Status DaemonState
	PID    int
}

// statusView is everything `nabcore status` shows.
type statusView struct {
	Daemons  []daemonRow
	Mode     string
	Bonding  *bonding.Record
	Advisory *advisory.State
}

// newStatusCmd creates the "nabcore status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, mode and satellite state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			view, err := collectStatus(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), view, DefaultTheme())
			return nil
		},
	}
}

func collectStatus(ctx context.Context, cfg config.Config) (statusView, error) {
	var view statusView
	for _, name := range []string{"hub", bonding.ClientName, advisory.ClientName} {
		st, pid, err := DaemonStatus(cfg.PIDPath(name))
		if err != nil {
			return view, err
		}
		view.Daemons = append(view.Daemons, daemonRow{Name: name, Status: st, PID: pid})
	}

	view.Mode = "offline"
	if view.Daemons[0].Status == StatusRunning {
		view.Mode = lastMode(ctx, cfg.DBPath)
	}

	store, err := configstore.Open(cfg.StorePath)
	if err != nil {
		return view, err
	}
	defer store.Close()

	var rec bonding.Record
	switch err := store.Load(ctx, bonding.RecordKey, &rec); {
	case err == nil:
		rec = rec.Normalize()
		view.Bonding = &rec
	case !errors.Is(err, configstore.ErrNotFound):
		return view, err
	}
	var st advisory.State
	switch err := store.Load(ctx, advisory.StateKey, &st); {
	case err == nil:
		st = st.Normalize()
		view.Advisory = &st
	case !errors.Is(err, configstore.ErrNotFound):
		return view, err
	}
	return view, nil
}

// lastMode reads the most recent mode change from the event log.
func lastMode(ctx context.Context, dbPath string) string {
	r, err := eventlog.NewReader(dbPath)
	if err != nil {
		return "unknown"
	}
	defer r.Close()
	events, err := r.Query(ctx, eventlog.QueryOpts{EventType: "mode_change", Limit: 1})
	if err != nil || len(events) == 0 {
		return "idle"
	}
	// Payload is "prev->next".
	_, next, ok := strings.Cut(events[0].Payload, "->")
	if !ok {
		return events[0].Payload
	}
	return next
}

func renderStatus(w io.Writer, v statusView, theme Theme) {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary)
	muted := lipgloss.NewStyle().Foreground(theme.Muted)
	colors := map[DaemonState]lipgloss.Color{
		StatusRunning: theme.Success,
		StatusStale:   theme.Warning,
		StatusStopped: theme.Error,
	}

	lines := []string{title.Render("Daemons")}
	for _, d := range v.Daemons {
		state := lipgloss.NewStyle().Foreground(colors[d.Status]).Render(string(d.Status))
		line := fmt.Sprintf("  %-9s %s", d.Name, state)
		if d.PID != 0 {
			line += muted.Render(fmt.Sprintf(" (PID %d)", d.PID))
		}
		lines = append(lines, line)
	}

	lines = append(lines, "", title.Render("Hub"), "  mode: "+v.Mode)

	lines = append(lines, "", title.Render("Bonding"))
	if v.Bonding == nil {
		lines = append(lines, muted.Render("  not configured"))
	} else {
		b := v.Bonding
		lines = append(lines, "  state: "+string(b.State))
		if b.PeerHandle != "" {
			lines = append(lines, "  peer:  "+b.PeerHandle)
		}
		if b.Account.AccessToken == "" {
			lines = append(lines, lipgloss.NewStyle().Foreground(theme.Warning).Render("  feed:  signed out"))
		}
		if b.Intent != nil {
			lines = append(lines, "  pending: "+string(b.Intent.Kind))
		}
	}

	lines = append(lines, "", title.Render("Advisory"))
	if v.Advisory == nil {
		lines = append(lines, muted.Render("  not configured"))
	} else {
		a := v.Advisory
		level := "unknown"
		if a.LastLevel != nil {
			level = fmt.Sprintf("%d", *a.LastLevel)
		}
		lines = append(lines,
			fmt.Sprintf("  metric: %s  visual: %s", a.Metric, a.Visual),
			fmt.Sprintf("  level:  %s %s", level, a.LastCity))
		if a.PerformRequested() {
			lines = append(lines, "  pending: perform")
		}
	}

	fmt.Fprintln(w, strings.TrimRight(lipgloss.JoinVertical(lipgloss.Left, lines...), "\n"))
}
