// Package monitor holds the commands that run and control the monitoring
// side of a pairing.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pairwatch/internal/app"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/httpclient"
	"github.com/tphakala/pairwatch/internal/httpserver"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/monitoring"
)

// Command returns the monitor command group.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch a pairing for alerts and control a running monitor",
	}
	cmd.AddCommand(
		startCommand(rt),
		resumeCommand(rt),
		statusCommand(rt),
		stopCommand(rt),
		watchCommand(rt),
	)
	return cmd
}

func startCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "start <code> [object...]",
		Short: "Start monitoring a pairing until stopped or interrupted",
		Long: `Start monitoring a pairing. Every alert of the pairing is printed;
alerts for the listed objects also trigger notifications. The session is
remembered, so "monitor resume" picks it up after a restart.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, objects := args[0], args[1:]
			return run(cmd, rt, func(ctx context.Context, s *monitoring.Session) error {
				return s.Start(ctx, code, objects)
			})
		},
	}
}

func resumeCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the monitoring session recorded by a previous run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rt, func(ctx context.Context, s *monitoring.Session) error {
				return s.Resume(ctx)
			})
		},
	}
}

func run(cmd *cobra.Command, rt *app.Runtime, start func(context.Context, *monitoring.Session) error) error {
	a, err := rt.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	m, err := a.NewMonitor(app.MonitorOptions{
		OnAlert: func(ev monitoring.AlertEvent) { printAlert(out, ev) },
	})
	if err != nil {
		return err
	}
	return m.Run(cmd.Context(), func(ctx context.Context) error {
		if err := start(ctx, m.Session); err != nil {
			return err
		}
		fmt.Fprintf(out, "Monitoring %s, watching %s\n", m.Session.PairingCode(), describeWatchList(m.Session.WatchList()))
		return nil
	})
}

func statusCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rt, func(ctx context.Context, c *httpserver.Client) (httpserver.SessionResponse, error) {
				return c.Session(ctx)
			})
		},
	}
}

func stopCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running monitor and forget its session",
		Long: `Stop the running monitor. When no monitor is reachable the recorded
session is cleared instead, so a later "monitor resume" does not restart it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withClient(cmd, rt, func(ctx context.Context, c *httpserver.Client) (httpserver.SessionResponse, error) {
				return c.Stop(ctx)
			})
			if err == nil || !errors.IsCategory(err, errors.CategoryNetwork) {
				return err
			}

			local, lerr := app.OpenLocalStore(rt.Settings.Local)
			if lerr != nil {
				return lerr
			}
			if _, ok := localstore.LoadActiveMonitoring(local); !ok {
				return err
			}
			if lerr := localstore.ClearActiveMonitoring(local); lerr != nil {
				return lerr
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No monitor running; recorded session cleared")
			return nil
		},
	}
}

func watchCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [object...]",
		Short: "Replace the watch list of the running monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rt, func(ctx context.Context, c *httpserver.Client) (httpserver.SessionResponse, error) {
				return c.UpdateWatchList(ctx, args)
			})
		},
	}
}

const controlTimeout = 10 * time.Second

// withClient calls the status server of the running monitor and prints the
// session it reports.
func withClient(cmd *cobra.Command, rt *app.Runtime, call func(context.Context, *httpserver.Client) (httpserver.SessionResponse, error)) error {
	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "pairwatch/" + rt.Build.GetVersion()
	hc := httpclient.New(&cfg)
	defer hc.Close()

	c, err := httpserver.NewClient(rt.Settings.HTTP.Listen, hc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
	defer cancel()

	resp, err := call(ctx, c)
	if err != nil {
		return err
	}
	printSession(cmd.OutOrStdout(), resp)
	return nil
}

func printSession(w io.Writer, s httpserver.SessionResponse) {
	fmt.Fprintf(w, "State:   %s\n", s.State)
	if s.PairingCode != "" {
		fmt.Fprintf(w, "Pairing: %s\n", s.PairingCode)
		fmt.Fprintf(w, "Watch:   %s\n", describeWatchList(s.WatchList))
	}
}

func printAlert(w io.Writer, ev monitoring.AlertEvent) {
	var tags []string
	if ev.Historical {
		tags = append(tags, "historical")
	}
	if ev.Matched {
		tags = append(tags, "watched")
	}
	suffix := ""
	if len(tags) > 0 {
		suffix = " [" + strings.Join(tags, ", ") + "]"
	}
	fmt.Fprintf(w, "%s  %-16s %.2f%s\n",
		ev.Alert.Timestamp.Local().Format(time.DateTime), ev.Alert.ObjectLabel, ev.Alert.Confidence, suffix)
}

func describeWatchList(objects []string) string {
	if len(objects) == 0 {
		return "nothing"
	}
	return strings.Join(objects, ", ")
}
