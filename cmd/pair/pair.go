// Package pair holds the commands that manage pairings in the remote store.
package pair

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pairwatch/internal/app"
	"github.com/tphakala/pairwatch/internal/pairing"
)

// Command returns the pair command group.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Create, inspect and remove pairings",
	}
	cmd.AddCommand(
		createCommand(rt),
		showCommand(rt),
		watchCommand(rt),
		deleteCommand(rt),
	)
	return cmd
}

func createCommand(rt *app.Runtime) *cobra.Command {
	var pushToken string

	cmd := &cobra.Command{
		Use:   "create [object...]",
		Short: "Create a pairing on the camera side and print its code",
		Example: `  pairwatch pair create cat dog
  pairwatch pair create person --push-token=abc123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Pairings.Create(cmd.Context(), pairing.NormalizeObjects(args), pushToken)
			if err != nil {
				return err
			}
			printPairing(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVar(&pushToken, "push-token", "", "Push token registered for the camera device")
	return cmd
}

func showCommand(rt *app.Runtime) *cobra.Command {
	var alerts bool

	cmd := &cobra.Command{
		Use:   "show <code>",
		Short: "Print a pairing and, optionally, its alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			code := args[0]
			p, err := a.Pairings.Validate(cmd.Context(), code)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printPairing(out, p)
			if !alerts {
				return nil
			}
			list, err := a.Pairings.Alerts(cmd.Context(), code)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Alerts:  %d\n", len(list))
			for _, al := range list {
				fmt.Fprintf(out, "  %s  %-16s %.2f  %s\n",
					al.Timestamp.Local().Format(time.DateTime), al.ObjectLabel, al.Confidence, al.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&alerts, "alerts", false, "List the alerts raised under the pairing, newest first")
	return cmd
}

func watchCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <code> [object...]",
		Short: "Replace the watch list of a pairing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			code := args[0]
			if _, err := a.Pairings.Validate(cmd.Context(), code); err != nil {
				return err
			}
			if err := a.Pairings.UpdateSelectedObjects(cmd.Context(), code, args[1:]); err != nil {
				return err
			}
			p, err := a.Pairings.Get(cmd.Context(), code)
			if err != nil {
				return err
			}
			printPairing(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func deleteCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>",
		Short: "Remove a pairing with its devices and alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			code := args[0]
			if err := a.Pairings.Delete(cmd.Context(), code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pairing %s deleted\n", code)
			return nil
		},
	}
}

func printPairing(w io.Writer, p *pairing.Pairing) {
	fmt.Fprintf(w, "Code:    %s\n", p.Code)
	fmt.Fprintf(w, "Active:  %t\n", p.IsActive)
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created: %s\n", p.CreatedAt.Local().Format(time.DateTime))
	}
	watch := "nothing"
	if len(p.SelectedObjects) > 0 {
		watch = strings.Join(p.SelectedObjects, ", ")
	}
	fmt.Fprintf(w, "Watch:   %s\n", watch)
	for _, role := range []pairing.Role{pairing.RoleCamera, pairing.RoleMonitor} {
		d, ok := p.Devices[role]
		if !ok {
			continue
		}
		seen := "never"
		if !d.LastActive.IsZero() {
			seen = d.LastActive.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%-8s last active %s\n", string(role)+":", seen)
	}
}
