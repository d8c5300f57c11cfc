package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/pairwatch/cmd/detect"
	"github.com/tphakala/pairwatch/cmd/monitor"
	"github.com/tphakala/pairwatch/cmd/pair"
	"github.com/tphakala/pairwatch/internal/app"
)

// RootCommand creates and returns the root command
func RootCommand(rt *app.Runtime) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pairwatch",
		Short:         "Paired camera/monitor object alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       rt.Build.GetVersion(),
	}

	setupFlags(rootCmd, rt)

	rootCmd.AddCommand(
		pair.Command(rt),
		monitor.Command(rt),
		detect.Command(rt),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return rt.Init()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, rt *app.Runtime) {
	rootCmd.PersistentFlags().StringVarP(&rt.ConfigFile, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&rt.Debug, "debug", "d", false, "Enable debug output")
}
