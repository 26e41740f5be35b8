package main

import (
	"fmt"

	"crewlink/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root crewlink command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crewlink",
		Short:         "Crewlink agent coordination daemon and client",
		Long:          "crewlink is the single entry point for crew coordination.\nIt runs the coordination daemon and talks to it over its Unix socket.",
		Version:       fmt.Sprintf("crewlink %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of formatted text")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $CREWLINK_CONFIG or ~/.crewlink/config.yaml)")

	cmd.AddCommand(
		newServeCmd(),
		newStopCmd(),
		newStatusCmd(),
		newSendCmd(),
		newEventCmd(),
		newSyncCmd(),
		newStateCmd(),
		newRespondCmd(),
		newPendingCmd(),
		newConflictsCmd(),
		newReportCmd(),
		newResolveCmd(),
		newEventsCmd(),
		newHistoryCmd(),
		newTailCmd(),
	)

	return cmd
}

//nolint:gochecknoglobals // cobra persistent flags bind to package-level vars
var (
	jsonOutput bool
	configPath string
)
