package main

import (
	"fmt"

	"crewlink/pkg/config"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "crewlink stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Graceful shutdown of the coordination daemon",
		Long:  "Sends SIGTERM to the daemon process recorded in the PID file.\nThe daemon drains its subscribers and removes its socket on exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pid := pidPath(cfg)

			status, daemonPID, err := DaemonStatus(pid)
			if err != nil {
				return err
			}

			switch status {
			case StatusStopped:
				fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
				return nil
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				return RemovePIDFile(pid)
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "sending SIGTERM to daemon (PID %d)\n", daemonPID)
				if err := StopDaemon(pid); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			}

			return nil
		},
	}
}
