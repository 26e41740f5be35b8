package main

import (
	"fmt"

	"crewlink/pkg/config"
	"crewlink/pkg/gateway"
	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "crewlink status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state",
		Long:  "Displays the daemon process status from the PID file and probes\nthe Unix socket with a ping when the process is alive.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			status, pid, err := DaemonStatus(pidPath(cfg))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "daemon: %s", status)
			if pid != 0 {
				fmt.Fprintf(w, " (PID %d)", pid)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "socket: %s\n", cfg.SocketPath)
			fmt.Fprintf(w, "db:     %s\n", cfg.DBPath)

			if status != StatusRunning {
				return nil
			}

			cli, err := gateway.Dial(cfg.SocketPath)
			if err != nil {
				fmt.Fprintf(w, "ping:   failed (%v)\n", err)
				return nil
			}
			defer cli.Close()

			resp, err := cli.Do(cmd.Context(), protocol.Frame{Type: protocol.FramePing})
			if err != nil || resp.Type != protocol.FramePong {
				fmt.Fprintln(w, "ping:   no response")
				return nil
			}
			fmt.Fprintln(w, "ping:   ok")
			return nil
		},
	}
}
