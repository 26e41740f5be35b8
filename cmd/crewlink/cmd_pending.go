package main

import (
	"fmt"
	"time"

	"crewlink/pkg/coord"
	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// newPendingCmd creates the "crewlink pending" subcommand.
func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending <execution-id> <agent-id>",
		Short: "List messages awaiting a response from an agent",
		Long:  "Lists unanswered messages the agent could respond to, flagging\nthose whose deadline is near (urgent) or past (overdue).",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var pending []coord.PendingMessage
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FramePending,
				Pending: &protocol.PendingPayload{
					ExecutionID: args[0],
					AgentID:     args[1],
				},
			}, &pending)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				for i := range pending {
					if err := printJSON(w, pending[i]); err != nil {
						return err
					}
				}
				return nil
			}

			if len(pending) == 0 {
				fmt.Fprintln(w, "no pending responses")
				return nil
			}
			for i := range pending {
				pm := &pending[i]
				marker := " "
				switch {
				case pm.Overdue:
					marker = "!"
				case pm.Urgent:
					marker = "*"
				}
				deadline := "no deadline"
				if pm.ResponseDeadline != nil {
					deadline = "due " + pm.ResponseDeadline.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s %s | from %s | %s | %s\n", marker, pm.ID, pm.FromAgentID, deadline, pm.Body)
			}
			return nil
		},
	}
}
