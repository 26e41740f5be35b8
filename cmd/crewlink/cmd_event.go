package main

import (
	"encoding/json"
	"fmt"

	"crewlink/pkg/coord"
	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// eventConfig holds flag values for the event command.
type eventConfig struct {
	to       string
	priority int
	data     string
}

// newEventCmd creates the "crewlink event" subcommand.
func newEventCmd() *cobra.Command {
	var cfg eventConfig

	cmd := &cobra.Command{
		Use:   "event <execution-id> <from-agent> <event-type>",
		Short: "Publish a coordination event",
		Long: `Publishes a typed event from one crew member. Without --to the event
is broadcast. --data attaches a JSON object payload.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data protocol.Value
			if cfg.data != "" {
				if err := json.Unmarshal([]byte(cfg.data), &data); err != nil {
					return fmt.Errorf("parse --data (want a JSON object): %w", err)
				}
			}

			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var rcpt coord.Receipt
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameEvent,
				Event: &protocol.EventPayload{
					ExecutionID: args[0],
					FromAgentID: args[1],
					EventType:   args[2],
					ToAgentID:   cfg.to,
					EventData:   data,
					Priority:    cfg.priority,
				},
			}, &rcpt)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				return printJSON(w, rcpt)
			}
			fmt.Fprintf(w, "event %s (%s) delivered to %d agent(s)\n", rcpt.Interaction.ID, args[2], rcpt.Delivered)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.to, "to", "", "recipient agent ID (default: broadcast)")
	cmd.Flags().IntVar(&cfg.priority, "priority", 0, "event priority 1-10 (default 5)")
	cmd.Flags().StringVar(&cfg.data, "data", "", "event payload as a JSON object")

	return cmd
}
