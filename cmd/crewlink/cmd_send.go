package main

import (
	"fmt"
	"time"

	"crewlink/pkg/coord"
	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// sendConfig holds flag values for the send command.
type sendConfig struct {
	to       string
	priority int
	ask      bool
	deadline string
}

// newSendCmd creates the "crewlink send" subcommand.
func newSendCmd() *cobra.Command {
	var cfg sendConfig

	cmd := &cobra.Command{
		Use:   "send <execution-id> <from-agent> <body>",
		Short: "Post a message to the crew",
		Long: `Posts a message from one crew member. Without --to the message is
broadcast to the whole crew; with --to it is delivered to a single
agent. Use --ask to require a response, optionally with a
--deadline.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var deadline *time.Time
			if cfg.deadline != "" {
				t, err := time.Parse(time.RFC3339, cfg.deadline)
				if err != nil {
					return fmt.Errorf("parse --deadline (want RFC3339): %w", err)
				}
				deadline = &t
			}

			var rcpt coord.Receipt
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameMessage,
				Message: &protocol.MessagePayload{
					ExecutionID:      args[0],
					FromAgentID:      args[1],
					Body:             args[2],
					ToAgentID:        cfg.to,
					Priority:         cfg.priority,
					RequiresResponse: cfg.ask,
					ResponseDeadline: deadline,
				},
			}, &rcpt)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				return printJSON(w, rcpt)
			}
			fmt.Fprintf(w, "message %s delivered to %d agent(s)\n", rcpt.Interaction.ID, rcpt.Delivered)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.to, "to", "", "recipient agent ID (default: broadcast)")
	cmd.Flags().IntVar(&cfg.priority, "priority", 0, "message priority 1-10 (default 5)")
	cmd.Flags().BoolVar(&cfg.ask, "ask", false, "require a response from the recipient")
	cmd.Flags().StringVar(&cfg.deadline, "deadline", "", "response deadline, RFC3339 (implies --ask semantics only when --ask is set)")

	return cmd
}
