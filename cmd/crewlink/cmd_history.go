package main

import (
	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// historyConfig holds flag values for the history command.
type historyConfig struct {
	agent  string
	kind   string
	limit  int
	offset int
}

// newHistoryCmd creates the "crewlink history" subcommand.
func newHistoryCmd() *cobra.Command {
	var cfg historyConfig

	cmd := &cobra.Command{
		Use:   "history <execution-id>",
		Short: "Page through the interaction record",
		Long: `Lists an execution's interactions newest first. --agent restricts to
what one agent sent, received, or saw broadcast; --kind filters to
message, event, state_sync, or conflict.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var page []protocol.Interaction
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameHistory,
				History: &protocol.HistoryPayload{
					ExecutionID: args[0],
					AgentID:     cfg.agent,
					Kind:        protocol.Kind(cfg.kind),
					Limit:       cfg.limit,
					Offset:      cfg.offset,
				},
			}, &page)
			if err != nil {
				return err
			}

			return printInteractions(cmd.OutOrStdout(), page)
		},
	}

	cmd.Flags().StringVar(&cfg.agent, "agent", "", "restrict to one agent's view")
	cmd.Flags().StringVar(&cfg.kind, "kind", "", "filter by kind (message, event, state_sync, conflict)")
	cmd.Flags().IntVar(&cfg.limit, "limit", 0, "page size (default 50)")
	cmd.Flags().IntVar(&cfg.offset, "offset", 0, "rows to skip")

	return cmd
}
