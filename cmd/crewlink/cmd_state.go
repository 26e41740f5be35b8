package main

import (
	"encoding/json"
	"fmt"

	"crewlink/pkg/protocol"
	"crewlink/pkg/state"

	"github.com/spf13/cobra"
)

// newStateCmd creates the "crewlink state" subcommand.
func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <execution-id> <state-key>",
		Short: "Read the current value of a shared state key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var entry state.Entry
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameStateGet,
				StateGet: &protocol.StateGetPayload{
					ExecutionID: args[0],
					StateKey:    args[1],
				},
			}, &entry)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				return printJSON(w, entry)
			}
			value, err := json.Marshal(entry.Value)
			if err != nil {
				return fmt.Errorf("marshal value: %w", err)
			}
			fmt.Fprintf(w, "%s @v%d (updated %s)\n%s\n", entry.StateKey, entry.Version, entry.UpdatedAt.Format("2006-01-02 15:04:05"), value)
			return nil
		},
	}
}
