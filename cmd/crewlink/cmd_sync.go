package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"crewlink/pkg/gateway"
	"crewlink/pkg/protocol"
	"crewlink/pkg/state"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the "crewlink sync" subcommand.
func newSyncCmd() *cobra.Command {
	var version int64

	cmd := &cobra.Command{
		Use:   "sync <execution-id> <agent-id> <state-key> <value-json>",
		Short: "Write shared state with compare-and-swap",
		Long: `Writes a shared state value. --version is the version the agent
believes is current; 0 creates the key. On a version conflict the
daemon files a concurrent_update conflict and this command prints
the actual current version and value.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value protocol.Value
			if err := json.Unmarshal([]byte(args[3]), &value); err != nil {
				return fmt.Errorf("parse value (want a JSON object): %w", err)
			}

			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var entry state.Entry
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameStateSync,
				StateSync: &protocol.StateSyncPayload{
					ExecutionID:  args[0],
					FromAgentID:  args[1],
					StateKey:     args[2],
					StateValue:   value,
					StateVersion: version,
				},
			}, &entry)

			w := cmd.OutOrStdout()
			var remote *gateway.RemoteError
			if errors.As(err, &remote) && remote.Code == protocol.ErrCodeStateConflict && remote.Conflict != nil {
				if robotMode() {
					_ = printJSON(w, remote.Conflict)
				} else {
					actual, _ := json.Marshal(remote.Conflict.Value)
					fmt.Fprintf(w, "conflict: %s is at version %d (you sent %d)\ncurrent value: %s\na concurrent_update conflict was filed for the crew\n",
						args[2], remote.Conflict.Version, version, actual)
				}
				return err
			}
			if err != nil {
				return err
			}

			if robotMode() {
				return printJSON(w, entry)
			}
			fmt.Fprintf(w, "%s synced at version %d\n", entry.StateKey, entry.Version)
			return nil
		},
	}

	cmd.Flags().Int64Var(&version, "version", 0, "expected current version (0 = create)")

	return cmd
}
