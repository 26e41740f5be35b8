package main

import (
	"encoding/json"
	"fmt"
	"time"

	"crewlink/pkg/conflict"
	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// conflictsResult mirrors the daemon's reply to a CONFLICTS frame.
type conflictsResult struct {
	Open    []protocol.Interaction `json:"open"`
	Summary *conflict.Summary      `json:"summary"`
}

// newConflictsCmd creates the "crewlink conflicts" subcommand.
func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts <execution-id>",
		Short: "List unresolved conflicts and the conflict summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var res conflictsResult
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type:      protocol.FrameConflicts,
				Conflicts: &protocol.ConflictsPayload{ExecutionID: args[0]},
			}, &res)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				return printJSON(w, res)
			}

			sum := res.Summary
			fmt.Fprintf(w, "%d conflict(s) recorded, %d unresolved\n", sum.Total, sum.Unresolved)
			for typ, n := range sum.ByType {
				fmt.Fprintf(w, "  %s: %d\n", typ, n)
			}
			if sum.Unresolved > 0 {
				fmt.Fprintf(w, "oldest open conflict: %s\n", sum.OldestUnresolvedAge.Round(time.Second))
			}
			if len(res.Open) > 0 {
				fmt.Fprintln(w, "open:")
				for i := range res.Open {
					formatInteraction(w, &res.Open[i])
				}
			}
			return nil
		},
	}
}

// reportConfig holds flag values for the report command.
type reportConfig struct {
	stateKey  string
	current   string
	attempted string
}

// newReportCmd creates the "crewlink report" subcommand.
func newReportCmd() *cobra.Command {
	var cfg reportConfig

	cmd := &cobra.Command{
		Use:   "report <execution-id> <reporter-agent> <conflict-type>",
		Short: "Report a detected conflict",
		Long: `Records a conflict detected by a crew member. Types: concurrent_update,
duplicate_assignment, resource_contention, state_mismatch,
deadline_conflict, priority_conflict. For state conflicts pass --key
plus --current and --attempted JSON values so merge and rollback can
act on them later.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := parseValueFlag("--current", cfg.current)
			if err != nil {
				return err
			}
			attempted, err := parseValueFlag("--attempted", cfg.attempted)
			if err != nil {
				return err
			}

			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var in protocol.Interaction
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameConflictReport,
				ConflictReport: &protocol.ConflictReportPayload{
					ExecutionID:    args[0],
					ReporterID:     args[1],
					ConflictType:   protocol.ConflictType(args[2]),
					StateKey:       cfg.stateKey,
					CurrentValue:   current,
					AttemptedValue: attempted,
				},
			}, &in)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				return printJSON(w, in)
			}
			fmt.Fprintf(w, "conflict %s recorded\n", in.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.stateKey, "key", "", "state key the conflict is about")
	cmd.Flags().StringVar(&cfg.current, "current", "", "current value as a JSON object")
	cmd.Flags().StringVar(&cfg.attempted, "attempted", "", "attempted value as a JSON object")

	return cmd
}

// newResolveCmd creates the "crewlink resolve" subcommand.
func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id> <strategy>",
		Short: "Resolve a reported conflict",
		Long: `Applies a resolution strategy to an open conflict. Strategies:
latest_wins, merge, rollback, escalate. Resolving an already
resolved conflict returns its recorded resolution unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var in protocol.Interaction
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameConflictResolve,
				ConflictResolve: &protocol.ConflictResolvePayload{
					ConflictID: args[0],
					Strategy:   protocol.Strategy(args[1]),
				},
			}, &in)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				return printJSON(w, in)
			}
			fmt.Fprintf(w, "conflict %s resolved: %s/%s\n", in.ID, in.Strategy, resolutionOutcome(&in))
			return nil
		},
	}
}

// parseValueFlag decodes a JSON object flag, tolerating an unset flag.
func parseValueFlag(name, raw string) (protocol.Value, error) {
	if raw == "" {
		return nil, nil
	}
	var v protocol.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse %s (want a JSON object): %w", name, err)
	}
	return v, nil
}
