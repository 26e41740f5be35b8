package main

import (
	"fmt"
	"time"

	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// eventsConfig holds flag values for the events command.
type eventsConfig struct {
	types []string
	since string
}

// newEventsCmd creates the "crewlink events" subcommand.
func newEventsCmd() *cobra.Command {
	var cfg eventsConfig

	cmd := &cobra.Command{
		Use:   "events <execution-id>",
		Short: "Query recorded events",
		Long: `Lists events recorded for an execution, oldest first. --type filters
by event type and may repeat; --since takes a duration ("30m") or an
RFC3339 timestamp.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var since *time.Time
			if cfg.since != "" {
				t, err := parseSince(cfg.since)
				if err != nil {
					return err
				}
				since = &t
			}

			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var events []protocol.Interaction
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameEvents,
				Events: &protocol.EventsPayload{
					ExecutionID: args[0],
					EventTypes:  cfg.types,
					Since:       since,
				},
			}, &events)
			if err != nil {
				return err
			}

			return printInteractions(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringSliceVar(&cfg.types, "type", nil, "filter by event type (repeatable)")
	cmd.Flags().StringVar(&cfg.since, "since", "", "only events after this duration ago or RFC3339 time")

	return cmd
}

// parseSince accepts a lookback duration ("30m") or an RFC3339 timestamp.
func parseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --since (want a duration or RFC3339): %w", err)
	}
	return t, nil
}
