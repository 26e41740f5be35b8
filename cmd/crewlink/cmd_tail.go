package main

import (
	"github.com/spf13/cobra"
)

// newTailCmd creates the "crewlink tail" subcommand.
func newTailCmd() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "tail <execution-id>",
		Short: "Stream an execution's interactions live",
		Long: `Subscribes to the daemon and prints interactions as they happen,
until interrupted. Without --agent every interaction is shown; with
--agent only what that agent would see (its messages plus
broadcasts).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			ch, err := cli.Subscribe(cmd.Context(), args[0], agent)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			robot := robotMode()
			for in := range ch {
				if robot {
					if err := printJSON(w, in); err != nil {
						return err
					}
					continue
				}
				formatInteraction(w, &in)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "view the stream as this agent")

	return cmd
}
