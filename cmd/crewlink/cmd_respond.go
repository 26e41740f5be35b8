package main

import (
	"fmt"

	"crewlink/pkg/protocol"

	"github.com/spf13/cobra"
)

// newRespondCmd creates the "crewlink respond" subcommand.
func newRespondCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "respond <interaction-id> <responder-agent> <response>",
		Short: "Answer a message that requires a response",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := openClient()
			if err != nil {
				return err
			}
			defer cli.Close()

			var in protocol.Interaction
			err = cli.DoResult(cmd.Context(), protocol.Frame{
				Type: protocol.FrameRespond,
				Respond: &protocol.RespondPayload{
					InteractionID: args[0],
					ResponderID:   args[1],
					Response:      args[2],
				},
			}, &in)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if robotMode() {
				return printJSON(w, in)
			}
			fmt.Fprintf(w, "response recorded on message %s\n", in.ID)
			return nil
		},
	}
}
