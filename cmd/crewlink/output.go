package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"crewlink/pkg/protocol"

	"github.com/mattn/go-isatty"
)

// robotMode reports whether output should be machine-readable JSON. Piped
// output gets JSON automatically so scripts never have to parse the
// human-formatted tables.
func robotMode() bool {
	return jsonOutput || !isStdoutTTY()
}

func isStdoutTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printJSON writes v as a single JSON line.
func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// printInteractions writes a batch of interactions, one line each.
func printInteractions(w io.Writer, ins []protocol.Interaction) error {
	if robotMode() {
		for i := range ins {
			if err := printJSON(w, ins[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if len(ins) == 0 {
		fmt.Fprintln(w, "no interactions found")
		return nil
	}
	for i := range ins {
		formatInteraction(w, &ins[i])
	}
	return nil
}

// formatInteraction writes a single interaction in a human-readable format.
// Format: seq | timestamp | kind | from->to | detail
func formatInteraction(w io.Writer, in *protocol.Interaction) {
	to := in.ToAgentID
	if to == "" {
		to = "*"
	}
	fmt.Fprintf(w, "%4d | %s | %-10s | %s -> %s | %s\n",
		in.Seq,
		in.CreatedAt.Format(time.RFC3339),
		in.Kind,
		in.FromAgentID,
		to,
		interactionDetail(in),
	)
}

// interactionDetail renders the kind-specific part of an interaction line.
func interactionDetail(in *protocol.Interaction) string {
	switch in.Kind {
	case protocol.KindMessage:
		detail := in.Body
		if in.RequiresResponse {
			if in.Response != "" {
				detail += " [answered]"
			} else {
				detail += " [awaiting response]"
			}
		}
		return detail
	case protocol.KindEvent:
		detail := in.EventType
		if len(in.EventData) > 0 {
			data, err := json.Marshal(in.EventData)
			if err == nil {
				detail += " " + string(data)
			}
		}
		return detail
	case protocol.KindStateSync:
		return fmt.Sprintf("%s @v%d", in.StateKey, in.StateVersion)
	case protocol.KindConflict:
		detail := string(in.ConflictType)
		if in.StateKey != "" {
			detail += " on " + in.StateKey
		}
		if in.Resolved {
			detail += fmt.Sprintf(" [resolved: %s/%s]", in.Strategy, resolutionOutcome(in))
		} else {
			detail += " [open]"
		}
		return detail
	default:
		return string(in.Kind)
	}
}

func resolutionOutcome(in *protocol.Interaction) protocol.Outcome {
	if in.Resolution == nil {
		return ""
	}
	return in.Resolution.Outcome
}
