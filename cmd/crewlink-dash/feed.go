package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"crewlink/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
)

// renderFeed renders the interaction feed, oldest first.
func (m Model) renderFeed() string {
	if len(m.feed) == 0 {
		return m.styles.Muted.Render("No interactions yet")
	}

	var sb strings.Builder
	for i := range m.feed {
		sb.WriteString(m.renderFeedLine(&m.feed[i]))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderFeedLine renders one interaction as a single feed line.
func (m Model) renderFeedLine(in *protocol.Interaction) string {
	ts := m.styles.Muted.Render(in.CreatedAt.Format("15:04:05"))
	kind := m.kindBadge(in.Kind)

	to := in.ToAgentID
	if to == "" {
		to = "*"
	}
	route := fmt.Sprintf("%s → %s", in.FromAgentID, to)

	return strings.Join([]string{ts, kind, route, m.feedDetail(in)}, " ")
}

// kindBadge renders a fixed-width colored kind label.
func (m Model) kindBadge(kind protocol.Kind) string {
	color := m.theme.Muted
	switch kind {
	case protocol.KindMessage:
		color = m.theme.Primary
	case protocol.KindEvent:
		color = m.theme.Secondary
	case protocol.KindStateSync:
		color = m.theme.Success
	case protocol.KindConflict:
		color = m.theme.Error
	}
	return lipgloss.NewStyle().Foreground(color).Width(10).Render(string(kind))
}

// feedDetail renders the kind-specific tail of a feed line.
func (m Model) feedDetail(in *protocol.Interaction) string {
	switch in.Kind {
	case protocol.KindMessage:
		detail := truncate(in.Body, 60)
		if in.RequiresResponse && in.Response == "" {
			detail += m.styles.Open.Render(" ⏳")
		}
		return detail
	case protocol.KindEvent:
		detail := in.EventType
		if len(in.EventData) > 0 {
			if data, err := json.Marshal(in.EventData); err == nil {
				detail += " " + m.styles.Muted.Render(truncate(string(data), 40))
			}
		}
		return detail
	case protocol.KindStateSync:
		return fmt.Sprintf("%s @v%d", in.StateKey, in.StateVersion)
	case protocol.KindConflict:
		detail := string(in.ConflictType)
		if in.Resolved {
			detail += m.styles.Resolved.Render(" resolved")
		} else {
			detail += m.styles.Open.Render(" open")
		}
		return detail
	default:
		return ""
	}
}

// truncate shortens s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
