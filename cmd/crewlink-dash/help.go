package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// helpBinding represents a key binding with its description.
type helpBinding struct {
	key  string
	desc string
}

// getHelpBindings returns the dashboard key bindings.
func getHelpBindings() []helpBinding {
	return []helpBinding{
		{"tab", "Cycle views"},
		{"1/2/3", "Feed, state, conflicts"},
		{"j/k or ↑/↓", "Scroll the feed"},
		{"?", "Toggle help"},
		{"q or ctrl+c", "Quit"},
	}
}

// getViewName returns the display name for a view.
func getViewName(view ViewType) string {
	switch view {
	case FeedView:
		return "Feed"
	case StateView:
		return "State"
	case ConflictsView:
		return "Conflicts"
	default:
		return "Unknown"
	}
}

// renderHelpOverlay renders the help overlay panel.
func (m Model) renderHelpOverlay() string {
	title := m.styles.Title.Render("Help")

	var content strings.Builder
	keyStyle := m.styles.HelpKey.Width(16)
	for _, binding := range getHelpBindings() {
		key := keyStyle.Render(binding.key)
		desc := m.styles.HelpDesc.Render(binding.desc)
		content.WriteString(lipgloss.JoinHorizontal(lipgloss.Left, key, desc))
		content.WriteString("\n")
	}

	footer := m.styles.Muted.Render("Press ? to close")
	return lipgloss.JoinVertical(lipgloss.Left, title, content.String(), footer)
}
