package main

import (
	"fmt"
	"strings"
)

// renderStateTable renders the shared state entries as a table.
func (m Model) renderStateTable() string {
	if len(m.state) == 0 {
		return m.styles.Muted.Render("No shared state")
	}

	var sb strings.Builder

	headers := []string{"Key", "Version", "Updated", "Value"}
	widths := []int{24, 8, 20, 40}

	headerParts := make([]string, 0, len(headers))
	for i, header := range headers {
		style := m.styles.Col.Width(widths[i]).Bold(true).Foreground(m.theme.Primary)
		headerParts = append(headerParts, style.Render(header))
	}
	sb.WriteString(strings.Join(headerParts, " "))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, entry := range m.state {
		cells := []string{
			m.styles.Col.Width(widths[0]).Render(truncate(entry.StateKey, widths[0])),
			m.styles.Col.Width(widths[1]).Render(fmt.Sprintf("v%d", entry.Version)),
			m.styles.Col.Width(widths[2]).Render(entry.UpdatedAt.Format("2006-01-02 15:04:05")),
			m.styles.Col.Width(widths[3]).Render(truncate(entry.Value, widths[3])),
		}
		sb.WriteString(strings.Join(cells, " "))
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderConflicts renders conflict statistics plus the open conflict list.
func (m Model) renderConflicts() string {
	if m.conflicts == nil || m.conflicts.Total == 0 {
		return m.styles.Resolved.Render("No conflicts recorded")
	}

	var sb strings.Builder
	stats := m.conflicts

	sb.WriteString(fmt.Sprintf("%d conflict(s) recorded, ", stats.Total))
	if stats.Unresolved > 0 {
		sb.WriteString(m.styles.Open.Render(fmt.Sprintf("%d unresolved", stats.Unresolved)))
	} else {
		sb.WriteString(m.styles.Resolved.Render("all resolved"))
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.styles.Title.Render("By type"))
	sb.WriteString("\n")
	for typ, n := range stats.ByType {
		sb.WriteString(fmt.Sprintf("  %-24s %d\n", typ, n))
	}

	if len(stats.ByOutcome) > 0 {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Title.Render("By outcome"))
		sb.WriteString("\n")
		for outcome, n := range stats.ByOutcome {
			sb.WriteString(fmt.Sprintf("  %-24s %d\n", outcome, n))
		}
	}

	if len(stats.Open) > 0 {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Title.Render("Open"))
		sb.WriteString("\n")
		for i := range stats.Open {
			in := &stats.Open[i]
			key := in.StateKey
			if key == "" {
				key = "-"
			}
			sb.WriteString(fmt.Sprintf("  %s  %-22s %-16s reported by %s\n",
				in.CreatedAt.Format("15:04:05"), in.ConflictType, key, in.FromAgentID))
		}
	}

	return sb.String()
}
