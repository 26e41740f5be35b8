package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual styling for the crewlink dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme for crewlink-dash.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// Styles holds the pre-built lipgloss styles derived from a theme.
type Styles struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Col      lipgloss.Style
	Open     lipgloss.Style
	Resolved lipgloss.Style
	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style
}

// buildStyles derives the style set from a theme.
func buildStyles(theme Theme) Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		Muted:    lipgloss.NewStyle().Foreground(theme.Muted),
		Col:      lipgloss.NewStyle(),
		Open:     lipgloss.NewStyle().Foreground(theme.Error),
		Resolved: lipgloss.NewStyle().Foreground(theme.Success),
		HelpKey:  lipgloss.NewStyle().Bold(true).Foreground(theme.Secondary),
		HelpDesc: lipgloss.NewStyle().Foreground(theme.Muted),
	}
}
