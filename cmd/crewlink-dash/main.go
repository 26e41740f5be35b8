// Package main implements the crewlink-dash interactive dashboard.
package main

import (
	"context"
	"fmt"
	"os"

	"crewlink/pkg/config"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var executionID string
	if len(os.Args) > 1 {
		executionID = os.Args[1]
	}

	// Piped output gets a one-shot JSON snapshot instead of the TUI.
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		if err := printSnapshot(context.Background(), os.Stdout, cfg.DBPath, executionID); err != nil {
			fmt.Fprintf(os.Stderr, "Error taking snapshot: %v\n", err)
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(newModel(cfg, executionID), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
