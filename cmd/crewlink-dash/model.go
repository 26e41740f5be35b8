package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"crewlink/pkg/config"
	"crewlink/pkg/protocol"
)

// tickMsg is sent by Bubble Tea on every tick interval.
// Used to trigger periodic data refresh from the daemon's database.
type tickMsg time.Time

// feedMsg carries the fetched interaction feed. The string is the execution
// the feed belongs to, resolved when none was given on the command line.
type feedMsg struct {
	executionID string
	feed        []protocol.Interaction
}

// stateMsg carries fetched shared state entries.
type stateMsg []StateEntry

// conflictsMsg carries fetched conflict statistics.
// nil means the database could not be read.
type conflictsMsg *ConflictStats

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchFeedCmd returns a tea.Cmd that fetches the interaction feed.
func fetchFeedCmd(dbPath, executionID string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if executionID == "" {
			executionID, _ = FetchLatestExecution(ctx, dbPath)
		}
		feed, _ := FetchFeed(ctx, dbPath, executionID)
		return feedMsg{executionID: executionID, feed: feed}
	}
}

// fetchStateCmd returns a tea.Cmd that fetches the shared state entries.
func fetchStateCmd(dbPath, executionID string) tea.Cmd {
	return func() tea.Msg {
		entries, _ := FetchStateEntries(context.Background(), dbPath, executionID)
		return stateMsg(entries)
	}
}

// fetchConflictsCmd returns a tea.Cmd that fetches conflict statistics.
func fetchConflictsCmd(dbPath, executionID string) tea.Cmd {
	return func() tea.Msg {
		stats, _ := FetchConflictStats(context.Background(), dbPath, executionID)
		return conflictsMsg(stats)
	}
}

// ViewType represents different views in the dashboard.
type ViewType int

const (
	// FeedView shows the live interaction feed.
	FeedView ViewType = iota
	// StateView shows the shared state table.
	StateView
	// ConflictsView shows conflict statistics and open conflicts.
	ConflictsView
)

// Model is the Bubble Tea model for the crewlink dashboard.
type Model struct {
	dbPath      string
	pinnedExec  string // execution from the command line; "" = follow latest
	executionID string // execution currently shown

	activeView ViewType
	showHelp   bool
	styles     Styles
	theme      Theme

	// Data fetched from the daemon's database
	feed      []protocol.Interaction
	state     []StateEntry
	conflicts *ConflictStats

	// UI state
	width    int
	height   int
	feedView viewport.Model
}

// newModel creates a new Model initialized with FeedView active.
func newModel(cfg *config.Config, executionID string) Model {
	theme := DefaultTheme()
	return Model{
		dbPath:      cfg.DBPath,
		pinnedExec:  executionID,
		executionID: executionID,
		activeView:  FeedView,
		theme:       theme,
		styles:      buildStyles(theme),
		feedView:    viewport.New(80, 20),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchFeedCmd(m.dbPath, m.pinnedExec),
		fetchStateCmd(m.dbPath, m.executionID),
		fetchConflictsCmd(m.dbPath, m.executionID),
		watchDatabaseDir(m.dbPath),
		tickCmd(),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.feedView.Width = msg.Width
		m.feedView.Height = msg.Height - 3

	case feedMsg:
		atBottom := m.feedView.AtBottom()
		m.executionID = msg.executionID
		m.feed = msg.feed
		m.feedView.SetContent(m.renderFeed())
		if atBottom {
			m.feedView.GotoBottom()
		}

	case stateMsg:
		m.state = []StateEntry(msg)

	case conflictsMsg:
		m.conflicts = (*ConflictStats)(msg)

	case fsChangeMsg:
		// Refresh immediately and re-arm the watcher.
		return m, tea.Batch(m.refreshCmds(), watchDatabaseDir(m.dbPath))

	case tickMsg:
		return m, tea.Batch(m.refreshCmds(), tickCmd())
	}

	return m, nil
}

// refreshCmds re-fetches everything shown.
func (m Model) refreshCmds() tea.Cmd {
	return tea.Batch(
		fetchFeedCmd(m.dbPath, m.pinnedExec),
		fetchStateCmd(m.dbPath, m.executionID),
		fetchConflictsCmd(m.dbPath, m.executionID),
	)
}

// handleKeyPress processes keyboard input and returns updated model with optional command.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "tab":
		m.activeView = (m.activeView + 1) % 3
		return m, nil
	case "1":
		m.activeView = FeedView
		return m, nil
	case "2":
		m.activeView = StateView
		return m, nil
	case "3":
		m.activeView = ConflictsView
		return m, nil
	}

	if m.activeView == FeedView {
		var cmd tea.Cmd
		m.feedView, cmd = m.feedView.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	statusBar := m.renderStatusBar()

	if m.showHelp {
		return statusBar + "\n" + m.renderHelpOverlay()
	}

	switch m.activeView {
	case StateView:
		return statusBar + "\n" + m.renderStateTable()
	case ConflictsView:
		return statusBar + "\n" + m.renderConflicts()
	default:
		return statusBar + "\n" + m.feedView.View()
	}
}

// renderStatusBar renders the top bar with the execution, feed size, and
// conflict counts.
func (m Model) renderStatusBar() string {
	execLabel := m.executionID
	if execLabel == "" {
		execLabel = "no execution"
	}

	unresolved := 0
	if m.conflicts != nil {
		unresolved = m.conflicts.Unresolved
	}
	conflictStyle := m.styles.Resolved
	if unresolved > 0 {
		conflictStyle = m.styles.Open
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Left,
		m.styles.Title.Render("crewlink"),
		m.styles.Muted.Render(" | "),
		lipgloss.NewStyle().Foreground(m.theme.Secondary).Render(execLabel),
		m.styles.Muted.Render(" | "),
		fmt.Sprintf("%d interaction(s)", len(m.feed)),
		m.styles.Muted.Render(" | "),
		conflictStyle.Render(fmt.Sprintf("%d open conflict(s)", unresolved)),
		m.styles.Muted.Render(" | "),
		m.styles.Muted.Render(getViewName(m.activeView)+"  ?=help"),
	)
}
