// Package tui provides the live terminal view for banyan runs. It is a
// thin front end: everything it shows comes from the run's versioned
// snapshot and event stream.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/banyanhq/banyan/internal/orchestrator"
	"github.com/banyanhq/banyan/pkg/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// tickMsg drives snapshot refresh.
type tickMsg time.Time

// eventMsg wraps one run event.
type eventMsg orchestrator.Event

// doneMsg signals the run settled.
type doneMsg struct{}

// watchModel is the bubbletea model for one run.
type watchModel struct {
	run     *orchestrator.Run
	refresh time.Duration

	snap    *models.RunSnapshot
	spinner spinner.Model
	width   int
	height  int

	paused   bool
	finished bool
	quitting bool
}

// Watch renders a live view of the run until it settles or the user
// detaches. The run keeps going after a detach.
func Watch(run *orchestrator.Run, refresh time.Duration) error {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activeStyle

	m := &watchModel{
		run:     run,
		refresh: refresh,
		snap:    run.Snapshot(),
		spinner: sp,
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model.
func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick(), m.nextEvent(), m.waitDone())
}

func (m *watchModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *watchModel) nextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.run.Events()
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m *watchModel) waitDone() tea.Cmd {
	return func() tea.Msg {
		<-m.run.Done()
		return doneMsg{}
	}
}

// Update implements tea.Model.
func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			if !m.finished {
				m.run.Cancel()
			}
		case "p":
			if !m.finished {
				if m.paused {
					m.run.Resume()
				} else {
					m.run.Pause()
				}
				m.paused = !m.paused
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.snap = m.run.Snapshot()
		if m.finished {
			return m, nil
		}
		return m, m.tick()
	case eventMsg:
		// Events only nudge the refresh; the snapshot is the source
		// of truth for everything rendered.
		return m, m.nextEvent()
	case doneMsg:
		m.finished = true
		m.snap = m.run.Snapshot()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *watchModel) View() string {
	if m.quitting {
		return ""
	}
	snap := m.snap
	if snap == nil {
		return "starting...\n"
	}

	header := m.renderHeader(snap)
	tree := borderStyle.Render(renderTree(snap))
	logs := borderStyle.Render(renderLogs(snap, 8))
	footer := m.renderFooter(snap)

	return lipgloss.JoinVertical(lipgloss.Left, header, tree, logs, footer)
}

func (m *watchModel) renderHeader(snap *models.RunSnapshot) string {
	state := string(snap.Status)
	switch snap.Status {
	case models.RunStatusRunning:
		state = m.spinner.View() + " running"
	case models.RunStatusSucceeded:
		state = okStyle.Render("✓ succeeded")
	case models.RunStatusFailed:
		state = failStyle.Render("✗ failed")
	case models.RunStatusCancelled:
		state = warnStyle.Render("cancelled")
	case models.RunStatusPaused:
		state = warnStyle.Render("paused")
	}
	title := titleStyle.Render("banyan") +
		dimStyle.Render(fmt.Sprintf("  run %s  v%d  ", snap.RunID, snap.Version)) + state
	goal := dimStyle.Render(truncateLine(snap.Goal, 76))
	return title + "\n" + goal
}

func (m *watchModel) renderFooter(snap *models.RunSnapshot) string {
	mt := snap.Metrics
	stats := dimStyle.Render(fmt.Sprintf(
		"attempts %d  splits %d  tools %d/%d  tokens %d/%d",
		mt.Attempts, mt.Decompositions, mt.ToolCalls-mt.ToolErrors, mt.ToolCalls,
		mt.TokensIn, mt.TokensOut))

	keys := "q detach · c cancel · p pause"
	if m.paused {
		keys = "q detach · c cancel · p resume"
	}
	if m.finished {
		keys = "q quit"
	}
	return stats + "\n" + dimStyle.Render(keys)
}

// renderTree renders the task tree depth-first, one node per line.
func renderTree(snap *models.RunSnapshot) string {
	if snap.RootID == "" {
		return "no tasks yet"
	}
	var b strings.Builder
	renderNode(&b, snap, snap.RootID, 0)
	return strings.TrimRight(b.String(), "\n")
}

func renderNode(b *strings.Builder, snap *models.RunSnapshot, nodeID string, depth int) {
	node, ok := snap.Nodes[nodeID]
	if !ok {
		return
	}
	line := fmt.Sprintf("%s%s %s",
		strings.Repeat("  ", depth),
		statusGlyph(node.Status),
		truncateLine(node.Goal, 70-2*depth))
	if node.AttemptCount > 0 {
		line += dimStyle.Render(fmt.Sprintf(" (attempt %d)", node.AttemptCount))
	}
	if nodeID == snap.ActiveNode {
		line = activeStyle.Render(line)
	}
	b.WriteString(line + "\n")

	for _, child := range node.Children {
		renderNode(b, snap, child, depth+1)
	}
}

// statusGlyph maps a task status to its one-character marker.
func statusGlyph(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusSuccess:
		return okStyle.Render("✓")
	case models.TaskStatusFailed:
		return failStyle.Render("✗")
	case models.TaskStatusActive:
		return activeStyle.Render("●")
	case models.TaskStatusSuspended:
		return warnStyle.Render("…")
	case models.TaskStatusDecomposed:
		return warnStyle.Render("÷")
	case models.TaskStatusCancelled:
		return dimStyle.Render("–")
	default:
		return dimStyle.Render("○")
	}
}

// renderLogs renders the last n activity lines, oldest first.
func renderLogs(snap *models.RunSnapshot, n int) string {
	logs := snap.Logs
	if len(logs) == 0 {
		return dimStyle.Render("no activity yet")
	}
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	lines := make([]string, 0, len(logs))
	for _, entry := range logs {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			dimStyle.Render(entry.Time.Format("15:04:05")),
			dimStyle.Render("["+entry.Actor+"]"),
			truncateLine(entry.Message, 60)))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
