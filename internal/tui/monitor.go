package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JourdanThomas/CubeSat/internal/models"
)

const (
	maxLogLines     = 10
	refreshInterval = 500 * time.Millisecond
)

// StatusFunc returns the hub's current queue and session snapshot
type StatusFunc func() models.HubStatus

type Model struct {
	status       StatusFunc
	snapshot     models.HubStatus
	logs         []string
	logPath      string
	spinner      spinner.Model
	progress     progress.Model
	width        int
	height       int
	quit         bool
	errorCount   int
	successCount int
	lostCount    int
}

// LogMessage is a line shown in the recent logs pane
type LogMessage struct {
	Message string
}

// ResultMsg reports a newly recorded result
type ResultMsg struct {
	Result models.Result
}

// TaskLostMsg reports a dispatched task whose worker went away
type TaskLostMsg struct {
	Task     models.Task
	Requeued bool
}

type refreshMsg time.Time

func NewModel(status StatusFunc, logPath string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	pr := progress.New(progress.WithDefaultGradient())

	return Model{
		status:   status,
		logs:     []string{},
		logPath:  logPath,
		spinner:  sp,
		progress: pr,
		width:    80,
		height:   24,
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		refresh(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.handleKeyMsg(msg) {
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m = m.handleWindowSizeMsg(msg)

	case refreshMsg:
		if m.status != nil {
			m.snapshot = m.status()
		}
		cmds = append(cmds, refresh())

	case ResultMsg:
		m = m.handleResult(msg)

	case TaskLostMsg:
		m = m.handleTaskLost(msg)

	case LogMessage:
		m = m.handleLogMessage(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		if progressModel, ok := progressModel.(progress.Model); ok {
			m.progress = progressModel
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "ctrl+c":
		return true
	}
	return false
}

func (m Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.progress.Width = max(msg.Width-40, 10)
	return m
}

func (m Model) handleResult(msg ResultMsg) Model {
	if msg.Result.Failed() {
		m.errorCount++
		return m.handleLogMessage(LogMessage{Message: fmt.Sprintf("❌ Task %d failed on %s: %s",
			msg.Result.TaskID, msg.Result.WorkerID, msg.Result.Error)})
	}
	m.successCount++
	return m.handleLogMessage(LogMessage{Message: fmt.Sprintf("✅ Task %d = %s (%s)",
		msg.Result.TaskID, truncate(string(msg.Result.Value), 40), msg.Result.WorkerID)})
}

func (m Model) handleTaskLost(msg TaskLostMsg) Model {
	if msg.Requeued {
		return m.handleLogMessage(LogMessage{Message: fmt.Sprintf("🔁 Task %d requeued", msg.Task.ID)})
	}
	m.lostCount++
	return m.handleLogMessage(LogMessage{Message: fmt.Sprintf("⚠️ Task %d lost", msg.Task.ID)})
}

func (m Model) handleLogMessage(msg LogMessage) Model {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s",
		time.Now().Format("15:04:05"), msg.Message))
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	return m
}

// inFlight counts sessions waiting on a result
func (m Model) inFlight() int {
	n := 0
	for _, s := range m.snapshot.Sessions {
		if s.State == models.StateAwaitingResult {
			n++
		}
	}
	return n
}

// completion is the share of known tasks that have a result
func (m Model) completion() float64 {
	total := m.snapshot.Completed + m.snapshot.Pending + m.inFlight()
	if total == 0 {
		return 0
	}
	return float64(m.snapshot.Completed) / float64(total)
}

func (m Model) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render("🛰 CubeSat Swarm Hub"))
	s.WriteString("\n\n")

	// Summary
	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	summary := fmt.Sprintf("Workers: %d | ⏳ Pending: %d | ✅ Done: %d | ❌ Errors: %d | ⚠️ Lost: %d",
		len(m.snapshot.Sessions), m.snapshot.Pending, m.successCount, m.errorCount, m.lostCount)
	s.WriteString(summaryStyle.Render(summary))
	s.WriteString("\n")
	s.WriteString(m.progress.ViewAs(m.completion()))
	s.WriteString("\n\n")

	// Sessions
	sessionSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1).
		Width(max(m.width-2, 20))

	var sessions strings.Builder
	sessions.WriteString("📡 Workers\n")
	sessions.WriteString(strings.Repeat("─", 60) + "\n")

	if len(m.snapshot.Sessions) == 0 {
		sessions.WriteString(m.spinner.View() + " waiting for workers...\n")
	}
	for _, info := range m.snapshot.Sessions {
		name := info.WorkerID
		if name == "" {
			name = info.RemoteAddr
		}

		line := fmt.Sprintf("%s %-18s %-16s done: %-4d",
			getStateIcon(info.State),
			truncate(name, 18),
			info.State,
			info.TasksCompleted)

		if info.State == models.StateAwaitingResult {
			line += fmt.Sprintf(" %s task %d", m.spinner.View(), info.CurrentTask)
		} else {
			line += fmt.Sprintf(" seen %s ago", time.Since(info.LastSeen).Truncate(time.Second))
		}

		stateStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(getStateColor(info.State)))
		sessions.WriteString(stateStyle.Render(line) + "\n")
	}

	s.WriteString(sessionSectionStyle.Render(sessions.String()))
	s.WriteString("\n\n")

	// Logs section
	logSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(max(m.width-2, 20)).
		Height(maxLogLines)

	var logSection strings.Builder
	logSection.WriteString("📝 Recent Logs\n")
	for _, log := range m.logs {
		logSection.WriteString(log + "\n")
	}

	s.WriteString(logSectionStyle.Render(logSection.String()))
	s.WriteString("\n\n")

	// Footer
	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	footer := "Press 'q' to quit"
	if m.logPath != "" {
		footer += " | Logs: " + m.logPath
	}
	s.WriteString(footerStyle.Render(footer))

	return s.String()
}

func getStateIcon(state models.SessionState) string {
	switch state {
	case models.StateConnectedIdle:
		return "🟢"
	case models.StateAwaitingResult:
		return "⚙️"
	case models.StateTerminated, models.StateDisconnected:
		return "⚫"
	default:
		return "❓"
	}
}

func getStateColor(state models.SessionState) string {
	switch state {
	case models.StateConnectedIdle:
		return "82"
	case models.StateAwaitingResult:
		return "39"
	default:
		return "244"
	}
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
