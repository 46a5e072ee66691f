package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/JourdanThomas/CubeSat/internal/models"
)

const eventBuffer = 256

// HubMonitor drives the hub TUI. It receives hub events as an observer and
// mirrors warning and error log lines into the logs pane. Events never block
// the caller; when the buffer is full they are dropped.
type HubMonitor struct {
	program *tea.Program
	events  chan tea.Msg
}

func NewHubMonitor(status StatusFunc, logPath string, opts ...tea.ProgramOption) *HubMonitor {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &HubMonitor{
		program: tea.NewProgram(NewModel(status, logPath), opts...),
		events:  make(chan tea.Msg, eventBuffer),
	}
}

func (hm *HubMonitor) send(msg tea.Msg) {
	select {
	case hm.events <- msg:
	default:
	}
}

func (hm *HubMonitor) forward(done <-chan struct{}) {
	for {
		select {
		case msg := <-hm.events:
			hm.program.Send(msg)
		case <-done:
			return
		}
	}
}

// Run blocks until the user quits or Stop is called
func (hm *HubMonitor) Run() error {
	done := make(chan struct{})
	defer close(done)
	go hm.forward(done)

	if _, err := hm.program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func (hm *HubMonitor) Stop() {
	hm.program.Quit()
}

func (hm *HubMonitor) AddLog(message string) {
	hm.send(LogMessage{Message: message})
}

func (hm *HubMonitor) SessionChanged(models.SessionInfo) {}

func (hm *HubMonitor) SessionClosed(info models.SessionInfo, reason error) {
	name := info.WorkerID
	if name == "" {
		name = info.RemoteAddr
	}
	if reason != nil {
		hm.AddLog(fmt.Sprintf("🔌 %s disconnected: %v", name, reason))
		return
	}
	hm.AddLog(fmt.Sprintf("🔌 %s disconnected", name))
}

func (hm *HubMonitor) ResultRecorded(result models.Result) {
	hm.send(ResultMsg{Result: result})
}

func (hm *HubMonitor) TaskLost(task models.Task, requeued bool) {
	hm.send(TaskLostMsg{Task: task, Requeued: requeued})
}

// LogHook returns a zerolog hook forwarding entries at or above level
func (hm *HubMonitor) LogHook(level zerolog.Level) zerolog.Hook {
	return zerolog.HookFunc(func(_ *zerolog.Event, l zerolog.Level, message string) {
		if l >= level && l != zerolog.NoLevel {
			hm.AddLog(fmt.Sprintf("[%s] %s", l, message))
		}
	})
}
