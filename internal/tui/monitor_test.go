package tui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JourdanThomas/CubeSat/internal/models"
)

func TestModelTracksResults(t *testing.T) {
	status := func() models.HubStatus {
		return models.HubStatus{
			Pending:   1,
			Completed: 1,
			Sessions: []models.SessionInfo{{
				ID: "s1", WorkerID: "pi-1", State: models.StateAwaitingResult, CurrentTask: 2, LastSeen: time.Now(),
			}},
		}
	}
	m := NewModel(status, "logs/hub.log")

	updated, cmd := m.Update(refreshMsg(time.Now()))
	if cmd == nil {
		t.Fatal("refresh must schedule the next one")
	}
	m = updated.(Model)
	updated, _ = m.Update(ResultMsg{Result: models.NewValueResult(1, "pi-1", json.RawMessage("55"))})
	m = updated.(Model)
	updated, _ = m.Update(ResultMsg{Result: models.NewErrorResult(3, "pi-1", errors.New("boom"))})
	m = updated.(Model)
	updated, _ = m.Update(TaskLostMsg{Task: models.Task{ID: 4}})
	m = updated.(Model)

	if m.successCount != 1 || m.errorCount != 1 || m.lostCount != 1 {
		t.Fatalf("unexpected counters ok=%d err=%d lost=%d", m.successCount, m.errorCount, m.lostCount)
	}
	if got := m.completion(); got < 0.33 || got > 0.34 {
		t.Fatalf("expected a third complete, got %v", got)
	}

	view := m.View()
	for _, want := range []string{"pi-1", "task 2", "logs/hub.log"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelKeepsRecentLogs(t *testing.T) {
	m := NewModel(nil, "")
	for i := 0; i < maxLogLines+5; i++ {
		updated, _ := m.Update(LogMessage{Message: fmt.Sprintf("line %d", i)})
		m = updated.(Model)
	}
	if len(m.logs) != maxLogLines {
		t.Fatalf("expected %d log lines, got %d", maxLogLines, len(m.logs))
	}
	if !strings.HasSuffix(m.logs[len(m.logs)-1], fmt.Sprintf("line %d", maxLogLines+4)) {
		t.Fatalf("unexpected last line %q", m.logs[len(m.logs)-1])
	}
}

func TestModelQuitsOnQ(t *testing.T) {
	m := NewModel(nil, "")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if !updated.(Model).quit {
		t.Fatal("model should be quitting")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"pi-1", 18, "pi-1"},
		{"satellite-node-0042-extra", 18, "satellite-node-..."},
		{"衛星ノード番号四十二号機", 8, "衛星ノード..."},
		{"🛰🛰🛰🛰🛰🛰", 5, "🛰🛰..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
