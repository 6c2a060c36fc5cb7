package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

// StatsPaneModel shows task counts by status and run outcomes.
type StatsPaneModel struct {
	total    int
	byStatus map[string]int
	outcomes map[string]int
	live     map[string]bool // Task ids with a run in flight
	width    int
	height   int
	focused  bool
}

func NewStatsPaneModel() StatsPaneModel {
	return StatsPaneModel{
		byStatus: make(map[string]int),
		outcomes: make(map[string]int),
		live:     make(map[string]bool),
	}
}

func (m StatsPaneModel) Update(msg tea.Msg) (StatsPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.StatisticsEvent:
		m.total = msg.Total
		m.byStatus = make(map[string]int, len(msg.ByStatus))
		for k, v := range msg.ByStatus {
			m.byStatus[k] = v
		}
	case events.RunStartedEvent:
		m.live[msg.ID] = true
	case events.RunFinishedEvent:
		m.outcomes[msg.Outcome]++
		// A busy trigger finishing says nothing about the run holding the lease
		if msg.Outcome != "busy" {
			delete(m.live, msg.ID)
		}
	}
	return m, nil
}

func (m StatsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	completed := m.byStatus["COMPLETED"]
	failed := m.byStatus["FAILED"] + m.byStatus["CANCELLED"]
	running := m.byStatus["IN_PROGRESS"]
	fmt.Fprintf(&b, "Total:       %d\n", m.total)
	fmt.Fprintf(&b, "Pending:     %s\n", StyleMuted.Render(fmt.Sprint(m.byStatus["PENDING"])))
	fmt.Fprintf(&b, "In progress: %s\n", StyleRunning.Render(fmt.Sprint(running)))
	fmt.Fprintf(&b, "Blocked:     %s\n", StyleStopped.Render(fmt.Sprint(m.byStatus["BLOCKED"])))
	fmt.Fprintf(&b, "Completed:   %s\n", StyleCompleted.Render(fmt.Sprint(completed)))
	fmt.Fprintf(&b, "Failed:      %s\n", StyleFailed.Render(fmt.Sprint(m.byStatus["FAILED"])))
	fmt.Fprintf(&b, "Cancelled:   %s\n", StyleMuted.Render(fmt.Sprint(m.byStatus["CANCELLED"])))
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(ProgressBar(min(m.width-14, 40), m.total, completed, failed, running))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Live runs:   %d\n", len(m.live))
	for _, kind := range []string{"completed", "failed", "stopped", "exhausted", "cancelled", "busy", "skipped", "not_ready"} {
		if n := m.outcomes[kind]; n > 0 {
			fmt.Fprintf(&b, "  %s %-10s %d\n", OutcomeIcon(kind), kind, n)
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// ProgressBar renders a width-wide bar split by done, failed and running
// counts out of total.
func ProgressBar(width, total, done, failed, running int) string {
	if width < 1 || total <= 0 {
		return ""
	}
	doneW := done * width / total
	failedW := failed * width / total
	runningW := running * width / total
	rest := max(width-doneW-failedW-runningW, 0)

	bar := StyleCompleted.Render(strings.Repeat("=", doneW)) +
		StyleFailed.Render(strings.Repeat("!", failedW)) +
		StyleRunning.Render(strings.Repeat("-", runningW)) +
		StyleMuted.Render(strings.Repeat(".", rest))
	return fmt.Sprintf("[%s] %d/%d", bar, done, total)
}

func (m *StatsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m *StatsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
