package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

const runListWidth = 28

// RunState is one orchestration run as seen from the event stream.
type RunState struct {
	TaskID    string
	AgentID   string
	Title     string
	Outcome   string // Empty while the run is live
	Activity  []string
	StartTime time.Time
	Duration  time.Duration
}

// RunsPaneModel lists runs on the left and the selected run's activity on
// the right.
type RunsPaneModel struct {
	runs        map[string]*RunState // taskID -> latest run
	order       []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int
}

// NewRunsPaneModel creates an empty runs pane.
func NewRunsPaneModel() RunsPaneModel {
	return RunsPaneModel{
		runs:     make(map[string]*RunState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg debounces viewport refreshes during bursts of iterations.
type tickMsg struct {
	tag int
}

func (m RunsPaneModel) Update(msg tea.Msg) (RunsPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case keyJ, keyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.refresh()
			}
		case keyK, keyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.RunStartedEvent:
		run, exists := m.runs[msg.ID]
		if !exists {
			run = &RunState{TaskID: msg.ID}
			m.runs[msg.ID] = run
			m.order = append(m.order, msg.ID)
		}
		// A redelivered trigger starts the task's run over
		run.AgentID = msg.AgentID
		run.Title = msg.Title
		run.Outcome = ""
		run.StartTime = msg.Timestamp
		run.Duration = 0
		run.Activity = append(run.Activity, fmt.Sprintf("[%s started %q]", msg.AgentID, msg.Title))
		if m.Selected() == msg.ID || len(m.order) == 1 {
			m.refresh()
		}

	case events.RunIterationEvent:
		run, exists := m.runs[msg.ID]
		if !exists {
			break
		}
		run.Activity = append(run.Activity, describeIteration(msg))
		if m.Selected() == msg.ID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.RunFinishedEvent:
		run, exists := m.runs[msg.ID]
		if !exists {
			// Busy and skipped triggers never started a run
			break
		}
		run.Outcome = msg.Outcome
		run.Duration = msg.Duration
		line := fmt.Sprintf("[%s after %d iterations in %v]", msg.Outcome, msg.Iterations, msg.Duration.Round(time.Millisecond))
		if msg.Err != "" {
			line += " " + msg.Err
		}
		run.Activity = append(run.Activity, line)
		if m.Selected() == msg.ID {
			m.refresh()
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.refresh()
		}
	}

	return m, cmd
}

func describeIteration(e events.RunIterationEvent) string {
	mark := "✓"
	if !e.Success {
		mark = "✗"
	}
	if e.Tool != "" {
		return fmt.Sprintf("%2d %s %s: %s", e.Iteration, mark, e.Tool, e.Summary)
	}
	return fmt.Sprintf("%2d %s %s: %s", e.Iteration, mark, e.Action, e.Summary)
}

func (m RunsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(m.width-runListWidth-4).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m RunsPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Runs")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleMuted.Render("Waiting..."))
	}
	for i, id := range m.order {
		run := m.runs[id]
		label := run.Title
		if label == "" {
			label = id
		}
		if r := []rune(label); len(r) > runListWidth-4 {
			label = string(r[:runListWidth-7]) + "..."
		}
		line := fmt.Sprintf("%s %s", OutcomeIcon(run.Outcome), label)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(runListWidth).
		Height(m.height - 2).
		Render(b.String())
}

// OutcomeIcon returns a styled marker for a run outcome. An empty outcome
// means the run is still live.
func OutcomeIcon(outcome string) string {
	switch outcome {
	case "":
		return StyleRunning.Render("●")
	case "completed":
		return StyleCompleted.Render("✓")
	case "failed":
		return StyleFailed.Render("✗")
	case "stopped", "exhausted", "cancelled":
		return StyleStopped.Render("■")
	default:
		return StyleMuted.Render("○")
	}
}

// Selected returns the task id of the selected run.
func (m RunsPaneModel) Selected() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Run returns the state tracked for taskID.
func (m RunsPaneModel) Run(taskID string) (RunState, bool) {
	run, ok := m.runs[taskID]
	if !ok {
		return RunState{}, false
	}
	return *run, true
}

func (m *RunsPaneModel) refresh() {
	run, ok := m.runs[m.Selected()]
	if !ok {
		m.viewport.SetContent("Waiting for runs...")
		return
	}
	m.viewport.SetContent(strings.Join(run.Activity, "\n"))
	m.viewport.GotoBottom()
}

func (m *RunsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-runListWidth-4, 10)
	m.viewport.Height = max(h-4, 5)
}

func (m *RunsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
