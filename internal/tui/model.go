package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

const (
	keyTab      = "tab"
	keyShiftTab = "shift+tab"
	keyQuit     = "q"
	keyCtrlC    = "ctrl+c"
	keyRuns     = "1"
	keyStats    = "2"
	keyUp       = "up"
	keyDown     = "down"
	keyJ        = "j"
	keyK        = "k"
)

const helpText = "Tab: cycle focus | 1/2: jump to pane | j/k: select run | pgup/pgdn: scroll | q: quit"

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneRuns PaneID = iota
	PaneStats
	paneCount
)

// Subscriber is the part of the event bus the TUI reads from.
type Subscriber interface {
	SubscribeAll(bufSize int) <-chan events.Event
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	runsPane    RunsPaneModel
	statsPane   StatsPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	width       int
	height      int
	quitting    bool
}

// New creates a new TUI model subscribed to every topic on bus.
func New(bus Subscriber) Model {
	m := Model{
		runsPane:    NewRunsPaneModel(),
		statsPane:   NewStatsPaneModel(),
		focusedPane: PaneRuns,
		eventSub:    bus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case keyQuit, keyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case keyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()
		case keyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()
		case keyRuns:
			m.focusedPane = PaneRuns
			m.updateFocusStates()
		case keyStats:
			m.focusedPane = PaneStats
			m.updateFocusStates()
		default:
			if m.focusedPane == PaneRuns {
				var cmd tea.Cmd
				m.runsPane, cmd = m.runsPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.runsPane, cmd = m.runsPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.RunStartedEvent, events.RunIterationEvent, events.RunFinishedEvent:
		var cmd tea.Cmd
		m.runsPane, cmd = m.runsPane.Update(msg)
		cmds = append(cmds, cmd)
		m.statsPane, _ = m.statsPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.StatisticsEvent:
		m.statsPane, _ = m.statsPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		// Task transitions are reflected through the statistics snapshots
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	content := lipgloss.JoinHorizontal(lipgloss.Top, m.runsPane.View(), m.statsPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, content, StyleHelp.Render(helpText))
}

// computeLayout gives the runs pane 65% of the width and reserves one line
// for the help bar.
func (m *Model) computeLayout() {
	runsWidth := (m.width * 65) / 100
	availableHeight := m.height - 1

	m.runsPane.SetSize(runsWidth, availableHeight)
	m.statsPane.SetSize(m.width-runsWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.runsPane.SetFocused(m.focusedPane == PaneRuns)
	m.statsPane.SetFocused(m.focusedPane == PaneStats)
}

// Focused returns the focused pane.
func (m Model) Focused() PaneID { return m.focusedPane }

// Runs returns the runs pane.
func (m Model) Runs() RunsPaneModel { return m.runsPane }

// Run starts the program on the terminal and blocks until the user quits.
func Run(bus Subscriber) error {
	_, err := tea.NewProgram(New(bus), tea.WithAltScreen()).Run()
	return err
}
