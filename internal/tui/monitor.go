// Package tui renders a live run monitor: one row per agent, the most
// recent bus events, and a resource-usage footer.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cwithey/troupe/internal/bus"
	"github.com/cwithey/troupe/internal/resource"
)

const maxRecentEvents = 12

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	agentIDStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("81"))

	workingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// agentRow is the monitor's view of one agent.
type agentRow struct {
	id        string
	goal      string
	current   string
	completed int
	failed    int
	finished  bool
}

type eventMsg bus.Event

type tickMsg time.Time

// Monitor is the bubbletea model for a running orchestration.
type Monitor struct {
	bus     *bus.Bus
	tracker *resource.Tracker

	events chan bus.Event
	subs   []bus.Subscription

	order  []string
	agents map[string]*agentRow
	recent []string

	spin     spinner.Model
	shutdown bool
	reason   string
}

// NewMonitor creates a monitor wired to the run's bus and tracker.
func NewMonitor(b *bus.Bus, tracker *resource.Tracker) *Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))

	m := &Monitor{
		bus:     b,
		tracker: tracker,
		events:  make(chan bus.Event, 256),
		agents:  make(map[string]*agentRow),
		spin:    sp,
	}

	forward := func(ev bus.Event) error {
		select {
		case m.events <- ev:
		default:
		}
		return nil
	}
	for _, typ := range []bus.EventType{
		bus.EventAgentStarted,
		bus.EventAgentCompleted,
		bus.EventTaskStarted,
		bus.EventTaskCompleted,
		bus.EventTaskFailed,
		bus.EventResourceLimitWarning,
		bus.EventResourceLimitExceeded,
		bus.EventSystemShutdown,
	} {
		m.subs = append(m.subs, b.Subscribe(typ, forward))
	}
	return m
}

// Close removes the monitor's bus subscriptions.
func (m *Monitor) Close() {
	for _, sub := range m.subs {
		m.bus.Unsubscribe(sub)
	}
}

// Init starts the spinner and the event pump.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.nextEvent(), tick())
}

func (m *Monitor) nextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.events)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles bus events, key presses, and timer ticks.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		if m.shutdown {
			return m, tea.Quit
		}
		return m, tick()

	case eventMsg:
		m.apply(bus.Event(msg))
		if m.shutdown {
			return m, tea.Quit
		}
		return m, m.nextEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds one bus event into the monitor state.
func (m *Monitor) apply(ev bus.Event) {
	switch ev.Type {
	case bus.EventAgentStarted:
		goal, _ := ev.Payload["goal"].(string)
		if _, ok := m.agents[ev.AgentID]; !ok {
			m.order = append(m.order, ev.AgentID)
			m.agents[ev.AgentID] = &agentRow{id: ev.AgentID, goal: goal}
		}
		m.note(fmt.Sprintf("%s started", ev.AgentID))

	case bus.EventTaskStarted:
		if row, ok := m.agents[ev.AgentID]; ok {
			row.current, _ = ev.Payload["description"].(string)
		}

	case bus.EventTaskCompleted:
		if row, ok := m.agents[ev.AgentID]; ok {
			row.completed++
			row.current = ""
		}
		taskID, _ := ev.Payload["task_id"].(string)
		m.note(fmt.Sprintf("%s completed %s", ev.AgentID, taskID))

	case bus.EventTaskFailed:
		if row, ok := m.agents[ev.AgentID]; ok {
			row.failed++
			row.current = ""
		}
		taskID, _ := ev.Payload["task_id"].(string)
		m.note(failedStyle.Render(fmt.Sprintf("%s failed %s", ev.AgentID, taskID)))

	case bus.EventAgentCompleted:
		if row, ok := m.agents[ev.AgentID]; ok {
			row.finished = true
			row.current = ""
		}
		m.note(fmt.Sprintf("%s finished", ev.AgentID))

	case bus.EventResourceLimitWarning:
		m.note(failedStyle.Render(fmt.Sprintf("resource warning: %v", ev.Payload["limit_type"])))

	case bus.EventResourceLimitExceeded:
		m.note(failedStyle.Render(fmt.Sprintf("resource exceeded: %v", ev.Payload["limit_type"])))

	case bus.EventSystemShutdown:
		m.shutdown = true
		m.reason, _ = ev.Payload["reason"].(string)
	}
}

func (m *Monitor) note(line string) {
	stamp := time.Now().Format("15:04:05")
	m.recent = append(m.recent, dimStyle.Render(stamp)+" "+line)
	if len(m.recent) > maxRecentEvents {
		m.recent = m.recent[len(m.recent)-maxRecentEvents:]
	}
}

// View renders the agents panel, the recent-event log, and the footer.
func (m *Monitor) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("troupe run"))
	b.WriteString("\n\n")

	var rows []string
	for _, id := range m.order {
		row := m.agents[id]
		status := m.spin.View() + " " + workingStyle.Render("working")
		if row.finished {
			status = doneStyle.Render("done")
		}
		line := fmt.Sprintf("%s  %s  %d ok / %d failed",
			agentIDStyle.Render(row.id), status, row.completed, row.failed)
		if row.current != "" {
			line += "\n" + dimStyle.Render("  "+row.current)
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		rows = append(rows, dimStyle.Render("waiting for agents"))
	}
	b.WriteString(panelStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if len(m.recent) > 0 {
		b.WriteString(panelStyle.Render(strings.Join(m.recent, "\n")))
		b.WriteString("\n")
	}

	summary := m.tracker.GetSummary()
	footer := fmt.Sprintf("cost $%.4f (%.0f%%)  tokens %d  elapsed %.0fs",
		summary.Cost.Current, summary.Cost.Percent,
		summary.Tokens.Total, summary.ElapsedSeconds.Current)
	if m.shutdown {
		footer += "  shutdown: " + m.reason
	}
	b.WriteString(dimStyle.Render(footer))
	b.WriteString("\n")

	return b.String()
}
