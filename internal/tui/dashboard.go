// Package tui provides the conductor top dashboard: a live view of queue
// depth, active tasks, and agent load polled from a running server.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Tab constants for navigation.
const (
	TabTasks = iota
	TabAgents
)

// tickMsg triggers the next poll.
type tickMsg time.Time

// snapshotMsg carries the result of a poll.
type snapshotMsg struct {
	snap *Snapshot
	err  error
	at   time.Time
}

// Dashboard is the bubbletea model for conductor top.
type Dashboard struct {
	source   Source
	interval time.Duration

	tab        int
	snap       *Snapshot
	err        error
	lastUpdate time.Time
	fetching   bool
	width      int
	quitting   bool

	spinner  spinner.Model
	capacity progress.Model
	tasks    table.Model
	agents   table.Model
}

// NewDashboard creates a dashboard polling source every interval.
func NewDashboard(source Source, interval time.Duration) *Dashboard {
	if interval <= 0 {
		interval = time.Second
	}
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	tasks := table.New(
		table.WithColumns([]table.Column{
			{Title: "Task", Width: 12},
			{Title: "Name", Width: 28},
			{Title: "Status", Width: 12},
			{Title: "Priority", Width: 8},
			{Title: "Agent", Width: 14},
			{Title: "Try", Width: 4},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	agents := table.New(
		table.WithColumns([]table.Column{
			{Title: "Agent", Width: 14},
			{Title: "Type", Width: 12},
			{Title: "Status", Width: 8},
			{Title: "Load", Width: 8},
			{Title: "Capabilities", Width: 36},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	return &Dashboard{
		source:   source,
		interval: interval,
		tab:      TabTasks,
		spinner:  sp,
		capacity: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		tasks:    tasks,
		agents:   agents,
		width:    80,
	}
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	d.fetching = true
	return tea.Batch(d.spinner.Tick, d.fetch())
}

func (d *Dashboard) fetch() tea.Cmd {
	source := d.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := source.Fetch(ctx)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (d *Dashboard) scheduleTick() tea.Cmd {
	return tea.Tick(d.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		case "tab":
			d.tab = (d.tab + 1) % 2
			return d, nil
		case "r":
			if !d.fetching {
				d.fetching = true
				return d, d.fetch()
			}
			return d, nil
		}
		var cmd tea.Cmd
		if d.tab == TabTasks {
			d.tasks, cmd = d.tasks.Update(msg)
		} else {
			d.agents, cmd = d.agents.Update(msg)
		}
		return d, cmd

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.capacity.Width = min(max(msg.Width-30, 10), 60)
		return d, nil

	case tickMsg:
		if d.fetching {
			return d, nil
		}
		d.fetching = true
		return d, d.fetch()

	case snapshotMsg:
		d.fetching = false
		d.err = msg.err
		if msg.err == nil {
			d.snap = msg.snap
			d.lastUpdate = msg.at
			d.tasks.SetRows(taskRows(msg.snap.Active))
			d.agents.SetRows(agentRows(msg.snap.Agents))
		}
		return d, d.scheduleTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd
	}
	return d, nil
}

func taskRows(tasks []*models.Task) []table.Row {
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, table.Row{
			shortID(t.ID),
			t.Name,
			string(t.Status),
			string(t.Priority),
			t.AssignedAgentID,
			fmt.Sprintf("%d", t.Attempts),
		})
	}
	return rows
}

func agentRows(agents []*models.Agent) []table.Row {
	rows := make([]table.Row, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, table.Row{
			a.ID,
			string(a.Type),
			string(a.Status),
			fmt.Sprintf("%d/%d", a.CurrentTasks, a.MaxConcurrentTasks),
			strings.Join(a.CapabilityNames(), ","),
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}

	var b strings.Builder
	title := titleStyle.Render("conductor top")
	if d.fetching {
		title += " " + d.spinner.View()
	}
	b.WriteString(title + "\n\n")

	if d.snap == nil {
		if d.err != nil {
			b.WriteString(errorStyle.Render("error: "+d.err.Error()) + "\n")
		} else {
			b.WriteString("connecting...\n")
		}
		b.WriteString(d.footer())
		return b.String()
	}

	b.WriteString(panelStyle.Render(d.summary()) + "\n\n")
	b.WriteString(d.tabs() + "\n")
	if d.tab == TabTasks {
		if len(d.snap.Active) == 0 {
			b.WriteString(footerStyle.Render("No active tasks") + "\n")
		} else {
			b.WriteString(d.tasks.View() + "\n")
		}
	} else {
		if len(d.snap.Agents) == 0 {
			b.WriteString(footerStyle.Render("No registered agents") + "\n")
		} else {
			b.WriteString(d.agents.View() + "\n")
		}
	}
	if d.err != nil {
		b.WriteString(errorStyle.Render("last poll failed: "+d.err.Error()) + "\n")
	}
	b.WriteString(d.footer())
	return b.String()
}

func (d *Dashboard) summary() string {
	s := d.snap.Stats
	ratio := 0.0
	if s.MaxConcurrentTasks > 0 {
		ratio = float64(s.ActiveTasks) / float64(s.MaxConcurrentTasks)
	}

	var statuses []string
	for _, st := range []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusAssigned, models.TaskStatusInProgress,
		models.TaskStatusCompleted, models.TaskStatusFailed,
	} {
		statuses = append(statuses, taskStatusStyle(st).Render(fmt.Sprintf("%s %d", st, s.Tasks[st])))
	}

	agents := strings.Join([]string{
		agentStatusStyle(models.AgentStatusIdle).Render(fmt.Sprintf("idle %d", s.Agents.IdleAgents)),
		agentStatusStyle(models.AgentStatusBusy).Render(fmt.Sprintf("busy %d", s.Agents.BusyAgents)),
		agentStatusStyle(models.AgentStatusOffline).Render(fmt.Sprintf("offline %d", s.Agents.OfflineAgents)),
	}, "  ")

	lines := []string{
		labelStyle.Render("Capacity") + d.capacity.ViewAs(min(ratio, 1)) +
			valueStyle.Render(fmt.Sprintf(" %d/%d", s.ActiveTasks, s.MaxConcurrentTasks)),
		labelStyle.Render("Queue") + valueStyle.Render(fmt.Sprintf("%d", s.QueueLength)) +
			footerStyle.Render(fmt.Sprintf("  (%d deferred)", s.DeferredTasks)),
		labelStyle.Render("Tasks") + strings.Join(statuses, "  "),
		labelStyle.Render("Workflows") + valueStyle.Render(fmt.Sprintf("%d", s.TotalWorkflows)) +
			footerStyle.Render(fmt.Sprintf("  (%d running, %d failed)",
				s.Workflows[models.WorkflowStatusInProgress], s.Workflows[models.WorkflowStatusFailed])),
		labelStyle.Render("Agents") + agents,
	}
	if s.EventsDropped > 0 {
		lines = append(lines, labelStyle.Render("Dropped")+errorStyle.Render(fmt.Sprintf("%d events", s.EventsDropped)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (d *Dashboard) tabs() string {
	names := []string{"Active tasks", "Agents"}
	rendered := make([]string, len(names))
	for i, name := range names {
		if i == d.tab {
			rendered[i] = activeTabStyle.Render(name)
		} else {
			rendered[i] = inactiveTabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (d *Dashboard) footer() string {
	updated := "never"
	if !d.lastUpdate.IsZero() {
		updated = d.lastUpdate.Format("15:04:05")
	}
	return footerStyle.Render(fmt.Sprintf("tab switch view • r refresh • q quit • updated %s", updated))
}

// Run starts the dashboard and blocks until the user quits or ctx ends.
func Run(ctx context.Context, source Source, interval time.Duration) error {
	p := tea.NewProgram(NewDashboard(source, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
