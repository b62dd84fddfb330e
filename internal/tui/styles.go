package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("236")).
			Bold(true).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244")).
				Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// taskStatusStyle colors a task status.
func taskStatusStyle(s models.TaskStatus) lipgloss.Style {
	switch s {
	case models.TaskStatusInProgress:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("34")) // Green
	case models.TaskStatusAssigned:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // Orange
	case models.TaskStatusCompleted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("28")) // Dark green
	case models.TaskStatusFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // Red
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("244")) // Gray
	}
}

// agentStatusStyle colors an agent status.
func agentStatusStyle(s models.AgentStatus) lipgloss.Style {
	switch s {
	case models.AgentStatusBusy:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	case models.AgentStatusOffline:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	}
}
