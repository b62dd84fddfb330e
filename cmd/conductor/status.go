package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	statusDBPath string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded tasks, workflows and agents",
	Long: `Display what the state store recorded.

Shows:
  - Task counts by status
  - Known agents and their last status
  - The most recent workflows and tasks

This reads the SQLite store directly and works whether or not a server is
running. Use 'conductor top' for a live view of a running server.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", "", "state database (overrides state.db_path)")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of recent tasks and workflows to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	dbPath := cfg.State.DBPath
	if statusDBPath != "" {
		dbPath = statusDBPath
	}
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		fmt.Println("No recorded state. Run 'conductor serve' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	counts, err := db.CountTasksByStatus()
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	agents, err := db.ListAgents(false)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	workflows, err := db.ListWorkflows(nil)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	tasks, err := db.ListTasks(nil)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("State: %s\n\n", dbPath)

	bold.Println("Tasks")
	total := 0
	for _, s := range taskStatuses {
		fmt.Printf("  %s %d\n", taskColor(s).Sprintf("%-12s", s), counts[s])
		total += counts[s]
	}
	fmt.Printf("  %-12s %d\n\n", "total", total)

	bold.Println("Agents")
	if len(agents) == 0 {
		fmt.Println("  (none)")
	}
	for _, a := range agents {
		fmt.Printf("  %s %-16s %-12s %d/%d  %s  seen %s\n",
			agentSymbol(a.Status), a.ID, a.Type, a.CurrentTasks, a.MaxConcurrentTasks,
			strings.Join(a.CapabilityNames(), ","), ago(a.LastHeartbeat))
	}
	fmt.Println()

	bold.Println("Recent workflows")
	if len(workflows) == 0 {
		fmt.Println("  (none)")
	}
	for _, w := range lastN(workflows, statusLimit) {
		fmt.Printf("  %s %s %-24s %d/%d steps  %s\n",
			workflowSymbol(w.Status), shortID(w.ID), w.Name, w.CurrentStep, w.TotalSteps, ago(w.UpdatedAt))
		if w.Error != "" {
			fmt.Printf("      %s\n", color.RedString(w.Error))
		}
	}
	fmt.Println()

	bold.Println("Recent tasks")
	if len(tasks) == 0 {
		fmt.Println("  (none)")
	}
	for _, t := range lastN(tasks, statusLimit) {
		agent := t.AssignedAgentID
		if agent == "" {
			agent = "-"
		}
		fmt.Printf("  %s %-24s %s %-8s %-16s try %d\n",
			shortID(t.ID), t.Name, taskColor(t.Status).Sprintf("%-12s", t.Status), t.Priority, agent, t.Attempts)
		if t.Error != "" {
			fmt.Printf("      %s\n", color.RedString(t.Error))
		}
	}
	return nil
}

var taskStatuses = []models.TaskStatus{
	models.TaskStatusPending,
	models.TaskStatusAssigned,
	models.TaskStatusInProgress,
	models.TaskStatusCompleted,
	models.TaskStatusFailed,
}

func taskColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusInProgress, models.TaskStatusAssigned:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgHiBlack)
	}
}

func agentSymbol(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusOffline:
		return color.RedString("✗")
	case models.AgentStatusBusy:
		return color.YellowString("●")
	default:
		return color.GreenString("✓")
	}
}

func workflowSymbol(s models.WorkflowStatus) string {
	switch s {
	case models.WorkflowStatusCompleted:
		return color.GreenString("✓")
	case models.WorkflowStatusFailed:
		return color.RedString("✗")
	case models.WorkflowStatusInProgress:
		return color.YellowString("●")
	default:
		return color.HiBlackString("○")
	}
}

func lastN[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
