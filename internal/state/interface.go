package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// TaskStore handles task persistence.
type TaskStore interface {
	SaveTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	ListTasks(status *models.TaskStatus) ([]*models.Task, error)
	ListTasksByWorkflow(workflowID string) ([]*models.Task, error)
	CountTasksByStatus() (map[models.TaskStatus]int, error)
}

// WorkflowStore handles workflow persistence.
type WorkflowStore interface {
	SaveWorkflow(w *models.Workflow) error
	GetWorkflow(id string) (*models.Workflow, error)
	ListWorkflows(status *models.WorkflowStatus) ([]*models.Workflow, error)
}

// AgentStore handles agent persistence.
type AgentStore interface {
	SaveAgent(a *models.Agent) error
	MarkAgentRemoved(id string, at time.Time) error
	GetAgent(id string) (*AgentRecord, error)
	ListAgents(includeRemoved bool) ([]*AgentRecord, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore is the full audit store. The recorder and the CLI depend on
// this rather than on the SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	TaskStore
	WorkflowStore
	AgentStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore    = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ WorkflowStore = (*DB)(nil)
	_ AgentStore    = (*DB)(nil)
)
