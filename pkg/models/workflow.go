package models

import (
	"fmt"
	"time"
)

// WorkflowStatus represents the aggregate state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusPending, WorkflowStatusInProgress,
		WorkflowStatusCompleted, WorkflowStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the workflow can no longer change.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// Workflow groups tasks whose outcomes are aggregated together.
type Workflow struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status WorkflowStatus `json:"status"`
	// CurrentStep is the number of member tasks that have completed.
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	TaskIDs     []string       `json:"task_ids"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	// Error names the member that caused a failure.
	Error string `json:"error,omitempty"`
}

// Progress returns the completed fraction in [0, 1].
func (w *Workflow) Progress() float64 {
	if w.TotalSteps == 0 {
		return 0
	}
	return float64(w.CurrentStep) / float64(w.TotalSteps)
}

// Clone returns a copy of the workflow that shares no mutable state.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.TaskIDs = append([]string(nil), w.TaskIDs...)
	c.Context = CloneContext(w.Context)
	if w.CompletedAt != nil {
		completed := *w.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

// WorkflowSpec is the caller's description of a workflow to create.
// Member dependencies may name a sibling's Key or an existing task ID.
type WorkflowSpec struct {
	Name    string         `json:"name"`
	Tasks   []TaskSpec     `json:"tasks"`
	Context map[string]any `json:"context,omitempty"`
}

// Validate checks the workflow and every member spec.
func (s WorkflowSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if len(s.Tasks) == 0 {
		return &ValidationError{Field: "tasks", Reason: "at least one task is required"}
	}
	keys := make(map[string]struct{}, len(s.Tasks))
	for i, t := range s.Tasks {
		if err := t.Validate(); err != nil {
			return &ValidationError{Field: fmt.Sprintf("tasks[%d]", i), Reason: err.Error()}
		}
		if t.Key == "" {
			continue
		}
		if _, dup := keys[t.Key]; dup {
			return &ValidationError{Field: fmt.Sprintf("tasks[%d].key", i), Reason: "duplicate key " + t.Key}
		}
		keys[t.Key] = struct{}{}
	}
	return nil
}
