package models

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting in the queue.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusAssigned indicates the task was handed to an agent.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the agent reported it started work.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the task is held by an agent.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusAssigned || s == TaskStatusInProgress
}

// IsTerminal reports whether the task reached an outcome.
// Failed tasks may still move back to pending through a retry.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// taskTransitions lists the allowed moves out of each state.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusAssigned},
	TaskStatusAssigned:   {TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
	TaskStatusFailed:     {TaskStatusPending},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Name is the short label of the task.
	Name string `json:"name"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Type is a caller-defined classification.
	Type string `json:"type,omitempty"`
	// Priority controls retry eligibility.
	Priority Priority `json:"priority"`
	// RequiredCapabilities is tried in order when matching an agent.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedAgentID is the ID of the agent holding this task.
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	// Result is the opaque payload reported on completion.
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was last assigned.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached an outcome.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Attempts counts how many times the task has been assigned.
	Attempts int `json:"attempts"`
	// Reassignments counts assignments abandoned because the agent went
	// offline. They do not consume the retry budget.
	Reassignments int `json:"reassignments,omitempty"`
	// Context carries caller data through to the agent.
	Context map[string]any `json:"context,omitempty"`
	// WorkflowID is set when the task was created as a workflow member.
	WorkflowID string `json:"workflow_id,omitempty"`
}

// Clone returns a copy of the task that shares no mutable state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	c.Context = CloneContext(t.Context)
	return &c
}

// TaskSpec is the caller's description of a task to create.
type TaskSpec struct {
	// Key names the task within a workflow so siblings can depend on it.
	Key                  string         `json:"key,omitempty"`
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	Type                 string         `json:"type,omitempty"`
	Priority             Priority       `json:"priority,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Dependencies         []string       `json:"dependencies,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
}

// Validate checks a TaskSpec before a task is created from it.
func (s TaskSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if s.Priority != "" && !s.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority " + string(s.Priority)}
	}
	for _, c := range s.RequiredCapabilities {
		if c == "" {
			return &ValidationError{Field: "required_capabilities", Reason: "contains an empty name"}
		}
	}
	return nil
}

// CloneContext returns a shallow copy of a context map. Nil stays nil.
func CloneContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
