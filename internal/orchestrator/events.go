package orchestrator

import (
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventTaskCreated indicates a task entered the queue for the first time.
	EventTaskCreated EventType = "task_created"
	// EventTaskAssigned indicates a task was dispatched to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStarted indicates the agent reported it began work.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetried indicates a failed task went back to the queue.
	EventTaskRetried EventType = "task_retried"
	// EventTaskReassigned indicates a task was pulled from an offline agent.
	EventTaskReassigned EventType = "task_reassigned"
	// EventTaskDeferred indicates no agent matched and the task will be
	// requeued after a delay.
	EventTaskDeferred EventType = "task_deferred"
	// EventWorkflowCreated indicates a workflow and its members were created.
	EventWorkflowCreated EventType = "workflow_created"
	// EventWorkflowProgress indicates a workflow's step count changed.
	EventWorkflowProgress EventType = "workflow_progress"
	// EventWorkflowCompleted indicates every member of a workflow completed.
	EventWorkflowCompleted EventType = "workflow_completed"
	// EventWorkflowFailed indicates a workflow member failed for good.
	EventWorkflowFailed EventType = "workflow_failed"
	// EventAgentOffline indicates an agent stopped heartbeating.
	EventAgentOffline EventType = "agent_offline"
)

// Event is a state change published by the Coordinator.
// Task and Workflow are snapshots taken when the event was produced.
type Event struct {
	Type       EventType        `json:"type"`
	TaskID     string           `json:"task_id,omitempty"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	AgentID    string           `json:"agent_id,omitempty"`
	Message    string           `json:"message,omitempty"`
	Error      string           `json:"error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Task       *models.Task     `json:"task,omitempty"`
	Workflow   *models.Workflow `json:"workflow,omitempty"`
}
