package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/conductor/internal/graph"
)

var (
	// ErrTaskNotFound is returned when a task ID is unknown.
	ErrTaskNotFound = errors.New("task not found")
	// ErrWorkflowNotFound is returned when a workflow ID is unknown.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the task's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAgentMismatch is returned when an agent reports on a task it does
	// not hold.
	ErrAgentMismatch = errors.New("task is not assigned to this agent")
	// ErrNoAgentAvailable is returned by the assigner when no agent passes
	// any matching rule.
	ErrNoAgentAvailable = errors.New("no agent available")
	// ErrTaskTimeout is recorded on tasks that outlived the task timeout.
	ErrTaskTimeout = errors.New("Task timeout") //nolint:staticcheck // stored verbatim on the task
	// ErrAgentOffline is the cause logged when tasks are pulled from an
	// agent that stopped heartbeating.
	ErrAgentOffline = errors.New("agent offline")
	// ErrWorkflowFailed is recorded on workflows with a failed member.
	ErrWorkflowFailed = errors.New("workflow member failed")
	// ErrUnknownDependency is returned when a task depends on an ID that
	// does not exist.
	ErrUnknownDependency = graph.ErrUnknownDependency
	// ErrCycleDetected is returned when workflow members depend on each
	// other in a loop.
	ErrCycleDetected = graph.ErrCycleDetected
	// ErrClosed is returned by operations on a closed Coordinator.
	ErrClosed = errors.New("coordinator closed")
)

// DispatchError wraps a failure to hand an assignment to its agent.
type DispatchError struct {
	TaskID  string
	AgentID string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch task %s to agent %s: %v", e.TaskID, e.AgentID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
