// Package dispatch carries assignments to agents and their outcomes back.
//
// A Channel delivers models.Assignment values; it must not block the
// caller for longer than a bounded send. Agents report progress through a
// Reporter, either directly (LocalWorker) or as Outcome messages relayed
// by a transport (RedisChannel.Listen).
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Channel hands assignments to agents.
type Channel interface {
	Send(ctx context.Context, a models.Assignment) error
}

// Reporter receives agent-side task outcomes.
type Reporter interface {
	OnTaskStarted(taskID, agentID string) error
	OnTaskCompleted(taskID, agentID string, result json.RawMessage) error
	OnTaskFailed(taskID, agentID, errorDetails string) error
}

// OutcomeType identifies what an agent reported.
type OutcomeType string

const (
	OutcomeStarted   OutcomeType = "started"
	OutcomeCompleted OutcomeType = "completed"
	OutcomeFailed    OutcomeType = "failed"
)

// Outcome is an agent report in message form.
type Outcome struct {
	Type      OutcomeType     `json:"type"`
	TaskID    string          `json:"task_id"`
	AgentID   string          `json:"agent_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrUnknownOutcome is returned by Deliver for an unrecognized outcome type.
var ErrUnknownOutcome = errors.New("unknown outcome type")

// Deliver forwards an outcome to the matching Reporter callback.
func Deliver(r Reporter, o Outcome) error {
	switch o.Type {
	case OutcomeStarted:
		return r.OnTaskStarted(o.TaskID, o.AgentID)
	case OutcomeCompleted:
		return r.OnTaskCompleted(o.TaskID, o.AgentID, o.Result)
	case OutcomeFailed:
		return r.OnTaskFailed(o.TaskID, o.AgentID, o.Error)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, o.Type)
	}
}
