package state

import (
	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// RecordStore is what the Recorder writes to.
type RecordStore interface {
	TaskStore
	WorkflowStore
	AgentStore
}

// AgentSource looks up the live state of an agent.
type AgentSource interface {
	Get(id string) (*models.Agent, bool)
}

// Recorder writes coordinator and directory events to the audit store.
type Recorder struct {
	store  RecordStore
	agents AgentSource
	logger *zap.Logger
}

var _ registry.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder. agents may be nil; when set, every task
// event also refreshes the row of the agent involved so load figures
// stay current.
func NewRecorder(store RecordStore, agents AgentSource, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, agents: agents, logger: logger.Named("recorder")}
}

// Run records events until the channel is closed.
func (r *Recorder) Run(events <-chan orchestrator.Event) {
	for ev := range events {
		if err := r.Record(ev); err != nil {
			r.logger.Warn("failed to record event",
				zap.String("type", string(ev.Type)),
				zap.String("task_id", ev.TaskID),
				zap.String("workflow_id", ev.WorkflowID),
				zap.Error(err))
		}
	}
}

// Record persists the snapshots carried by one coordinator event.
func (r *Recorder) Record(ev orchestrator.Event) error {
	if ev.Task != nil {
		if err := r.store.SaveTask(ev.Task); err != nil {
			return err
		}
	}
	if ev.Workflow != nil {
		if err := r.store.SaveWorkflow(ev.Workflow); err != nil {
			return err
		}
	}
	if ev.AgentID != "" && r.agents != nil {
		if a, ok := r.agents.Get(ev.AgentID); ok {
			if err := r.store.SaveAgent(a); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnAgentEvent records directory changes.
func (r *Recorder) OnAgentEvent(ev registry.Event) {
	var err error
	switch ev.Type {
	case registry.EventUnregistered:
		err = r.store.MarkAgentRemoved(ev.AgentID, ev.Timestamp)
	default:
		if ev.Agent != nil {
			err = r.store.SaveAgent(ev.Agent)
		}
	}
	if err != nil {
		r.logger.Warn("failed to record agent event",
			zap.String("type", string(ev.Type)),
			zap.String("agent_id", ev.AgentID),
			zap.Error(err))
	}
}
