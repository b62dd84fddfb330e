package orchestrator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// markWorkflowsStartedLocked moves pending workflows to in_progress when
// one of their members is first assigned.
func (c *Coordinator) markWorkflowsStartedLocked(b *batch, taskID string) {
	for _, w := range c.store.WorkflowsOf(taskID) {
		if w.Status != models.WorkflowStatusPending {
			continue
		}
		w.Status = models.WorkflowStatusInProgress
		w.UpdatedAt = c.now()
		b.add(c.workflowEvent(EventWorkflowProgress, w, ""))
	}
}

// aggregateLocked re-evaluates every workflow the task belongs to after the
// task reached an outcome. A workflow completes when all members have
// completed and fails as soon as one member has failed. Terminal workflows
// never change again.
func (c *Coordinator) aggregateLocked(b *batch, taskID string) {
	for _, w := range c.store.WorkflowsOf(taskID) {
		if w.Status.IsTerminal() {
			continue
		}

		completed := 0
		failedID := ""
		for _, id := range w.TaskIDs {
			m, ok := c.store.Task(id)
			if !ok {
				continue
			}
			switch m.Status {
			case models.TaskStatusCompleted:
				completed++
			case models.TaskStatusFailed:
				if failedID == "" {
					failedID = id
				}
			}
		}

		now := c.now()
		w.CurrentStep = completed
		w.UpdatedAt = now

		switch {
		case completed == len(w.TaskIDs):
			w.Status = models.WorkflowStatusCompleted
			w.CompletedAt = timePtr(now)
			c.metrics.WorkflowsFinished.WithLabelValues(string(w.Status)).Inc()
			b.add(c.workflowEvent(EventWorkflowCompleted, w, ""))
			c.logger.Info("workflow completed", zap.String("workflow_id", w.ID))
		case failedID != "":
			w.Status = models.WorkflowStatusFailed
			w.CompletedAt = timePtr(now)
			w.Error = fmt.Sprintf("%s: %s", ErrWorkflowFailed, failedID)
			c.metrics.WorkflowsFinished.WithLabelValues(string(w.Status)).Inc()
			b.add(c.workflowEvent(EventWorkflowFailed, w, w.Error))
			c.logger.Warn("workflow failed",
				zap.String("workflow_id", w.ID),
				zap.String("task_id", failedID))
		default:
			if w.Status == models.WorkflowStatusPending {
				w.Status = models.WorkflowStatusInProgress
			}
			b.add(c.workflowEvent(EventWorkflowProgress, w, ""))
		}
	}
}
