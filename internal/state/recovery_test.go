package state

import (
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestCheckForInterrupted_Empty(t *testing.T) {
	rm := NewRecoveryManager(setupTestDB(t), nil)

	info, err := rm.CheckForInterrupted()
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if !info.Empty() {
		t.Errorf("expected nothing interrupted, got %+v", info)
	}
}

func seedInterruptedRun(t *testing.T, db *DB) {
	t.Helper()
	for id, status := range map[string]models.TaskStatus{
		"pending":  models.TaskStatusPending,
		"assigned": models.TaskStatusAssigned,
		"running":  models.TaskStatusInProgress,
		"done":     models.TaskStatusCompleted,
		"failed":   models.TaskStatusFailed,
	} {
		task := newTestTask(id)
		task.Status = status
		if err := db.SaveTask(task); err != nil {
			t.Fatalf("SaveTask(%s): %v", id, err)
		}
	}
	for id, status := range map[string]models.WorkflowStatus{
		"w-open": models.WorkflowStatusInProgress,
		"w-done": models.WorkflowStatusCompleted,
	} {
		wf := &models.Workflow{ID: id, Name: id, Status: status, CreatedAt: testEpoch, UpdatedAt: testEpoch}
		if err := db.SaveWorkflow(wf); err != nil {
			t.Fatalf("SaveWorkflow(%s): %v", id, err)
		}
	}
	for id, status := range map[string]models.AgentStatus{
		"a-idle":    models.AgentStatusIdle,
		"a-offline": models.AgentStatusOffline,
	} {
		a := &models.Agent{ID: id, Name: id, Type: models.AgentTypeSpecialist,
			Capabilities: []models.Capability{{Name: "x"}}, Status: status, RegisteredAt: testEpoch}
		if err := db.SaveAgent(a); err != nil {
			t.Fatalf("SaveAgent(%s): %v", id, err)
		}
	}
}

func TestClean_ClosesOpenRecords(t *testing.T) {
	db := setupTestDB(t)
	seedInterruptedRun(t, db)
	rm := NewRecoveryManager(db, nil)

	info, err := rm.CheckForInterrupted()
	if err != nil {
		t.Fatalf("CheckForInterrupted: %v", err)
	}
	want := Interrupted{Tasks: 3, Workflows: 1, Agents: 1}
	if info != want {
		t.Fatalf("CheckForInterrupted = %+v, want %+v", info, want)
	}

	now := testEpoch.Add(time.Hour)
	cleaned, err := rm.Clean(now)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if cleaned != want {
		t.Errorf("Clean = %+v, want %+v", cleaned, want)
	}

	for _, id := range []string{"pending", "assigned", "running"} {
		task, _ := db.GetTask(id)
		if task.Status != models.TaskStatusFailed || task.Error != InterruptedReason {
			t.Errorf("task %s = %s/%q", id, task.Status, task.Error)
		}
		if task.CompletedAt == nil || !task.CompletedAt.Equal(now) {
			t.Errorf("task %s completed_at = %v", id, task.CompletedAt)
		}
	}
	if task, _ := db.GetTask("done"); task.Status != models.TaskStatusCompleted {
		t.Errorf("completed task was touched: %s", task.Status)
	}

	wf, _ := db.GetWorkflow("w-open")
	if wf.Status != models.WorkflowStatusFailed || wf.Error != InterruptedReason {
		t.Errorf("workflow = %s/%q", wf.Status, wf.Error)
	}

	agent, _ := db.GetAgent("a-idle")
	if agent.Status != models.AgentStatusOffline {
		t.Errorf("agent status = %s, want offline", agent.Status)
	}

	again, err := rm.Clean(now)
	if err != nil {
		t.Fatalf("second Clean: %v", err)
	}
	if !again.Empty() {
		t.Errorf("second Clean closed %+v", again)
	}
}
