package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"assigned is valid", TaskStatusAssigned, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"blocked is not a task status", TaskStatus("blocked"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusAssigned, true},
		{TaskStatusPending, TaskStatusInProgress, false},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusAssigned, TaskStatusInProgress, true},
		{TaskStatusAssigned, TaskStatusCompleted, true},
		{TaskStatusAssigned, TaskStatusFailed, true},
		{TaskStatusAssigned, TaskStatusPending, true},
		{TaskStatusInProgress, TaskStatusCompleted, true},
		{TaskStatusInProgress, TaskStatusFailed, true},
		{TaskStatusInProgress, TaskStatusAssigned, false},
		{TaskStatusFailed, TaskStatusPending, true},
		{TaskStatusFailed, TaskStatusCompleted, false},
		{TaskStatusCompleted, TaskStatusPending, false},
		{TaskStatusCompleted, TaskStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_ActiveAndTerminal(t *testing.T) {
	if !TaskStatusAssigned.IsActive() || !TaskStatusInProgress.IsActive() {
		t.Error("assigned and in_progress should be active")
	}
	if TaskStatusPending.IsActive() || TaskStatusCompleted.IsActive() {
		t.Error("pending and completed should not be active")
	}
	if !TaskStatusCompleted.IsTerminal() || !TaskStatusFailed.IsTerminal() {
		t.Error("completed and failed should be terminal")
	}
}

func TestTask_CloneIsIndependent(t *testing.T) {
	now := time.Now()
	task := &Task{
		ID:                   "t1",
		RequiredCapabilities: []string{"a"},
		Dependencies:         []string{"t0"},
		Result:               json.RawMessage(`{"ok":true}`),
		StartedAt:            &now,
		Context:              map[string]any{"k": "v"},
	}

	c := task.Clone()
	c.RequiredCapabilities[0] = "b"
	c.Dependencies[0] = "tx"
	c.Result[2] = 'X'
	*c.StartedAt = now.Add(time.Hour)
	c.Context["k"] = "changed"

	if task.RequiredCapabilities[0] != "a" || task.Dependencies[0] != "t0" {
		t.Error("clone shares slices with original")
	}
	if string(task.Result) != `{"ok":true}` {
		t.Error("clone shares result bytes with original")
	}
	if !task.StartedAt.Equal(now) {
		t.Error("clone shares StartedAt with original")
	}
	if task.Context["k"] != "v" {
		t.Error("clone shares context with original")
	}
}

func TestTaskSpec_Validate(t *testing.T) {
	if err := (TaskSpec{Name: "x"}).Validate(); err != nil {
		t.Errorf("minimal spec should be valid: %v", err)
	}

	var verr *ValidationError
	if err := (TaskSpec{}).Validate(); !errors.As(err, &verr) || verr.Field != "name" {
		t.Errorf("expected name validation error, got %v", err)
	}
	if err := (TaskSpec{Name: "x", Priority: "critical"}).Validate(); !errors.As(err, &verr) || verr.Field != "priority" {
		t.Errorf("expected priority validation error, got %v", err)
	}
	if err := (TaskSpec{Name: "x", RequiredCapabilities: []string{""}}).Validate(); err == nil {
		t.Error("expected error for empty capability")
	}
}

func TestWorkflow_Progress(t *testing.T) {
	w := &Workflow{CurrentStep: 1, TotalSteps: 4}
	if got := w.Progress(); got != 0.25 {
		t.Errorf("Progress() = %v, want 0.25", got)
	}
	if got := (&Workflow{}).Progress(); got != 0 {
		t.Errorf("empty workflow Progress() = %v, want 0", got)
	}
	if !WorkflowStatusFailed.IsTerminal() || WorkflowStatusInProgress.IsTerminal() {
		t.Error("unexpected workflow terminal classification")
	}
}
