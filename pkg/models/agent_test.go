package models

import (
	"errors"
	"testing"
)

func TestAgentStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status AgentStatus
		want   bool
	}{
		{"idle is valid", AgentStatusIdle, true},
		{"busy is valid", AgentStatusBusy, true},
		{"offline is valid", AgentStatusOffline, true},
		{"empty string is invalid", AgentStatus(""), false},
		{"unknown status is invalid", AgentStatus("unknown"), false},
		{"similar to task status is invalid", AgentStatus("in_progress"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("AgentStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAgentType_Valid(t *testing.T) {
	tests := []struct {
		name string
		typ  AgentType
		want bool
	}{
		{"coordinator is valid", AgentTypeCoordinator, true},
		{"specialist is valid", AgentTypeSpecialist, true},
		{"bridge is valid", AgentTypeBridge, true},
		{"empty string is invalid", AgentType(""), false},
		{"mixed case is invalid", AgentType("Specialist"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.Valid(); got != tt.want {
				t.Errorf("AgentType(%q).Valid() = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func validAgent() *Agent {
	return &Agent{
		ID:                 "a1",
		Name:               "worker",
		Type:               AgentTypeSpecialist,
		Capabilities:       []Capability{{Name: "base_operations"}},
		MaxConcurrentTasks: 2,
	}
}

func TestAgent_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(a *Agent)
		wantField string
	}{
		{"valid agent", func(a *Agent) {}, ""},
		{"missing id", func(a *Agent) { a.ID = "" }, "id"},
		{"missing name", func(a *Agent) { a.Name = "" }, "name"},
		{"unknown type", func(a *Agent) { a.Type = "robot" }, "type"},
		{"nil capabilities", func(a *Agent) { a.Capabilities = nil }, "capabilities"},
		{"empty capability name", func(a *Agent) { a.Capabilities = []Capability{{Name: ""}} }, "capabilities[0].name"},
		{"negative limit", func(a *Agent) { a.MaxConcurrentTasks = -1 }, "max_concurrent_tasks"},
		{"bad status", func(a *Agent) { a.Status = "sleeping" }, "status"},
		{"empty capability list", func(a *Agent) { a.Capabilities = []Capability{} }, "capabilities"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAgent()
			tt.mutate(a)
			err := a.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestAgent_Load(t *testing.T) {
	tests := []struct {
		current, max int
		want         float64
	}{
		{0, 2, 0},
		{1, 2, 0.5},
		{3, 2, 1.5},
		{1, 0, 1},
		{0, 0, 0},
	}

	for _, tt := range tests {
		a := &Agent{CurrentTasks: tt.current, MaxConcurrentTasks: tt.max}
		if got := a.Load(); got != tt.want {
			t.Errorf("Load() with %d/%d = %v, want %v", tt.current, tt.max, got, tt.want)
		}
	}
}

func TestAgent_HasCapability(t *testing.T) {
	a := validAgent()
	if !a.HasCapability("base_operations") {
		t.Error("expected agent to have base_operations")
	}
	if a.HasCapability("data_query") {
		t.Error("did not expect agent to have data_query")
	}
}

func TestAgent_CloneIsIndependent(t *testing.T) {
	a := validAgent()
	a.Capabilities[0].InputSchema = map[string]any{"type": "object"}

	c := a.Clone()
	c.Capabilities[0].Name = "changed"
	c.Capabilities[0].InputSchema["type"] = "string"
	c.CurrentTasks = 5

	if a.Capabilities[0].Name != "base_operations" {
		t.Error("clone shares capability slice with original")
	}
	if a.Capabilities[0].InputSchema["type"] != "object" {
		t.Error("clone shares input schema with original")
	}
	if a.CurrentTasks != 0 {
		t.Error("clone shares counters with original")
	}
}
