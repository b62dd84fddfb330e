package orchestrator

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

func setupAssignerRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(registry.DefaultConfig())
	add := func(id string, typ models.AgentType, max, current int, caps ...string) {
		a := &models.Agent{ID: id, Name: id, Type: typ, MaxConcurrentTasks: max}
		for _, c := range caps {
			a.Capabilities = append(a.Capabilities, models.Capability{Name: c})
		}
		if err := r.Register(a); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
		r.UpdateTaskCount(id, current)
	}
	add("spec-busy", models.AgentTypeSpecialist, 10, 9, "analysis")
	add("coord-ok", models.AgentTypeCoordinator, 10, 5, "analysis")
	add("bridge-full", models.AgentTypeBridge, 2, 2, "relay")
	add("spec-free", models.AgentTypeSpecialist, 4, 0, "query")
	add("spec-review", models.AgentTypeSpecialist, 10, 10, "review")
	add("coord-review", models.AgentTypeCoordinator, 20, 17, "review")
	return r
}

func TestAssigner_RuleOrder(t *testing.T) {
	r := setupAssignerRegistry(t)
	a := NewAssigner(r, nil, false)

	tests := []struct {
		name      string
		caps      []string
		wantAgent string
		wantCap   string
		wantRule  int
	}{
		{"specialist under load wins", []string{"query"}, "spec-free", "query", 0},
		{"light agent of another type beats a loaded specialist", []string{"analysis"}, "coord-ok", "analysis", 0},
		{"coordinator under 0.9 when nobody is under 0.8", []string{"review"}, "coord-review", "review", 1},
		{"anyone as last resort", []string{"relay"}, "bridge-full", "relay", 2},
		{"first capability with a match wins", []string{"unknown", "relay", "query"}, "bridge-full", "relay", 2},
		{"no capabilities matches any agent", nil, "spec-free", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := a.FindAgent(&models.Task{ID: "t", RequiredCapabilities: tt.caps})
			if err != nil {
				t.Fatalf("FindAgent: %v", err)
			}
			if m.Agent.ID != tt.wantAgent || m.Capability != tt.wantCap || m.Rule != tt.wantRule {
				t.Errorf("got agent=%s cap=%q rule=%d, want %s %q %d",
					m.Agent.ID, m.Capability, m.Rule, tt.wantAgent, tt.wantCap, tt.wantRule)
			}
		})
	}
}

func TestAssigner_NoAgent(t *testing.T) {
	r := setupAssignerRegistry(t)
	a := NewAssigner(r, nil, false)

	_, err := a.FindAgent(&models.Task{ID: "t", RequiredCapabilities: []string{"missing"}})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Errorf("err = %v, want ErrNoAgentAvailable", err)
	}
}

func TestAssigner_RequireCapacity(t *testing.T) {
	r := setupAssignerRegistry(t)
	a := NewAssigner(r, nil, true)

	if _, err := a.FindAgent(&models.Task{ID: "t", RequiredCapabilities: []string{"relay"}}); !errors.Is(err, ErrNoAgentAvailable) {
		t.Errorf("full agent picked under strict capacity: %v", err)
	}
}

func TestAssigner_CustomRules(t *testing.T) {
	r := setupAssignerRegistry(t)
	a := NewAssigner(r, []MatchRule{{PreferredType: models.AgentTypeSpecialist}}, false)

	m, err := a.FindAgent(&models.Task{ID: "t", RequiredCapabilities: []string{"analysis"}})
	if err != nil {
		t.Fatalf("FindAgent: %v", err)
	}
	if m.Agent.ID != "spec-busy" {
		t.Errorf("agent = %s, want the specialist regardless of load", m.Agent.ID)
	}
}

func TestAssigner_Exclude(t *testing.T) {
	r := setupAssignerRegistry(t)
	a := NewAssigner(r, nil, false)

	m, err := a.FindAgent(&models.Task{ID: "t", RequiredCapabilities: []string{"analysis"}}, "coord-ok")
	if err != nil {
		t.Fatalf("FindAgent: %v", err)
	}
	if m.Agent.ID != "spec-busy" {
		t.Errorf("agent = %s, want spec-busy once coord-ok is excluded", m.Agent.ID)
	}

	_, err = a.FindAgent(&models.Task{ID: "t", RequiredCapabilities: []string{"relay"}}, "bridge-full")
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Errorf("err = %v, want ErrNoAgentAvailable", err)
	}
}
