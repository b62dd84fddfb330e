package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TasksCreated.Inc()
	m.TaskTransitions.WithLabelValues("assigned").Inc()
	m.Agents.WithLabelValues("idle").Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"conductor_tasks_created_total",
		"conductor_task_transitions_total",
		"conductor_agents",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}

	if got := testutil.ToFloat64(m.TasksCreated); got != 1 {
		t.Errorf("tasks_created_total = %v, want 1", got)
	}
}

func TestNew_NilRegistryIsSafe(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.TasksCreated.Inc()
	b.TasksCreated.Inc()

	if testutil.ToFloat64(a.TasksCreated) != 1 || testutil.ToFloat64(b.TasksCreated) != 1 {
		t.Error("private registries should not share counters")
	}
}

func TestOrNew(t *testing.T) {
	if OrNew(nil) == nil {
		t.Fatal("OrNew(nil) returned nil")
	}
	m := New(nil)
	if OrNew(m) != m {
		t.Error("OrNew should return the given metrics")
	}
}
