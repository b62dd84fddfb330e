package orchestrator

import (
	"reflect"
	"testing"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		name string
		task models.Task
		want bool
	}{
		{"high first failure", models.Task{Priority: models.PriorityHigh, Attempts: 1}, true},
		{"urgent second failure", models.Task{Priority: models.PriorityUrgent, Attempts: 2}, true},
		{"high budget exhausted", models.Task{Priority: models.PriorityHigh, Attempts: 3}, false},
		{"reassignments do not count", models.Task{Priority: models.PriorityHigh, Attempts: 4, Reassignments: 2}, true},
		{"medium never retried", models.Task{Priority: models.PriorityMedium, Attempts: 1}, false},
		{"low never retried", models.Task{Priority: models.PriorityLow, Attempts: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(&tt.task); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStaticToolMap(t *testing.T) {
	m := NewStaticToolMap(map[string][]string{
		"a": {"shell", "fs"},
		"b": {"fs", "http"},
	})

	got := m.ToolsFor([]string{"a", "b", "unknown"})
	if want := []string{"shell", "fs", "http"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToolsFor = %v, want %v", got, want)
	}
	if got := m.ToolsFor(nil); len(got) != 0 {
		t.Errorf("ToolsFor(nil) = %v, want empty", got)
	}

	m.Replace(map[string][]string{"a": {"new"}})
	if got := m.ToolsFor([]string{"a", "b"}); !reflect.DeepEqual(got, []string{"new"}) {
		t.Errorf("after Replace ToolsFor = %v", got)
	}
}

func TestStaticToolMap_CopiesInput(t *testing.T) {
	in := map[string][]string{"a": {"shell"}}
	m := NewStaticToolMap(in)
	in["a"][0] = "mutated"

	if got := m.ToolsFor([]string{"a"}); got[0] != "shell" {
		t.Errorf("tool map aliases caller slice: %v", got)
	}
}
