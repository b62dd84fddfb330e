package tui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

type fakeSource struct {
	snap *Snapshot
	err  error
}

func (f *fakeSource) Fetch(context.Context) (*Snapshot, error) {
	return f.snap, f.err
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Stats: orchestrator.Statistics{
			Tasks: map[models.TaskStatus]int{
				models.TaskStatusPending:    3,
				models.TaskStatusInProgress: 1,
			},
			TotalTasks:         4,
			ActiveTasks:        1,
			QueueLength:        3,
			MaxConcurrentTasks: 10,
			Agents:             registry.Stats{TotalAgents: 1, BusyAgents: 1},
		},
		Active: []*models.Task{{
			ID: "0123456789abcdef", Name: "crunch numbers", Status: models.TaskStatusInProgress,
			Priority: models.PriorityHigh, AssignedAgentID: "a1", Attempts: 1,
		}},
		Agents: []*models.Agent{{
			ID: "a1", Type: models.AgentTypeSpecialist, Status: models.AgentStatusBusy,
			Capabilities: []models.Capability{{Name: "analysis"}}, CurrentTasks: 1, MaxConcurrentTasks: 2,
		}},
	}
}

// run executes a command and feeds its message back into the model.
func run(t *testing.T, d *Dashboard, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	d.Update(cmd())
}

func TestDashboard_PollAndRender(t *testing.T) {
	d := NewDashboard(&fakeSource{snap: sampleSnapshot()}, time.Second)
	if !strings.Contains(d.View(), "connecting") {
		t.Errorf("initial view should say connecting:\n%s", d.View())
	}

	d.fetching = true
	run(t, d, d.fetch())
	if d.fetching {
		t.Error("fetching should clear once the snapshot arrives")
	}
	if d.snap == nil {
		t.Fatal("snapshot not stored")
	}

	view := d.View()
	for _, want := range []string{"1/10", "pending 3", "01234567", "crunch numbers"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	d.Update(tea.KeyMsg{Type: tea.KeyTab})
	if d.tab != TabAgents {
		t.Fatalf("tab = %d, want agents", d.tab)
	}
	if view := d.View(); !strings.Contains(view, "1/2") || !strings.Contains(view, "analysis") {
		t.Errorf("agents view missing load or capabilities:\n%s", view)
	}
}

func TestDashboard_KeepsLastSnapshotOnError(t *testing.T) {
	src := &fakeSource{snap: sampleSnapshot()}
	d := NewDashboard(src, time.Second)
	run(t, d, d.fetch())

	src.snap, src.err = nil, errors.New("connection refused")
	run(t, d, d.fetch())

	if d.snap == nil {
		t.Fatal("previous snapshot was discarded")
	}
	if !strings.Contains(d.View(), "connection refused") {
		t.Errorf("error not shown:\n%s", d.View())
	}
}

func TestDashboard_TickSkipsWhileFetching(t *testing.T) {
	d := NewDashboard(&fakeSource{snap: sampleSnapshot()}, time.Second)
	d.fetching = true
	if _, cmd := d.Update(tickMsg(time.Now())); cmd != nil {
		t.Error("tick should not start a second fetch")
	}
	d.fetching = false
	if _, cmd := d.Update(tickMsg(time.Now())); cmd == nil {
		t.Error("tick should start a fetch")
	}
}

func TestDashboard_Quit(t *testing.T) {
	d := NewDashboard(&fakeSource{}, time.Second)
	_, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if d.View() != "" {
		t.Error("view should be empty after quitting")
	}
}

func TestHTTPSource_Fetch(t *testing.T) {
	snap := sampleSnapshot()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(snap.Stats)
	})
	mux.HandleFunc("/api/tasks/active", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(snap.Active)
	})
	mux.HandleFunc("/api/agents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(snap.Agents)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := NewHTTPSource(srv.URL + "/").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Stats.QueueLength != 3 || len(got.Active) != 1 || len(got.Agents) != 1 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestHTTPSource_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL).Fetch(context.Background()); err == nil {
		t.Error("expected an error for a 500 response")
	}
}
