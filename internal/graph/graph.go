// Package graph orders the member tasks of a workflow by their
// dependencies and rejects dependency loops.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrCycleDetected indicates tasks depend on each other in a loop.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a task depends on an ID that is neither
// in the graph nor known to the caller.
var ErrUnknownDependency = errors.New("unknown dependency")

// CycleError lists the tasks that could not be ordered because they sit on
// or behind a dependency loop.
type CycleError struct {
	Tasks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Tasks, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// DependencyGraph holds tasks as nodes with an edge from each task to every
// in-graph task it waits on. Dependencies on tasks outside the graph are
// allowed when the caller vouches for them and add no edge.
//
// A DependencyGraph is built once and then only read; it is not safe for
// concurrent Build calls.
type DependencyGraph struct {
	tasks map[string]*models.Task
	// ids is insertion order; ties in the ordering follow it.
	ids []string
	// deps and dependents are the edge lists in both directions.
	deps       map[string][]string
	dependents map[string][]string

	sorted []string
	cycle  *CycleError
}

// New returns an empty graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		tasks:      make(map[string]*models.Task),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// Build adds tasks to the graph and orders them. known reports whether an
// ID outside tasks refers to an existing task; with a nil known every
// dependency must be one of tasks.
func (g *DependencyGraph) Build(tasks []*models.Task, known func(id string) bool) error {
	for _, t := range tasks {
		if _, dup := g.tasks[t.ID]; !dup {
			g.ids = append(g.ids, t.ID)
		}
		g.tasks[t.ID] = t
	}

	for _, t := range tasks {
		g.deps[t.ID] = nil
		for _, dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; ok {
				g.deps[t.ID] = append(g.deps[t.ID], dep)
				continue
			}
			if known == nil || !known(dep) {
				return fmt.Errorf("task %s depends on %s: %w", t.ID, dep, ErrUnknownDependency)
			}
		}
	}
	g.dependents = make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		for _, dep := range g.deps[id] {
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	g.sort()
	if g.cycle != nil {
		return g.cycle
	}
	return nil
}

// sort runs Kahn's algorithm, seeding and releasing tasks in insertion
// order so the result is deterministic.
func (g *DependencyGraph) sort() {
	waiting := make(map[string]int, len(g.ids))
	var ready []string
	for _, id := range g.ids {
		waiting[id] = len(g.deps[id])
		if waiting[id] == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)
		for _, next := range g.dependents[id] {
			waiting[next]--
			if waiting[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	g.sorted, g.cycle = sorted, nil
	if len(sorted) < len(g.ids) {
		var stuck []string
		for _, id := range g.ids {
			if waiting[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		g.cycle = &CycleError{Tasks: stuck}
	}
}

// HasCycle reports whether the last Build found a loop.
func (g *DependencyGraph) HasCycle() bool {
	return g.cycle != nil
}

// TopologicalSort returns task IDs with every dependency ahead of its
// dependents.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	if g.cycle != nil {
		return nil, g.cycle
	}
	return append([]string(nil), g.sorted...), nil
}

// Task returns the task with the given ID, or nil.
func (g *DependencyGraph) Task(id string) *models.Task {
	return g.tasks[id]
}

// Size is the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.tasks)
}

// Dependencies returns the in-graph IDs the task waits on.
func (g *DependencyGraph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the IDs of tasks waiting on id, in insertion order.
func (g *DependencyGraph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}
