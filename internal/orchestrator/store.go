package orchestrator

import (
	"sort"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Store holds every task and workflow plus the FIFO of pending task IDs.
// It is not safe for concurrent use; the Coordinator serializes access.
type Store struct {
	tasks     map[string]*models.Task
	workflows map[string]*models.Workflow
	// members maps task ID to the workflows listing it.
	members map[string][]string

	queue  []string
	queued map[string]struct{}

	// parked holds pending tasks taken off the queue because a dependency
	// can no longer complete, keyed by that dependency.
	parked   map[string][]string
	parkedOn map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks:     make(map[string]*models.Task),
		workflows: make(map[string]*models.Workflow),
		members:   make(map[string][]string),
		queued:    make(map[string]struct{}),
		parked:    make(map[string][]string),
		parkedOn:  make(map[string]string),
	}
}

// PutTask stores a task, replacing any previous record with the same ID.
func (s *Store) PutTask(t *models.Task) {
	s.tasks[t.ID] = t
}

// Task returns the stored task, not a copy.
func (s *Store) Task(id string) (*models.Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// HasTask reports whether id is a known task.
func (s *Store) HasTask(id string) bool {
	_, ok := s.tasks[id]
	return ok
}

// Transition moves a task to a new status. The move is checked against the
// task state machine before mutate runs.
func (s *Store) Transition(id string, to models.TaskStatus, mutate func(*models.Task)) (*models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if !models.CanTransition(t.Status, to) {
		return nil, &TransitionError{TaskID: id, From: string(t.Status), To: string(to)}
	}
	t.Status = to
	if mutate != nil {
		mutate(t)
	}
	return t, nil
}

// Tasks returns copies of the tasks matching keep, oldest first.
// A nil keep returns every task.
func (s *Store) Tasks(keep func(*models.Task) bool) []*models.Task {
	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep == nil || keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountByStatus tallies tasks by status.
func (s *Store) CountByStatus() map[models.TaskStatus]int {
	counts := make(map[models.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}

// ActiveCount counts tasks held against the concurrency ceiling.
// Assigned tasks are included when countAssigned is set.
func (s *Store) ActiveCount(countAssigned bool) int {
	n := 0
	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskStatusInProgress:
			n++
		case models.TaskStatusAssigned:
			if countAssigned {
				n++
			}
		}
	}
	return n
}

// TasksHeldBy returns the active tasks assigned to an agent, oldest first.
func (s *Store) TasksHeldBy(agentID string) []*models.Task {
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status.IsActive() && t.AssignedAgentID == agentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Enqueue appends id to the back of the queue. A task is never queued twice.
func (s *Store) Enqueue(id string) bool {
	if _, dup := s.queued[id]; dup {
		return false
	}
	s.queued[id] = struct{}{}
	s.queue = append(s.queue, id)
	return true
}

// Dequeue pops the front of the queue.
func (s *Store) Dequeue() (string, bool) {
	if len(s.queue) == 0 {
		return "", false
	}
	id := s.queue[0]
	s.queue[0] = ""
	s.queue = s.queue[1:]
	delete(s.queued, id)
	return id, true
}

// QueueLen returns the number of queued task IDs.
func (s *Store) QueueLen() int {
	return len(s.queue)
}

// IsQueued reports whether id is waiting in the queue.
func (s *Store) IsQueued(id string) bool {
	_, ok := s.queued[id]
	return ok
}

// Park sets id aside until dep is released. A parked task is not queued.
func (s *Store) Park(id, dep string) {
	if _, ok := s.parkedOn[id]; ok {
		return
	}
	s.parkedOn[id] = dep
	s.parked[dep] = append(s.parked[dep], id)
}

// IsParked reports whether id is set aside.
func (s *Store) IsParked(id string) bool {
	_, ok := s.parkedOn[id]
	return ok
}

// Unpark releases the tasks parked on dep, in the order they were parked.
func (s *Store) Unpark(dep string) []string {
	ids := s.parked[dep]
	delete(s.parked, dep)
	for _, id := range ids {
		delete(s.parkedOn, id)
	}
	return ids
}

// ParkedLen returns the number of parked tasks.
func (s *Store) ParkedLen() int {
	return len(s.parkedOn)
}

// PutWorkflow stores a workflow and indexes its members.
func (s *Store) PutWorkflow(w *models.Workflow) {
	if old, ok := s.workflows[w.ID]; ok {
		for _, id := range old.TaskIDs {
			s.members[id] = without(s.members[id], w.ID)
		}
	}
	s.workflows[w.ID] = w
	for _, id := range w.TaskIDs {
		s.members[id] = append(s.members[id], w.ID)
	}
}

// Workflow returns the stored workflow, not a copy.
func (s *Store) Workflow(id string) (*models.Workflow, bool) {
	w, ok := s.workflows[id]
	return w, ok
}

// WorkflowsOf returns the workflows that list the task as a member.
func (s *Store) WorkflowsOf(taskID string) []*models.Workflow {
	ids := s.members[taskID]
	out := make([]*models.Workflow, 0, len(ids))
	for _, id := range ids {
		if w, ok := s.workflows[id]; ok {
			out = append(out, w)
		}
	}
	return out
}

// Workflows returns copies of every workflow, oldest first.
func (s *Store) Workflows() []*models.Workflow {
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountWorkflowsByStatus tallies workflows by status.
func (s *Store) CountWorkflowsByStatus() map[models.WorkflowStatus]int {
	counts := make(map[models.WorkflowStatus]int)
	for _, w := range s.workflows {
		counts[w.Status]++
	}
	return counts
}

func without(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
