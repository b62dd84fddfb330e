package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/dispatch"
	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Statistics summarizes the coordinator and the agent directory.
type Statistics struct {
	Tasks              map[models.TaskStatus]int     `json:"tasks"`
	TotalTasks         int                           `json:"total_tasks"`
	ActiveTasks        int                           `json:"active_tasks"`
	QueueLength        int                           `json:"queue_length"`
	DeferredTasks      int                           `json:"deferred_tasks"`
	ParkedTasks        int                           `json:"parked_tasks"`
	MaxConcurrentTasks int                           `json:"max_concurrent_tasks"`
	Workflows          map[models.WorkflowStatus]int `json:"workflows"`
	TotalWorkflows     int                           `json:"total_workflows"`
	Agents             registry.Stats                `json:"agents"`
	EventsDropped      uint64                        `json:"events_dropped"`
}

// Coordinator owns the task store, the pending queue, and the workflow
// records. It assigns queued tasks to agents from the directory, hands the
// assignments to a dispatch channel, and folds agent reports back into task
// and workflow state.
//
// All store access is serialized on one mutex. Events are collected while
// the lock is held and published after it is released.
type Coordinator struct {
	cfg      Config
	agents   *registry.Registry
	channel  dispatch.Channel
	assigner *Assigner
	tools    ToolMapper
	retry    RetryPolicy
	emitter  *EventEmitter
	timeouts *timeoutTracker
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	store    *Store
	deferred map[string]*time.Timer
	avoid    map[string]string // task ID to the agent that last refused it
	closed   bool

	// emitMu is taken before mu is released so events go out in the order
	// their changes were made.
	emitMu sync.Mutex
	tickMu sync.Mutex // keeps ticks from overlapping
	sends  sync.WaitGroup
}

var _ dispatch.Reporter = (*Coordinator)(nil)
var _ registry.Observer = (*Coordinator)(nil)

// New creates a Coordinator and subscribes it to the agent directory so
// tasks held by agents that go offline are requeued.
func New(cfg Config, agents *registry.Registry, channel dispatch.Channel, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tools == nil {
		o.tools = NewStaticToolMap(config.DefaultTools())
	}
	retry := DefaultRetryPolicy()
	if o.retry != nil {
		retry = *o.retry
	}
	cfg = cfg.withDefaults()
	m := metrics.OrNew(o.metrics)
	logger := o.logger.Named("coordinator")

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		agents:   agents,
		channel:  channel,
		assigner: NewAssigner(agents, o.rules, cfg.StrictCapacity),
		tools:    o.tools,
		retry:    retry,
		emitter:  NewEventEmitter(o.eventBuffer, logger, m),
		logger:   logger,
		metrics:  m,
		now:      o.now,
		newID:    o.newID,
		ctx:      ctx,
		cancel:   cancel,
		store:    NewStore(),
		deferred: make(map[string]*time.Timer),
		avoid:    make(map[string]string),
	}
	c.timeouts = newTimeoutTracker(ctx, cfg.TaskTimeout, c.expire)
	agents.Subscribe(c)
	return c
}

// batch collects events produced under the lock.
type batch struct {
	events []Event
}

func (b *batch) add(ev Event) {
	b.events = append(b.events, ev)
}

// locked runs fn with the store lock held, then publishes the events it
// produced. Publishing holds emitMu, which is acquired before mu is
// released, so a later change can never overtake an earlier one.
func (c *Coordinator) locked(fn func(b *batch) error) error {
	b := &batch{}
	c.mu.Lock()
	err := fn(b)
	if len(b.events) == 0 {
		c.mu.Unlock()
		return err
	}
	c.emitMu.Lock()
	c.mu.Unlock()
	for _, ev := range b.events {
		c.emitter.Emit(ev)
	}
	c.emitMu.Unlock()
	return err
}

// Subscribe returns a channel of coordinator events and a function that
// ends the subscription.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	return c.emitter.Subscribe()
}

// CreateTask validates spec, stores a pending task, and queues it.
// Every dependency must name an existing task.
func (c *Coordinator) CreateTask(spec models.TaskSpec) (*models.Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var out *models.Task
	err := c.locked(func(b *batch) error {
		if c.closed {
			return ErrClosed
		}
		for _, dep := range spec.Dependencies {
			if !c.store.HasTask(dep) {
				return fmt.Errorf("task %q depends on %s: %w", spec.Name, dep, ErrUnknownDependency)
			}
		}
		t := c.newTask(spec, "", nil)
		c.commitTaskLocked(b, t)
		c.metrics.QueueDepth.Set(float64(c.store.QueueLen()))
		out = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("task created",
		zap.String("task_id", out.ID),
		zap.String("name", out.Name),
		zap.String("priority", string(out.Priority)))
	return out, nil
}

// CreateWorkflow creates every member task and the workflow that groups
// them, all or nothing. Member dependencies may name a sibling's Key or an
// existing task ID. Members are queued in dependency order.
func (c *Coordinator) CreateWorkflow(spec models.WorkflowSpec) (*models.Workflow, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var out *models.Workflow
	err := c.locked(func(b *batch) error {
		if c.closed {
			return ErrClosed
		}

		wfID := c.newID()
		tasks := make([]*models.Task, len(spec.Tasks))
		keys := make(map[string]string, len(spec.Tasks))
		for i, ts := range spec.Tasks {
			tasks[i] = c.newTask(ts, wfID, spec.Context)
			if ts.Key != "" {
				keys[ts.Key] = tasks[i].ID
			}
		}
		for _, t := range tasks {
			for j, dep := range t.Dependencies {
				if id, ok := keys[dep]; ok {
					t.Dependencies[j] = id
				}
			}
		}

		g := graph.New()
		if err := g.Build(tasks, c.store.HasTask); err != nil {
			return fmt.Errorf("workflow %q: %w", spec.Name, err)
		}
		order, err := g.TopologicalSort()
		if err != nil {
			return fmt.Errorf("workflow %q: %w", spec.Name, err)
		}

		now := c.now()
		wf := &models.Workflow{
			ID:         wfID,
			Name:       spec.Name,
			Status:     models.WorkflowStatusPending,
			TotalSteps: len(tasks),
			TaskIDs:    make([]string, 0, len(tasks)),
			Context:    models.CloneContext(spec.Context),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for _, t := range tasks {
			wf.TaskIDs = append(wf.TaskIDs, t.ID)
			c.store.PutTask(t)
		}
		c.store.PutWorkflow(wf)
		for _, id := range order {
			t, _ := c.store.Task(id)
			c.commitTaskLocked(b, t)
		}
		c.metrics.QueueDepth.Set(float64(c.store.QueueLen()))

		b.add(c.workflowEvent(EventWorkflowCreated, wf, ""))
		out = wf.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("workflow created",
		zap.String("workflow_id", out.ID),
		zap.String("name", out.Name),
		zap.Int("tasks", out.TotalSteps))
	return out, nil
}

// newTask builds a pending task from spec. Workflow context keys are
// inherited unless the member overrides them.
func (c *Coordinator) newTask(spec models.TaskSpec, workflowID string, wfContext map[string]any) *models.Task {
	var taskCtx map[string]any
	if len(wfContext) > 0 || len(spec.Context) > 0 {
		taskCtx = make(map[string]any, len(wfContext)+len(spec.Context))
		for k, v := range wfContext {
			taskCtx[k] = v
		}
		for k, v := range spec.Context {
			taskCtx[k] = v
		}
	}
	return &models.Task{
		ID:                   c.newID(),
		Name:                 spec.Name,
		Description:          spec.Description,
		Type:                 spec.Type,
		Priority:             spec.Priority.OrDefault(),
		RequiredCapabilities: append([]string(nil), spec.RequiredCapabilities...),
		Dependencies:         append([]string(nil), spec.Dependencies...),
		Status:               models.TaskStatusPending,
		CreatedAt:            c.now(),
		Context:              taskCtx,
		WorkflowID:           workflowID,
	}
}

func (c *Coordinator) commitTaskLocked(b *batch, t *models.Task) {
	c.store.PutTask(t)
	c.store.Enqueue(t.ID)
	c.metrics.TasksCreated.Inc()
	b.add(c.taskEvent(EventTaskCreated, t, ""))
}

// GetTask returns a copy of the task.
func (c *Coordinator) GetTask(id string) (*models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.store.Task(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// GetWorkflow returns a copy of the workflow.
func (c *Coordinator) GetWorkflow(id string) (*models.Workflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.store.Workflow(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return w.Clone(), nil
}

// ListTasks returns copies of the tasks in any of the given statuses,
// oldest first. No statuses returns every task.
func (c *Coordinator) ListTasks(statuses ...models.TaskStatus) []*models.Task {
	want := make(map[models.TaskStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Tasks(func(t *models.Task) bool {
		if len(want) == 0 {
			return true
		}
		_, ok := want[t.Status]
		return ok
	})
}

// ListActiveTasks returns the tasks currently held by agents.
func (c *Coordinator) ListActiveTasks() []*models.Task {
	return c.ListTasks(models.TaskStatusAssigned, models.TaskStatusInProgress)
}

// ListWorkflows returns copies of every workflow, oldest first.
func (c *Coordinator) ListWorkflows() []*models.Workflow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Workflows()
}

// Statistics reports task, workflow, and agent counts.
func (c *Coordinator) Statistics() Statistics {
	c.mu.Lock()
	tasks := c.store.CountByStatus()
	workflows := c.store.CountWorkflowsByStatus()
	s := Statistics{
		Tasks:              tasks,
		ActiveTasks:        c.store.ActiveCount(c.cfg.CountAssignedAsActive),
		QueueLength:        c.store.QueueLen(),
		DeferredTasks:      len(c.deferred),
		ParkedTasks:        c.store.ParkedLen(),
		MaxConcurrentTasks: c.cfg.MaxConcurrentTasks,
		Workflows:          workflows,
	}
	c.mu.Unlock()

	for _, n := range tasks {
		s.TotalTasks += n
	}
	for _, n := range workflows {
		s.TotalWorkflows += n
	}
	s.Agents = c.agents.Stats()
	s.EventsDropped = c.emitter.DroppedCount()
	return s
}

// OnTaskStarted records that the agent began work on the task.
func (c *Coordinator) OnTaskStarted(taskID, agentID string) error {
	return c.locked(func(b *batch) error {
		t, err := c.heldTaskLocked(taskID, agentID)
		if err != nil {
			return err
		}
		if _, err := c.store.Transition(taskID, models.TaskStatusInProgress, nil); err != nil {
			return err
		}
		c.metrics.TaskTransitions.WithLabelValues(string(models.TaskStatusInProgress)).Inc()
		b.add(c.taskEvent(EventTaskStarted, t, ""))
		return nil
	})
}

// OnTaskCompleted records a successful outcome and advances any workflow
// the task belongs to.
func (c *Coordinator) OnTaskCompleted(taskID, agentID string, result json.RawMessage) error {
	return c.locked(func(b *batch) error {
		t, err := c.heldTaskLocked(taskID, agentID)
		if err != nil {
			return err
		}
		holder := t.AssignedAgentID
		now := c.now()
		if _, err := c.store.Transition(taskID, models.TaskStatusCompleted, func(t *models.Task) {
			if result != nil {
				t.Result = append(json.RawMessage(nil), result...)
			}
			t.Error = ""
			t.CompletedAt = timePtr(now)
		}); err != nil {
			return err
		}

		c.timeouts.Stop(taskID)
		c.agents.AdjustTaskCount(holder, -1)
		c.observeOutcome(t, models.TaskStatusCompleted, now)
		b.add(c.taskEvent(EventTaskCompleted, t, ""))
		c.logger.Info("task completed",
			zap.String("task_id", taskID),
			zap.String("agent_id", holder))

		c.aggregateLocked(b, taskID)
		return nil
	})
}

// OnTaskFailed records an agent-reported failure. Eligible tasks are
// retried; otherwise the failure is final and any workflow the task
// belongs to fails with it.
func (c *Coordinator) OnTaskFailed(taskID, agentID, errorDetails string) error {
	if errorDetails == "" {
		errorDetails = "task failed"
	}
	return c.locked(func(b *batch) error {
		t, err := c.heldTaskLocked(taskID, agentID)
		if err != nil {
			return err
		}
		return c.failLocked(b, t, errorDetails)
	})
}

// heldTaskLocked loads a task an agent is reporting on. An empty agentID
// skips the ownership check.
func (c *Coordinator) heldTaskLocked(taskID, agentID string) (*models.Task, error) {
	t, ok := c.store.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if agentID != "" && t.AssignedAgentID != agentID {
		return nil, fmt.Errorf("task %s held by %q, reported by %q: %w",
			taskID, t.AssignedAgentID, agentID, ErrAgentMismatch)
	}
	return t, nil
}

// failLocked moves an active task to failed and then applies the retry
// policy. Caller must hold c.mu.
func (c *Coordinator) failLocked(b *batch, t *models.Task, reason string) error {
	holder := t.AssignedAgentID
	now := c.now()
	if _, err := c.store.Transition(t.ID, models.TaskStatusFailed, func(t *models.Task) {
		t.Error = reason
		t.CompletedAt = timePtr(now)
	}); err != nil {
		return err
	}

	c.timeouts.Stop(t.ID)
	if holder != "" {
		c.agents.AdjustTaskCount(holder, -1)
	}
	c.observeOutcome(t, models.TaskStatusFailed, now)
	b.add(c.taskEvent(EventTaskFailed, t, reason))

	if c.retry.ShouldRetry(t) {
		if _, err := c.store.Transition(t.ID, models.TaskStatusPending, func(t *models.Task) {
			t.AssignedAgentID = ""
			t.Error = ""
			t.StartedAt = nil
			t.CompletedAt = nil
		}); err != nil {
			return err
		}
		c.store.Enqueue(t.ID)
		c.unparkLocked(t.ID)
		c.metrics.TaskRetries.Inc()
		c.metrics.TaskTransitions.WithLabelValues(string(models.TaskStatusPending)).Inc()
		b.add(c.taskEvent(EventTaskRetried, t, reason))
		c.logger.Warn("task failed, retrying",
			zap.String("task_id", t.ID),
			zap.String("agent_id", holder),
			zap.Int("attempt", t.Attempts),
			zap.String("error", reason))
		return nil
	}

	c.logger.Warn("task failed",
		zap.String("task_id", t.ID),
		zap.String("agent_id", holder),
		zap.Int("attempt", t.Attempts),
		zap.String("error", reason))
	c.aggregateLocked(b, t.ID)
	return nil
}

// expire is called by the timeout tracker. It fails the task only if the
// timed assignment is still the current one.
func (c *Coordinator) expire(taskID string, attempt int) {
	_ = c.locked(func(b *batch) error {
		t, ok := c.store.Task(taskID)
		if !ok || !t.Status.IsActive() || t.Attempts != attempt {
			return nil
		}
		c.metrics.TaskTimeouts.Inc()
		c.logger.Warn("task timed out",
			zap.String("task_id", taskID),
			zap.String("agent_id", t.AssignedAgentID),
			zap.Duration("timeout", c.cfg.TaskTimeout))
		return c.failLocked(b, t, ErrTaskTimeout.Error())
	})
}

// OnAgentEvent reacts to directory changes. Tasks held by an agent that
// went offline or was unregistered go back to the queue regardless of
// priority.
func (c *Coordinator) OnAgentEvent(ev registry.Event) {
	switch ev.Type {
	case registry.EventWentOffline:
		c.emitMu.Lock()
		c.emitter.Emit(Event{
			Type:      EventAgentOffline,
			AgentID:   ev.AgentID,
			Message:   ErrAgentOffline.Error(),
			Timestamp: ev.Timestamp,
		})
		c.emitMu.Unlock()
		c.reassignFrom(ev.AgentID)
	case registry.EventUnregistered:
		c.reassignFrom(ev.AgentID)
	}
}

func (c *Coordinator) reassignFrom(agentID string) {
	_ = c.locked(func(b *batch) error {
		for _, t := range c.store.TasksHeldBy(agentID) {
			if _, err := c.store.Transition(t.ID, models.TaskStatusPending, func(t *models.Task) {
				t.AssignedAgentID = ""
				t.Error = ""
				t.Reassignments++
			}); err != nil {
				c.logger.Error("reassign failed", zap.String("task_id", t.ID), zap.Error(err))
				continue
			}
			c.timeouts.Stop(t.ID)
			c.agents.AdjustTaskCount(agentID, -1)
			c.store.Enqueue(t.ID)
			c.metrics.TaskReassignments.Inc()
			c.metrics.TaskTransitions.WithLabelValues(string(models.TaskStatusPending)).Inc()

			ev := c.taskEvent(EventTaskReassigned, t, ErrAgentOffline.Error())
			ev.AgentID = agentID
			b.add(ev)
			c.logger.Warn("task requeued from lost agent",
				zap.String("task_id", t.ID),
				zap.String("agent_id", agentID))
		}
		return nil
	})
}

func (c *Coordinator) observeOutcome(t *models.Task, status models.TaskStatus, now time.Time) {
	c.metrics.TaskTransitions.WithLabelValues(string(status)).Inc()
	if t.StartedAt != nil {
		c.metrics.TaskDuration.WithLabelValues(string(status)).Observe(now.Sub(*t.StartedAt).Seconds())
	}
}

func (c *Coordinator) taskEvent(typ EventType, t *models.Task, errMsg string) Event {
	return Event{
		Type:       typ,
		TaskID:     t.ID,
		WorkflowID: t.WorkflowID,
		AgentID:    t.AssignedAgentID,
		Error:      errMsg,
		Timestamp:  c.now(),
		Task:       t.Clone(),
	}
}

func (c *Coordinator) workflowEvent(typ EventType, w *models.Workflow, errMsg string) Event {
	return Event{
		Type:       typ,
		WorkflowID: w.ID,
		Error:      errMsg,
		Timestamp:  c.now(),
		Workflow:   w.Clone(),
	}
}

// Close stops the timers and closes every event subscription. Agent
// reports are still accepted afterwards; new tasks are not.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, timer := range c.deferred {
		timer.Stop()
		delete(c.deferred, id)
	}
	c.mu.Unlock()

	c.cancel()
	c.timeouts.StopAll()
	c.sends.Wait()
	c.emitter.Close()
}
