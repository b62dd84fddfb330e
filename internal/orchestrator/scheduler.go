package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/dispatch"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// TickResult reports what one scheduler tick did with the tasks it dequeued.
type TickResult struct {
	// Capacity is the number of slots that were free when the tick began.
	Capacity int `json:"capacity"`
	// Dispatched counts assignments handed to the channel. Sends complete
	// in the background; a refused send fails or defers the task later.
	Dispatched int `json:"dispatched"`
	// Requeued counts tasks sent to the back of the queue to wait for
	// their dependencies.
	Requeued int `json:"requeued"`
	// Parked counts tasks taken off the queue because a dependency failed
	// for good.
	Parked int `json:"parked"`
	// Deferred counts tasks that found no agent and will return later.
	Deferred int `json:"deferred"`
	// Skipped counts queue entries that were no longer pending.
	Skipped int `json:"skipped"`
}

// outbound is an assignment waiting to be sent once the lock is released.
type outbound struct {
	assignment models.Assignment
	attempt    int
}

// Run ticks every TickInterval until ctx is done or the coordinator is
// closed.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.logger.Info("scheduler started",
		zap.Duration("tick", c.cfg.TickInterval),
		zap.Int("max_concurrent_tasks", c.cfg.MaxConcurrentTasks))
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			res := c.Tick(ctx)
			if res.Dispatched+res.Parked+res.Deferred > 0 {
				c.logger.Debug("tick",
					zap.Int("dispatched", res.Dispatched),
					zap.Int("requeued", res.Requeued),
					zap.Int("parked", res.Parked),
					zap.Int("deferred", res.Deferred))
			}
		}
	}
}

// Tick runs one scheduling pass. It dequeues at most as many tasks as there
// are free slots under MaxConcurrentTasks and tries to distribute each.
// Assignments are recorded before the lock is released, then each is sent
// on its own goroutine so a slow channel never holds up the tick.
func (c *Coordinator) Tick(ctx context.Context) TickResult {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	var res TickResult
	var out []outbound
	_ = c.locked(func(b *batch) error {
		if c.closed {
			return nil
		}
		active := c.store.ActiveCount(c.cfg.CountAssignedAsActive)
		c.metrics.ActiveTasks.Set(float64(active))
		slots := c.cfg.MaxConcurrentTasks - active
		if slots <= 0 {
			return nil
		}
		res.Capacity = slots

		n := min(slots, c.store.QueueLen())
		for i := 0; i < n; i++ {
			id, ok := c.store.Dequeue()
			if !ok {
				break
			}
			if ob, ok := c.distributeLocked(b, id, &res); ok {
				out = append(out, ob)
			}
		}
		c.metrics.QueueDepth.Set(float64(c.store.QueueLen()))
		// Counted under the lock so Close cannot miss a send.
		c.sends.Add(len(out))
		return nil
	})

	for _, ob := range out {
		go func(ob outbound) {
			defer c.sends.Done()
			c.send(ctx, ob)
		}(ob)
	}
	res.Dispatched = len(out)
	return res
}

// distributeLocked tries to assign one dequeued task. It returns the
// assignment to send when an agent was found.
func (c *Coordinator) distributeLocked(b *batch, id string, res *TickResult) (outbound, bool) {
	t, ok := c.store.Task(id)
	if !ok || t.Status != models.TaskStatusPending {
		res.Skipped++
		return outbound{}, false
	}

	if !c.dependenciesMetLocked(t) {
		if dep := c.blockedOnLocked(t); dep != "" {
			c.store.Park(id, dep)
			res.Parked++
			c.metrics.Dispatches.WithLabelValues("dependency_failed").Inc()
			c.logger.Debug("dependency cannot complete, parking task",
				zap.String("task_id", id),
				zap.String("dependency", dep))
			return outbound{}, false
		}
		c.store.Enqueue(id)
		res.Requeued++
		c.metrics.Dispatches.WithLabelValues("dependency_wait").Inc()
		return outbound{}, false
	}

	// An agent whose channel just refused this task is passed over once,
	// unless nobody else can take it.
	avoid, hasAvoid := c.avoid[id]
	delete(c.avoid, id)
	var match *Match
	var err error
	if hasAvoid {
		match, err = c.assigner.FindAgent(t, avoid)
	}
	if !hasAvoid || err != nil {
		match, err = c.assigner.FindAgent(t)
	}
	if err == nil && !c.agents.AdjustTaskCount(match.Agent.ID, 1) {
		err = ErrNoAgentAvailable
	}
	if err != nil {
		c.deferLocked(b, t)
		res.Deferred++
		c.metrics.Dispatches.WithLabelValues("no_agent").Inc()
		return outbound{}, false
	}

	agent := match.Agent
	now := c.now()
	firstAttempt := t.Attempts == 0
	if _, err := c.store.Transition(id, models.TaskStatusAssigned, func(t *models.Task) {
		t.AssignedAgentID = agent.ID
		t.StartedAt = timePtr(now)
		t.Attempts++
	}); err != nil {
		c.agents.AdjustTaskCount(agent.ID, -1)
		c.logger.Error("assign failed", zap.String("task_id", id), zap.Error(err))
		res.Skipped++
		return outbound{}, false
	}
	if firstAttempt {
		c.metrics.AssignmentLatency.Observe(now.Sub(t.CreatedAt).Seconds())
	}
	c.metrics.TaskTransitions.WithLabelValues(string(models.TaskStatusAssigned)).Inc()
	c.timeouts.Start(id, t.Attempts)
	c.markWorkflowsStartedLocked(b, id)

	b.add(c.taskEvent(EventTaskAssigned, t, ""))
	c.logger.Info("task assigned",
		zap.String("task_id", id),
		zap.String("agent_id", agent.ID),
		zap.String("agent_type", string(agent.Type)),
		zap.String("capability", match.Capability),
		zap.Int("rule", match.Rule),
		zap.Int("attempt", t.Attempts))

	return outbound{
		assignment: models.Assignment{
			TaskID:            t.ID,
			TaskName:          t.Name,
			TaskType:          t.Type,
			Description:       t.Description,
			AssignedAgentID:   agent.ID,
			AssignedAgentType: agent.Type,
			RecommendedTools:  c.tools.ToolsFor(t.RequiredCapabilities),
			Priority:          t.Priority,
			Dependencies:      append([]string(nil), t.Dependencies...),
			Context:           models.CloneContext(t.Context),
			Attempt:           t.Attempts,
			IssuedAt:          now,
		},
		attempt: t.Attempts,
	}, true
}

// send hands an assignment to the channel. A send the channel refused
// without trying, such as an open breaker, puts the task back for another
// agent; any other error fails the task. Either only applies while the
// assignment is still current.
func (c *Coordinator) send(ctx context.Context, ob outbound) {
	a := ob.assignment
	err := c.channel.Send(ctx, a)
	if err == nil {
		c.metrics.Dispatches.WithLabelValues("sent").Inc()
		return
	}

	derr := &DispatchError{TaskID: a.TaskID, AgentID: a.AssignedAgentID, Err: err}
	unavailable := dispatch.IsUnavailable(err)
	if unavailable {
		c.metrics.Dispatches.WithLabelValues("unavailable").Inc()
		c.logger.Info("dispatch refused, deferring task", zap.Error(derr))
	} else {
		c.metrics.Dispatches.WithLabelValues("send_error").Inc()
		c.logger.Warn("dispatch failed", zap.Error(derr))
	}

	_ = c.locked(func(b *batch) error {
		t, ok := c.store.Task(a.TaskID)
		if !ok || !t.Status.IsActive() || t.AssignedAgentID != a.AssignedAgentID || t.Attempts != ob.attempt {
			return nil
		}
		if unavailable {
			return c.withdrawLocked(b, t)
		}
		return c.failLocked(b, t, derr.Error())
	})
}

// withdrawLocked undoes an assignment that never reached the agent. The
// attempt is not charged against the retry budget.
func (c *Coordinator) withdrawLocked(b *batch, t *models.Task) error {
	holder := t.AssignedAgentID
	if _, err := c.store.Transition(t.ID, models.TaskStatusPending, func(t *models.Task) {
		t.AssignedAgentID = ""
		t.StartedAt = nil
		t.Reassignments++
	}); err != nil {
		return err
	}
	c.timeouts.Stop(t.ID)
	c.agents.AdjustTaskCount(holder, -1)
	c.metrics.TaskTransitions.WithLabelValues(string(models.TaskStatusPending)).Inc()
	c.avoid[t.ID] = holder
	c.deferLocked(b, t)
	return nil
}

// blockedOnLocked returns a dependency of t that can never complete: one
// that failed for good, or one that is itself parked.
func (c *Coordinator) blockedOnLocked(t *models.Task) string {
	for _, dep := range t.Dependencies {
		d, ok := c.store.Task(dep)
		if !ok {
			continue
		}
		if d.Status == models.TaskStatusFailed || c.store.IsParked(dep) {
			return dep
		}
	}
	return ""
}

// unparkLocked puts every task parked behind dep, directly or through
// another parked task, back in the queue.
func (c *Coordinator) unparkLocked(dep string) {
	for _, id := range c.store.Unpark(dep) {
		c.store.Enqueue(id)
		c.unparkLocked(id)
	}
}

func (c *Coordinator) dependenciesMetLocked(t *models.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := c.store.Task(dep)
		if !ok || d.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// deferLocked puts a task back in the queue after NoAgentRetryDelay.
// A task is never deferred twice at once.
func (c *Coordinator) deferLocked(b *batch, t *models.Task) {
	if _, pending := c.deferred[t.ID]; pending {
		return
	}
	id := t.ID
	c.deferred[id] = time.AfterFunc(c.cfg.NoAgentRetryDelay, func() {
		c.requeueDeferred(id)
	})
	b.add(c.taskEvent(EventTaskDeferred, t, ErrNoAgentAvailable.Error()))
	c.logger.Debug("no agent available, deferring task",
		zap.String("task_id", id),
		zap.Strings("capabilities", t.RequiredCapabilities),
		zap.Duration("delay", c.cfg.NoAgentRetryDelay))
}

func (c *Coordinator) requeueDeferred(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deferred, id)
	if c.closed {
		return
	}
	if t, ok := c.store.Task(id); ok && t.Status == models.TaskStatusPending {
		c.store.Enqueue(id)
		c.metrics.QueueDepth.Set(float64(c.store.QueueLen()))
	}
}
