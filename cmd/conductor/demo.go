package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/dispatch"
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/internal/version"
	"github.com/ShayCichocki/conductor/pkg/models"
)

const demoWorkDuration = 500 * time.Millisecond

// demoFleet is the set of sample agents registered by serve --demo-agents.
func demoFleet() []*models.Agent {
	caps := func(names ...string) []models.Capability {
		out := make([]models.Capability, len(names))
		for i, n := range names {
			out[i] = models.Capability{Name: n}
		}
		return out
	}
	return []*models.Agent{
		{ID: "analyst-1", Name: "Data analyst", Type: models.AgentTypeSpecialist,
			Capabilities: caps("data_query", "data_analysis"), MaxConcurrentTasks: 2},
		{ID: "researcher-1", Name: "Web researcher", Type: models.AgentTypeSpecialist,
			Capabilities: caps("web_research", "data_analysis"), MaxConcurrentTasks: 2},
		{ID: "planner-1", Name: "Planner", Type: models.AgentTypeCoordinator,
			Capabilities: caps("workflow_planning", "base_operations", "data_analysis"), MaxConcurrentTasks: 4},
		{ID: "notifier-1", Name: "Notifier", Type: models.AgentTypeBridge,
			Capabilities: caps("notification", "base_operations"), MaxConcurrentTasks: 3},
	}
}

// demoHandler pretends to do the work. The task context can set
// "duration_ms" to change how long it takes and "fail" to make it fail
// with that message.
func demoHandler(agentID string) dispatch.HandlerFunc {
	return func(ctx context.Context, a models.Assignment) (json.RawMessage, error) {
		d := demoWorkDuration
		if ms, ok := a.Context["duration_ms"].(float64); ok && ms >= 0 {
			d = time.Duration(ms) * time.Millisecond
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if msg, ok := a.Context["fail"].(string); ok && msg != "" {
			return nil, errors.New(msg)
		}
		return json.Marshal(map[string]any{
			"agent":   agentID,
			"task":    a.TaskName,
			"attempt": a.Attempt,
			"tools":   a.RecommendedTools,
		})
	}
}

// startDemoAgents registers the demo fleet and runs a worker and a
// heartbeat loop for each agent until ctx is done. Exactly one of bus or
// rc must be non-nil.
func startDemoAgents(ctx context.Context, agents *registry.Registry, heartbeat time.Duration,
	bus *dispatch.LocalBus, rc *dispatch.RedisChannel, reporter dispatch.Reporter, logger *zap.Logger) error {
	for _, a := range demoFleet() {
		a.Version = version.Get()
		if err := agents.Register(a); err != nil {
			return fmt.Errorf("register demo agent %s: %w", a.ID, err)
		}

		handler := demoHandler(a.ID)
		if bus != nil {
			go dispatch.NewLocalWorker(a.ID, bus, reporter, handler, logger).Run(ctx)
		} else {
			go runRedisWorker(ctx, rc, a.ID, handler, logger)
		}
		go keepAlive(ctx, agents, a.ID, heartbeat)
		logger.Info("demo agent started", zap.String("agent_id", a.ID), zap.String("type", string(a.Type)))
	}
	return nil
}

// keepAlive heartbeats well inside the health check window.
func keepAlive(ctx context.Context, agents *registry.Registry, id string, window time.Duration) {
	every := window / 3
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agents.Heartbeat(id)
		}
	}
}

// runRedisWorker is the remote-agent side of the Redis transport: it reads
// the agent's stream and publishes outcomes back.
func runRedisWorker(ctx context.Context, rc *dispatch.RedisChannel, agentID string, handler dispatch.HandlerFunc, logger *zap.Logger) {
	logger = logger.Named("worker").With(zap.String("agent_id", agentID))
	report := func(o dispatch.Outcome) {
		o.AgentID = agentID
		o.Timestamp = time.Now()
		if err := rc.Report(ctx, o); err != nil {
			logger.Warn("publish outcome", zap.String("task_id", o.TaskID), zap.Error(err))
		}
	}

	for a := range rc.Assignments(ctx, agentID) {
		report(dispatch.Outcome{Type: dispatch.OutcomeStarted, TaskID: a.TaskID})
		result, err := handler(ctx, a)
		if err != nil {
			report(dispatch.Outcome{Type: dispatch.OutcomeFailed, TaskID: a.TaskID, Error: err.Error()})
			continue
		}
		report(dispatch.Outcome{Type: dispatch.OutcomeCompleted, TaskID: a.TaskID, Result: result})
	}
}
