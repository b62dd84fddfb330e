// Package orchestrator coordinates tasks across the agent fleet.
//
// The Coordinator provides:
//   - Task and workflow creation, with dependencies checked up front
//   - A ticking scheduler that respects a concurrency ceiling and holds
//     back tasks whose dependencies have not completed
//   - Capability matching through ordered MatchRules
//   - Per-assignment timeouts and priority-gated, bounded retries
//   - Workflow aggregation: complete when every member completes, failed
//     as soon as one member fails
//
// Agents report back through the dispatch.Reporter methods on the
// Coordinator. Tasks held by an agent that goes offline return to the queue.
//
// Example usage:
//
//	reg := registry.New(registry.DefaultConfig())
//	bus := dispatch.NewLocalBus(64)
//	coord := orchestrator.New(orchestrator.DefaultConfig(), reg, bus)
//	defer coord.Close()
//	go coord.Run(ctx)
//	task, err := coord.CreateTask(models.TaskSpec{
//		Name:                 "summarize",
//		RequiredCapabilities: []string{"data_analysis"},
//	})
package orchestrator
