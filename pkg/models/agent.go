package models

import (
	"fmt"
	"time"
)

// AgentType is the role an agent plays in the fleet.
type AgentType string

const (
	// AgentTypeCoordinator agents orchestrate other work and accept overflow.
	AgentTypeCoordinator AgentType = "coordinator"
	// AgentTypeSpecialist agents are preferred for capability-matched work.
	AgentTypeSpecialist AgentType = "specialist"
	// AgentTypeBridge agents relay work to external systems.
	AgentTypeBridge AgentType = "bridge"
)

// Valid returns true if the type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeCoordinator, AgentTypeSpecialist, AgentTypeBridge:
		return true
	default:
		return false
	}
}

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent holds no tasks.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent holds at least one task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusOffline indicates the agent missed its heartbeat window.
	AgentStatusOffline AgentStatus = "offline"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// Capability is a named skill an agent advertises.
type Capability struct {
	Name        string         `json:"name" yaml:"name"`
	Category    string         `json:"category,omitempty" yaml:"category,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
}

// Agent is a worker registered with the directory.
type Agent struct {
	// ID is the unique identifier for this agent. Immutable once registered.
	ID string `json:"id"`
	// Name is a human-readable label.
	Name string `json:"name"`
	// Type is the agent's role.
	Type AgentType `json:"type"`
	// Capabilities lists the skills this agent can perform.
	Capabilities []Capability `json:"capabilities"`
	// Status is the current availability of the agent.
	Status AgentStatus `json:"status"`
	// MaxConcurrentTasks is the advertised concurrency limit.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	// CurrentTasks is the number of tasks currently held by the agent.
	CurrentTasks int `json:"current_tasks"`
	// LastHeartbeat is the last time the agent reported in.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// Version is the agent's self-reported build version.
	Version string `json:"version,omitempty"`
	// RegisteredAt is when the agent was (last) registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// ValidationError reports a malformed record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks that the agent is well formed enough to be registered.
func (a *Agent) Validate() error {
	if a == nil {
		return &ValidationError{Field: "agent", Reason: "is nil"}
	}
	if a.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if a.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if !a.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown agent type %q", a.Type)}
	}
	if len(a.Capabilities) == 0 {
		return &ValidationError{Field: "capabilities", Reason: "at least one capability is required"}
	}
	for i, c := range a.Capabilities {
		if c.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("capabilities[%d].name", i), Reason: "is required"}
		}
	}
	if a.MaxConcurrentTasks < 0 {
		return &ValidationError{Field: "max_concurrent_tasks", Reason: "must not be negative"}
	}
	if a.Status != "" && !a.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown agent status %q", a.Status)}
	}
	return nil
}

// HasCapability reports whether the agent advertises the named capability.
func (a *Agent) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// CapabilityNames returns the advertised capability names in order.
func (a *Agent) CapabilityNames() []string {
	names := make([]string, 0, len(a.Capabilities))
	for _, c := range a.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// Load is the ratio of held tasks to the advertised limit.
// A zero limit is treated as one so the ratio stays finite.
func (a *Agent) Load() float64 {
	limit := a.MaxConcurrentTasks
	if limit < 1 {
		limit = 1
	}
	return float64(a.CurrentTasks) / float64(limit)
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	c.Capabilities = make([]Capability, len(a.Capabilities))
	for i, capability := range a.Capabilities {
		c.Capabilities[i] = capability
		if capability.InputSchema != nil {
			schema := make(map[string]any, len(capability.InputSchema))
			for k, v := range capability.InputSchema {
				schema[k] = v
			}
			c.Capabilities[i].InputSchema = schema
		}
	}
	return &c
}
