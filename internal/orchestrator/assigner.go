package orchestrator

import (
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// MatchRule is one step of the matching policy. Rules are tried in order
// for each required capability until one yields an agent.
type MatchRule struct {
	// PreferredType ranks agents of this type first. Empty means any type.
	PreferredType models.AgentType
	// MaxLoad skips agents above this load. Nil means no limit.
	MaxLoad *float64
}

// DefaultMatchRules prefers a lightly loaded specialist, then a coordinator
// with headroom, then anyone.
func DefaultMatchRules() []MatchRule {
	return []MatchRule{
		{PreferredType: models.AgentTypeSpecialist, MaxLoad: registry.MaxLoad(0.8)},
		{PreferredType: models.AgentTypeCoordinator, MaxLoad: registry.MaxLoad(0.9)},
		{},
	}
}

// AgentFinder is the part of the agent directory the assigner needs.
type AgentFinder interface {
	FindBest(capability string, opts registry.FindOptions) (*models.Agent, bool)
}

// Match is the assigner's pick for a task.
type Match struct {
	Agent *models.Agent
	// Capability is the required capability that matched, empty when the
	// task required none.
	Capability string
	// Rule is the index of the rule that matched.
	Rule int
}

// Assigner picks an agent for a task.
type Assigner struct {
	agents          AgentFinder
	rules           []MatchRule
	requireCapacity bool
}

// NewAssigner creates an Assigner. Nil or empty rules use DefaultMatchRules.
// With requireCapacity, agents that are already full are never picked.
func NewAssigner(agents AgentFinder, rules []MatchRule, requireCapacity bool) *Assigner {
	if len(rules) == 0 {
		rules = DefaultMatchRules()
	}
	return &Assigner{agents: agents, rules: rules, requireCapacity: requireCapacity}
}

// FindAgent walks the task's required capabilities in order and, for each,
// the match rules in order. The first agent found wins. A task with no
// required capabilities may go to any agent. Agents in exclude are passed
// over.
// Returns ErrNoAgentAvailable when nothing matches.
func (a *Assigner) FindAgent(task *models.Task, exclude ...string) (*Match, error) {
	caps := task.RequiredCapabilities
	if len(caps) == 0 {
		caps = []string{""}
	}
	for _, capability := range caps {
		for i, rule := range a.rules {
			agent, ok := a.agents.FindBest(capability, registry.FindOptions{
				PreferredType:   rule.PreferredType,
				MaxLoad:         rule.MaxLoad,
				ExcludeIDs:      exclude,
				RequireCapacity: a.requireCapacity,
			})
			if ok {
				return &Match{Agent: agent, Capability: capability, Rule: i}, nil
			}
		}
	}
	return nil, ErrNoAgentAvailable
}
