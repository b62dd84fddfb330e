package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Config holds the scheduling knobs of a Coordinator.
type Config struct {
	// TickInterval is how often Run calls Tick.
	TickInterval time.Duration
	// MaxConcurrentTasks is the ceiling on active tasks.
	MaxConcurrentTasks int
	// TaskTimeout bounds each assignment.
	TaskTimeout time.Duration
	// NoAgentRetryDelay is how long a task waits before re-entering the
	// queue when no agent matched.
	NoAgentRetryDelay time.Duration
	// CountAssignedAsActive counts assigned, not yet started, tasks against
	// the ceiling.
	CountAssignedAsActive bool
	// StrictCapacity never assigns to an agent already at its limit.
	StrictCapacity bool
}

// DefaultConfig returns the scheduling defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:          time.Second,
		MaxConcurrentTasks:    10,
		TaskTimeout:           5 * time.Minute,
		NoAgentRetryDelay:     5 * time.Second,
		CountAssignedAsActive: true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.NoAgentRetryDelay <= 0 {
		c.NoAgentRetryDelay = d.NoAgentRetryDelay
	}
	return c
}

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	newID       func() string
	tools       ToolMapper
	rules       []MatchRule
	retry       *RetryPolicy
	eventBuffer int
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *coordinatorOptions) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *coordinatorOptions) { o.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *coordinatorOptions) { o.now = now }
}

// WithIDGenerator overrides the task and workflow ID source.
func WithIDGenerator(fn func() string) Option {
	return func(o *coordinatorOptions) { o.newID = fn }
}

// WithToolMapper sets the capability to tool mapping used in assignments.
func WithToolMapper(m ToolMapper) Option {
	return func(o *coordinatorOptions) { o.tools = m }
}

// WithMatchRules sets the agent matching policy.
func WithMatchRules(rules []MatchRule) Option {
	return func(o *coordinatorOptions) { o.rules = rules }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *coordinatorOptions) { o.retry = &p }
}

// WithEventBuffer sets the per-subscriber event buffer size.
func WithEventBuffer(n int) Option {
	return func(o *coordinatorOptions) { o.eventBuffer = n }
}

// FromConfig translates the loaded configuration into a Config and the
// options that follow from it. The tool mapping is left to the caller so it
// can keep a handle for reloads.
func FromConfig(cfg *config.Config) (Config, []Option) {
	rules := make([]MatchRule, 0, len(cfg.Matching.Rules))
	for _, r := range cfg.Matching.Rules {
		rules = append(rules, MatchRule{
			PreferredType: models.AgentType(r.PreferredType),
			MaxLoad:       r.MaxLoad,
		})
	}
	priorities := make([]models.Priority, 0, len(cfg.Retry.Priorities))
	for _, p := range cfg.Retry.Priorities {
		priorities = append(priorities, models.Priority(p))
	}

	c := Config{
		TickInterval:          cfg.Scheduler.TickInterval,
		MaxConcurrentTasks:    cfg.Scheduler.MaxConcurrentTasks,
		TaskTimeout:           cfg.Scheduler.TaskTimeout,
		NoAgentRetryDelay:     cfg.Scheduler.NoAgentRetryDelay,
		CountAssignedAsActive: cfg.Scheduler.CountAssignedAsActive,
		StrictCapacity:        cfg.Registry.StrictCapacity,
	}
	opts := []Option{
		WithMatchRules(rules),
		WithRetryPolicy(RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Priorities: priorities}),
		WithEventBuffer(cfg.Events.Buffer),
	}
	return c, opts
}

func defaultOptions() coordinatorOptions {
	return coordinatorOptions{
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       uuid.NewString,
		eventBuffer: 256,
	}
}
