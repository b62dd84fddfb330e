// Package registry is the directory of worker agents: who exists, what they
// can do, how loaded they are, and whether they are still alive.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Config holds directory settings.
type Config struct {
	// HealthCheckInterval is how long an agent may go without a heartbeat
	// before the sweep marks it offline.
	HealthCheckInterval time.Duration
	// SweepInterval is how often Run performs a sweep.
	SweepInterval time.Duration
	// StrictCapacity refuses task count updates above MaxConcurrentTasks.
	StrictCapacity bool
}

// DefaultConfig returns the directory defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 90 * time.Second,
		SweepInterval:       30 * time.Second,
	}
}

// FindOptions narrows FindBest.
type FindOptions struct {
	// PreferredType ranks agents of this type ahead of others.
	PreferredType models.AgentType
	// MaxLoad excludes agents whose load exceeds it. Nil means no limit.
	MaxLoad *float64
	// ExcludeIDs are never returned.
	ExcludeIDs []string
	// RequireCapacity skips agents already holding MaxConcurrentTasks tasks.
	RequireCapacity bool
}

// MaxLoad is a convenience for building FindOptions.MaxLoad.
func MaxLoad(v float64) *float64 {
	return &v
}

// Stats summarizes the directory.
type Stats struct {
	TotalAgents   int                      `json:"total_agents"`
	ActiveAgents  int                      `json:"active_agents"`
	BusyAgents    int                      `json:"busy_agents"`
	IdleAgents    int                      `json:"idle_agents"`
	OfflineAgents int                      `json:"offline_agents"`
	ByType        map[models.AgentType]int `json:"by_type"`
	ByCapability  map[string]int           `json:"by_capability"`
	// TotalTasks is the sum of CurrentTasks across agents.
	TotalTasks int `json:"total_tasks"`
}

// Registry is the agent directory. It owns every agent record; callers only
// ever receive clones.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]*models.Agent
	byCapability map[string]map[string]struct{}
	byType       map[models.AgentType]map[string]struct{}

	obsMu     sync.RWMutex
	observers []Observer

	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates an empty directory.
func New(cfg Config, opts ...Option) *Registry {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultConfig().HealthCheckInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	r := &Registry{
		agents:       make(map[string]*models.Agent),
		byCapability: make(map[string]map[string]struct{}),
		byType:       make(map[models.AgentType]map[string]struct{}),
		cfg:          cfg,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = metrics.OrNew(r.metrics)
	r.logger = r.logger.Named("registry")
	return r
}

// Register validates and stores an agent. Registering an existing ID
// replaces the previous record and its index entries.
func (r *Registry) Register(agent *models.Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}

	a := agent.Clone()
	now := r.now()
	a.RegisteredAt = now
	a.LastHeartbeat = now
	if a.CurrentTasks < 0 {
		a.CurrentTasks = 0
	}
	a.Status = statusFor(a)

	r.mu.Lock()
	_, replaced := r.agents[a.ID]
	if replaced {
		r.removeLocked(a.ID)
	}
	r.agents[a.ID] = a
	for _, c := range a.Capabilities {
		addIndex(r.byCapability, c.Name, a.ID)
	}
	addIndex(r.byType, a.Type, a.ID)
	r.updateGaugesLocked()
	snapshot := a.Clone()
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.Strings("capabilities", a.CapabilityNames()),
		zap.Bool("replaced", replaced))
	r.notify(Event{Type: EventRegistered, AgentID: a.ID, Agent: snapshot, Timestamp: now})
	return nil
}

// Unregister removes an agent from the directory and every index.
// Returns false if the agent was not registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	snapshot := a.Clone()
	r.removeLocked(id)
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.logger.Info("agent unregistered", zap.String("agent_id", id))
	r.notify(Event{Type: EventUnregistered, AgentID: id, Agent: snapshot, Timestamp: r.now()})
	return true
}

// removeLocked drops id from the primary map and all indices.
// Caller must hold r.mu.
func (r *Registry) removeLocked(id string) {
	a, ok := r.agents[id]
	if !ok {
		return
	}
	for _, c := range a.Capabilities {
		removeIndex(r.byCapability, c.Name, id)
	}
	removeIndex(r.byType, a.Type, id)
	delete(r.agents, id)
}

// Get returns a copy of the agent.
func (r *Registry) Get(id string) (*models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// List returns copies of all agents ordered by ID.
func (r *Registry) List() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	sortByID(out)
	return out
}

// FindByCapability returns every agent advertising the capability,
// regardless of status, ordered by ID.
func (r *Registry) FindByCapability(name string) []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byCapability[name])
}

// FindByType returns every agent of the given type, ordered by ID.
func (r *Registry) FindByType(t models.AgentType) []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byType[t])
}

func (r *Registry) collectLocked(ids map[string]struct{}) []*models.Agent {
	out := make([]*models.Agent, 0, len(ids))
	for id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, a.Clone())
		}
	}
	sortByID(out)
	return out
}

// FindBest picks the most suitable agent for a capability. An empty
// capability considers every agent. Offline agents, excluded IDs, agents
// above opts.MaxLoad and, with RequireCapacity, full agents are skipped.
// Among the rest, agents of opts.PreferredType come first, then the least
// loaded by task count, then the lowest ID.
func (r *Registry) FindBest(capability string, opts FindOptions) (*models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	excluded := make(map[string]struct{}, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	var pool []*models.Agent
	if capability == "" {
		pool = make([]*models.Agent, 0, len(r.agents))
		for _, a := range r.agents {
			pool = append(pool, a)
		}
	} else {
		for id := range r.byCapability[capability] {
			pool = append(pool, r.agents[id])
		}
	}

	var best *models.Agent
	for _, a := range pool {
		if a == nil || a.Status == models.AgentStatusOffline {
			continue
		}
		if _, skip := excluded[a.ID]; skip {
			continue
		}
		if opts.MaxLoad != nil && a.Load() > *opts.MaxLoad {
			continue
		}
		if opts.RequireCapacity && a.Load() >= 1 {
			continue
		}
		if best == nil || better(a, best, opts.PreferredType) {
			best = a
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

// better reports whether a ranks ahead of b.
func better(a, b *models.Agent, preferred models.AgentType) bool {
	if preferred != "" {
		ap, bp := a.Type == preferred, b.Type == preferred
		if ap != bp {
			return ap
		}
	}
	if a.CurrentTasks != b.CurrentTasks {
		return a.CurrentTasks < b.CurrentTasks
	}
	return a.ID < b.ID
}

// Heartbeat records that the agent is alive. An offline agent that
// heartbeats comes back online.
func (r *Registry) Heartbeat(id string) bool {
	now := r.now()

	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	a.LastHeartbeat = now
	revived := a.Status == models.AgentStatusOffline
	var snapshot *models.Agent
	if revived {
		a.Status = statusFor(a)
		r.updateGaugesLocked()
		snapshot = a.Clone()
	}
	r.mu.Unlock()

	if revived {
		r.logger.Info("agent back online", zap.String("agent_id", id))
		r.notify(Event{Type: EventCameOnline, AgentID: id, Agent: snapshot, Timestamp: now})
	}
	return true
}

// UpdateTaskCount sets the agent's current task count, clamped at zero.
// Returns false if the agent is unknown, or if strict capacity is enabled
// and n exceeds the agent's limit.
func (r *Registry) UpdateTaskCount(id string, n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	return r.setCountLocked(a, n)
}

// AdjustTaskCount changes the agent's task count by delta under the same
// rules as UpdateTaskCount.
func (r *Registry) AdjustTaskCount(id string, delta int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	return r.setCountLocked(a, a.CurrentTasks+delta)
}

func (r *Registry) setCountLocked(a *models.Agent, n int) bool {
	if n < 0 {
		n = 0
	}
	if r.cfg.StrictCapacity && n > a.CurrentTasks && n > a.MaxConcurrentTasks {
		r.logger.Warn("task count above capacity refused",
			zap.String("agent_id", a.ID),
			zap.Int("requested", n),
			zap.Int("max", a.MaxConcurrentTasks))
		return false
	}
	a.CurrentTasks = n
	if a.Status != models.AgentStatusOffline {
		a.Status = statusFor(a)
	}
	r.updateGaugesLocked()
	return true
}

// Sweep marks agents whose last heartbeat is older than the health check
// interval as offline. Offline agents stay registered. Returns the IDs that
// went offline in this sweep.
func (r *Registry) Sweep() []string {
	now := r.now()

	r.mu.Lock()
	var events []Event
	for id, a := range r.agents {
		if a.Status == models.AgentStatusOffline {
			continue
		}
		if now.Sub(a.LastHeartbeat) > r.cfg.HealthCheckInterval {
			a.Status = models.AgentStatusOffline
			events = append(events, Event{Type: EventWentOffline, AgentID: id, Agent: a.Clone(), Timestamp: now})
		}
	}
	if len(events) > 0 {
		r.updateGaugesLocked()
	}
	r.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].AgentID < events[j].AgentID })
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		r.logger.Warn("agent missed heartbeat, marking offline",
			zap.String("agent_id", ev.AgentID),
			zap.Time("last_heartbeat", ev.Agent.LastHeartbeat))
		r.notify(ev)
		ids = append(ids, ev.AgentID)
	}
	return ids
}

// Run sweeps every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Stats summarizes the directory.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		TotalAgents:  len(r.agents),
		ByType:       make(map[models.AgentType]int),
		ByCapability: make(map[string]int),
	}
	for _, a := range r.agents {
		switch a.Status {
		case models.AgentStatusOffline:
			s.OfflineAgents++
		case models.AgentStatusBusy:
			s.BusyAgents++
			s.ActiveAgents++
		default:
			s.IdleAgents++
			s.ActiveAgents++
		}
		s.ByType[a.Type]++
		s.TotalTasks += a.CurrentTasks
	}
	for name, ids := range r.byCapability {
		s.ByCapability[name] = len(ids)
	}
	return s
}

// updateGaugesLocked refreshes the agents-by-status gauge.
// Caller must hold r.mu.
func (r *Registry) updateGaugesLocked() {
	counts := map[models.AgentStatus]int{
		models.AgentStatusIdle:    0,
		models.AgentStatusBusy:    0,
		models.AgentStatusOffline: 0,
	}
	for _, a := range r.agents {
		counts[a.Status]++
	}
	for status, n := range counts {
		r.metrics.Agents.WithLabelValues(string(status)).Set(float64(n))
	}
}

func statusFor(a *models.Agent) models.AgentStatus {
	if a.CurrentTasks > 0 {
		return models.AgentStatusBusy
	}
	return models.AgentStatusIdle
}

func addIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortByID(agents []*models.Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
}
