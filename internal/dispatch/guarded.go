package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrRateLimited is returned when the send rate limit is exceeded.
var ErrRateLimited = errors.New("dispatch rate limit exceeded")

// IsUnavailable reports whether err means the guard refused the send
// without trying it. Such a send says nothing about the task and may be
// tried again later or with another agent.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// GuardConfig tunes a Guarded channel.
type GuardConfig struct {
	// Name labels the breakers in logs and metrics.
	Name string
	// RateLimit is sends per second; zero disables the limiter.
	RateLimit float64
	Burst     int
	// MaxRequests is the number of trial sends allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration
	// Timeout is how long a breaker stays open before half-opening.
	Timeout time.Duration
	// ConsecutiveFailures trips a breaker once exceeded.
	ConsecutiveFailures uint32
}

// Guarded protects a Channel with a shared rate limiter and one circuit
// breaker per agent, so an unreachable agent does not cut off the rest.
// Neither waits: a limited send or an open breaker fails immediately.
type Guarded struct {
	next    Channel
	cfg     GuardConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ Channel = (*Guarded)(nil)

// NewGuarded wraps next.
func NewGuarded(next Channel, cfg GuardConfig, logger *zap.Logger, m *metrics.Metrics) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "dispatch"
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Guarded{
		next:     next,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
		metrics:  metrics.OrNew(m),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Send forwards to the wrapped channel unless the limiter or the agent's
// breaker refuses.
func (g *Guarded) Send(ctx context.Context, a models.Assignment) error {
	if g.limiter != nil && !g.limiter.Allow() {
		return ErrRateLimited
	}
	_, err := g.breaker(a.AssignedAgentID).Execute(func() (interface{}, error) {
		return nil, g.next.Send(ctx, a)
	})
	return err
}

// State reports the breaker state for an agent. Agents never sent to are
// closed.
func (g *Guarded) State(agentID string) gobreaker.State {
	g.mu.Lock()
	cb, ok := g.breakers[agentID]
	g.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (g *Guarded) breaker(agentID string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[agentID]; ok {
		return cb
	}

	gauge := g.metrics.CircuitBreakerState.WithLabelValues(g.cfg.Name, agentID)
	gauge.Set(0)
	threshold := g.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        g.cfg.Name + ":" + agentID,
		MaxRequests: g.cfg.MaxRequests,
		Interval:    g.cfg.Interval,
		Timeout:     g.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			gauge.Set(stateValue(to))
			g.logger.Warn("dispatch circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("agent_id", agentID),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	g.breakers[agentID] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
