package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"

	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/pkg/models"
)

type stubChannel struct {
	err   error
	calls int
	// failFor limits err to sends to these agents when set.
	failFor map[string]bool
}

func (s *stubChannel) Send(_ context.Context, a models.Assignment) error {
	s.calls++
	if s.failFor != nil && !s.failFor[a.AssignedAgentID] {
		return nil
	}
	return s.err
}

func TestGuarded_TripsBreaker(t *testing.T) {
	next := &stubChannel{err: errors.New("down")}
	m := metrics.New(prometheus.NewRegistry())
	g := NewGuarded(next, GuardConfig{
		Name:                "test",
		MaxRequests:         1,
		Timeout:             time.Minute,
		ConsecutiveFailures: 2,
	}, nil, m)

	a := models.Assignment{AssignedAgentID: "ext"}
	for i := 0; i < 3; i++ {
		if err := g.Send(context.Background(), a); err == nil {
			t.Fatalf("send %d succeeded against a failing channel", i)
		}
	}
	if g.State("ext") != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", g.State("ext"))
	}
	if v := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("test", "ext")); v != 2 {
		t.Errorf("breaker gauge = %v, want 2", v)
	}

	err := g.Send(context.Background(), a)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("send while open: %v, want ErrOpenState", err)
	}
	if !IsUnavailable(err) {
		t.Errorf("IsUnavailable(%v) = false", err)
	}
	if next.calls != 3 {
		t.Errorf("wrapped channel called %d times, want 3", next.calls)
	}
}

func TestGuarded_RateLimit(t *testing.T) {
	next := &stubChannel{}
	g := NewGuarded(next, GuardConfig{RateLimit: 0.001, Burst: 2, ConsecutiveFailures: 5}, nil, nil)

	for i := 0; i < 2; i++ {
		if err := g.Send(context.Background(), models.Assignment{}); err != nil {
			t.Fatalf("send %d within burst: %v", i, err)
		}
	}
	err := g.Send(context.Background(), models.Assignment{})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("send over limit: %v, want ErrRateLimited", err)
	}
	if !IsUnavailable(err) {
		t.Errorf("IsUnavailable(%v) = false", err)
	}
}

func TestGuarded_BreakerIsPerAgent(t *testing.T) {
	next := &stubChannel{err: ErrNoInbox, failFor: map[string]bool{"ext": true}}
	g := NewGuarded(next, GuardConfig{
		MaxRequests:         3,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}, nil, nil)

	for i := 0; i < 6; i++ {
		err := g.Send(context.Background(), models.Assignment{TaskID: "t", AssignedAgentID: "ext"})
		if !errors.Is(err, ErrNoInbox) {
			t.Fatalf("send %d to ext: %v, want ErrNoInbox", i, err)
		}
		if IsUnavailable(err) {
			t.Fatalf("a failed send is not a refusal: %v", err)
		}
	}
	if g.State("ext") != gobreaker.StateOpen {
		t.Fatalf("ext breaker = %s, want open", g.State("ext"))
	}

	if err := g.Send(context.Background(), models.Assignment{TaskID: "u", AssignedAgentID: "good"}); err != nil {
		t.Errorf("send to a healthy agent: %v", err)
	}
	if g.State("good") != gobreaker.StateClosed {
		t.Errorf("good breaker = %s, want closed", g.State("good"))
	}
}

func TestGuarded_NoLimiterWhenRateZero(t *testing.T) {
	next := &stubChannel{}
	g := NewGuarded(next, GuardConfig{ConsecutiveFailures: 5}, nil, nil)

	for i := 0; i < 50; i++ {
		if err := g.Send(context.Background(), models.Assignment{}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
}
