package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	// ErrInboxFull is returned when an agent's inbox has no room.
	ErrInboxFull = errors.New("agent inbox full")
	// ErrNoInbox is returned when no in-process worker serves the agent.
	ErrNoInbox = errors.New("no inbox for agent")
)

// LocalBus delivers assignments to in-process workers through one buffered
// inbox per agent. Send never blocks.
type LocalBus struct {
	mu        sync.RWMutex
	inboxes   map[string]chan models.Assignment
	inboxSize int
}

var _ Channel = (*LocalBus)(nil)

// NewLocalBus creates a bus whose inboxes hold inboxSize assignments.
func NewLocalBus(inboxSize int) *LocalBus {
	if inboxSize <= 0 {
		inboxSize = 1
	}
	return &LocalBus{
		inboxes:   make(map[string]chan models.Assignment),
		inboxSize: inboxSize,
	}
}

// Inbox returns the agent's inbox, creating it on first use.
func (b *LocalBus) Inbox(agentID string) <-chan models.Assignment {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inboxes[agentID]
	if !ok {
		ch = make(chan models.Assignment, b.inboxSize)
		b.inboxes[agentID] = ch
	}
	return ch
}

// Remove drops the agent's inbox. Assignments still buffered are lost.
func (b *LocalBus) Remove(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, agentID)
}

// Send queues the assignment in the agent's inbox.
func (b *LocalBus) Send(_ context.Context, a models.Assignment) error {
	b.mu.RLock()
	ch, ok := b.inboxes[a.AssignedAgentID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoInbox, a.AssignedAgentID)
	}

	select {
	case ch <- a:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInboxFull, a.AssignedAgentID)
	}
}

// HandlerFunc executes an assignment and returns its result payload.
type HandlerFunc func(ctx context.Context, a models.Assignment) (json.RawMessage, error)

// LocalWorker consumes one agent's inbox and reports every outcome.
type LocalWorker struct {
	agentID  string
	inbox    <-chan models.Assignment
	reporter Reporter
	handler  HandlerFunc
	logger   *zap.Logger
}

// NewLocalWorker creates a worker for agentID reading from bus.
func NewLocalWorker(agentID string, bus *LocalBus, reporter Reporter, handler HandlerFunc, logger *zap.Logger) *LocalWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalWorker{
		agentID:  agentID,
		inbox:    bus.Inbox(agentID),
		reporter: reporter,
		handler:  handler,
		logger:   logger.Named("worker").With(zap.String("agent_id", agentID)),
	}
}

// Run processes assignments one at a time until ctx is done.
func (w *LocalWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-w.inbox:
			w.handle(ctx, a)
		}
	}
}

func (w *LocalWorker) handle(ctx context.Context, a models.Assignment) {
	if err := w.reporter.OnTaskStarted(a.TaskID, w.agentID); err != nil {
		// The task was reassigned or timed out before we got to it.
		w.logger.Warn("skipping stale assignment", zap.String("task_id", a.TaskID), zap.Error(err))
		return
	}

	result, err := w.handler(ctx, a)
	if err != nil {
		if rerr := w.reporter.OnTaskFailed(a.TaskID, w.agentID, err.Error()); rerr != nil {
			w.logger.Warn("failure report rejected", zap.String("task_id", a.TaskID), zap.Error(rerr))
		}
		return
	}
	if rerr := w.reporter.OnTaskCompleted(a.TaskID, w.agentID, result); rerr != nil {
		w.logger.Warn("completion report rejected", zap.String("task_id", a.TaskID), zap.Error(rerr))
	}
}
