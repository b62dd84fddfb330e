package orchestrator

import (
	"context"
	"sync"
	"time"
)

// timeoutTracker runs one timer per active assignment. Each watch races the
// assignment's done channel against its timer; whichever fires first wins.
type timeoutTracker struct {
	ctx     context.Context
	timeout time.Duration
	expire  func(taskID string, attempt int)

	mu      sync.Mutex
	watches map[string]chan struct{}
	wg      sync.WaitGroup
}

func newTimeoutTracker(ctx context.Context, timeout time.Duration, expire func(taskID string, attempt int)) *timeoutTracker {
	return &timeoutTracker{
		ctx:     ctx,
		timeout: timeout,
		expire:  expire,
		watches: make(map[string]chan struct{}),
	}
}

// Start begins watching an assignment, replacing any earlier watch on the
// same task.
func (t *timeoutTracker) Start(taskID string, attempt int) {
	done := make(chan struct{})

	t.mu.Lock()
	if prev, ok := t.watches[taskID]; ok {
		close(prev)
	}
	t.watches[taskID] = done
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()

		select {
		case <-done:
		case <-t.ctx.Done():
		case <-timer.C:
			t.expire(taskID, attempt)
		}
	}()
}

// Stop ends the watch on a task. It is a no-op when none is running.
func (t *timeoutTracker) Stop(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if done, ok := t.watches[taskID]; ok {
		close(done)
		delete(t.watches, taskID)
	}
}

// Len returns the number of running watches.
func (t *timeoutTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.watches)
}

// StopAll ends every watch and waits for the goroutines to exit.
func (t *timeoutTracker) StopAll() {
	t.mu.Lock()
	for id, done := range t.watches {
		close(done)
		delete(t.watches, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
