package orchestrator

import "github.com/ShayCichocki/conductor/pkg/models"

// RetryPolicy decides whether a failed task goes back to the queue.
type RetryPolicy struct {
	// MaxAttempts bounds the number of assignments that may end in failure.
	MaxAttempts int
	// Priorities lists the priorities eligible for retry.
	Priorities []models.Priority
}

// DefaultRetryPolicy retries high and urgent tasks up to three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Priorities:  []models.Priority{models.PriorityHigh, models.PriorityUrgent},
	}
}

// ShouldRetry reports whether a task that just failed may be retried.
// Assignments abandoned because the agent went offline do not count.
func (p RetryPolicy) ShouldRetry(t *models.Task) bool {
	if !p.eligible(t.Priority) {
		return false
	}
	return t.Attempts-t.Reassignments < p.MaxAttempts
}

func (p RetryPolicy) eligible(pr models.Priority) bool {
	for _, allowed := range p.Priorities {
		if allowed == pr {
			return true
		}
	}
	return false
}
