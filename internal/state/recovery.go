package state

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// InterruptedReason is the error recorded on tasks and workflows that were
// still open when the previous process stopped.
const InterruptedReason = "interrupted by restart"

// Interrupted counts records left open by a previous run.
type Interrupted struct {
	Tasks     int
	Workflows int
	Agents    int
}

// Empty reports whether nothing was left open.
func (i Interrupted) Empty() bool {
	return i.Tasks == 0 && i.Workflows == 0 && i.Agents == 0
}

// RecoveryManager closes out records from an interrupted run. The
// coordinator keeps its queue in memory, so nothing left open in the
// store can resume after a restart.
type RecoveryManager struct {
	db     *DB
	logger *zap.Logger
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB, logger *zap.Logger) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryManager{db: db, logger: logger.Named("recovery")}
}

const (
	openTasks     = `status IN ('pending', 'assigned', 'in_progress')`
	openWorkflows = `status IN ('pending', 'in_progress')`
	liveAgents    = `removed_at IS NULL AND status != 'offline'`
)

// CheckForInterrupted counts tasks, workflows and agents that a previous
// run left open.
func (rm *RecoveryManager) CheckForInterrupted() (Interrupted, error) {
	var info Interrupted
	counts := []struct {
		dest  *int
		query string
	}{
		{&info.Tasks, `SELECT COUNT(*) FROM tasks WHERE ` + openTasks},
		{&info.Workflows, `SELECT COUNT(*) FROM workflows WHERE ` + openWorkflows},
		{&info.Agents, `SELECT COUNT(*) FROM agents WHERE ` + liveAgents},
	}
	for _, c := range counts {
		if err := rm.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return Interrupted{}, fmt.Errorf("check interrupted: %w", err)
		}
	}
	return info, nil
}

// Clean marks open tasks and workflows failed with InterruptedReason and
// live agents offline, in one transaction. Returns what was closed.
func (rm *RecoveryManager) Clean(now time.Time) (Interrupted, error) {
	var info Interrupted
	ts := formatTime(now)

	err := rm.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE tasks SET status = 'failed', error = ?, completed_at = ? WHERE `+openTasks,
			InterruptedReason, ts)
		if err != nil {
			return fmt.Errorf("fail open tasks: %w", err)
		}
		info.Tasks = affected(res)

		res, err = tx.Exec(`UPDATE workflows SET status = 'failed', error = ?, updated_at = ?, completed_at = ? WHERE `+openWorkflows,
			InterruptedReason, ts, ts)
		if err != nil {
			return fmt.Errorf("fail open workflows: %w", err)
		}
		info.Workflows = affected(res)

		res, err = tx.Exec(`UPDATE agents SET status = 'offline' WHERE ` + liveAgents)
		if err != nil {
			return fmt.Errorf("mark agents offline: %w", err)
		}
		info.Agents = affected(res)
		return nil
	})
	if err != nil {
		return Interrupted{}, err
	}

	if !info.Empty() {
		rm.logger.Info("closed out interrupted run",
			zap.Int("tasks", info.Tasks),
			zap.Int("workflows", info.Workflows),
			zap.Int("agents", info.Agents))
	}
	return info, nil
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
