package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// AgentRecord is an agent snapshot plus audit bookkeeping.
type AgentRecord struct {
	models.Agent
	// RemovedAt is set once the agent unregisters.
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// encodeJSON marshals v for a TEXT column; nil maps and slices become NULL
// when nullable is set.
func encodeJSON(v any, nullable bool) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if x == nil && nullable {
			return nil, nil
		}
	case json.RawMessage:
		if len(x) == 0 {
			return nil, nil
		}
		return string(x), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

// Task operations

const taskColumns = `id, name, description, type, priority, status, required_capabilities,
	dependencies, assigned_agent_id, result, error, context, workflow_id, attempts,
	reassignments, created_at, started_at, completed_at`

// SaveTask inserts or replaces a task snapshot.
func (db *DB) SaveTask(t *models.Task) error {
	caps, err := encodeJSON(nonNil(t.RequiredCapabilities), false)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	deps, err := encodeJSON(nonNil(t.Dependencies), false)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	result, _ := encodeJSON(t.Result, true)
	taskCtx, err := encodeJSON(t.Context, true)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			type = excluded.type,
			priority = excluded.priority,
			status = excluded.status,
			required_capabilities = excluded.required_capabilities,
			dependencies = excluded.dependencies,
			assigned_agent_id = excluded.assigned_agent_id,
			result = excluded.result,
			error = excluded.error,
			context = excluded.context,
			workflow_id = excluded.workflow_id,
			attempts = excluded.attempts,
			reassignments = excluded.reassignments,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, t.ID, t.Name, t.Description, t.Type, string(t.Priority), string(t.Status), caps,
		deps, t.AssignedAgentID, result, t.Error, taskCtx, t.WorkflowID, t.Attempts,
		t.Reassignments, formatTime(t.CreatedAt), formatNullableTime(t.StartedAt),
		formatNullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func scanTask(s scanner) (*models.Task, error) {
	var t models.Task
	var description, typ, agentID, result, errMsg, taskCtx, workflowID sql.NullString
	var caps, deps sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := s.Scan(&t.ID, &t.Name, &description, &typ, &t.Priority, &t.Status, &caps,
		&deps, &agentID, &result, &errMsg, &taskCtx, &workflowID, &t.Attempts,
		&t.Reassignments, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Type = typ.String
	t.AssignedAgentID = agentID.String
	t.Error = errMsg.String
	t.WorkflowID = workflowID.String
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}
	if err := decodeJSON(caps, &t.RequiredCapabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if err := decodeJSON(deps, &t.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	if err := decodeJSON(taskCtx, &t.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// GetTask retrieves a task by ID. Returns nil, nil when absent.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks lists tasks oldest first, optionally filtered by status.
func (db *DB) ListTasks(status *models.TaskStatus) ([]*models.Task, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id`, string(*status))
	} else {
		rows, err = db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at, id`)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTasksByWorkflow lists a workflow's member tasks oldest first.
func (db *DB) ListTasksByWorkflow(workflowID string) ([]*models.Task, error) {
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ? ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasksByStatus returns the number of recorded tasks per status.
func (db *DB) CountTasksByStatus() (map[models.TaskStatus]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Workflow operations

const workflowColumns = `id, name, status, current_step, total_steps, task_ids, context,
	error, created_at, updated_at, completed_at`

// SaveWorkflow inserts or replaces a workflow snapshot.
func (db *DB) SaveWorkflow(w *models.Workflow) error {
	taskIDs, err := encodeJSON(nonNil(w.TaskIDs), false)
	if err != nil {
		return fmt.Errorf("encode task ids: %w", err)
	}
	wfCtx, err := encodeJSON(w.Context, true)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			current_step = excluded.current_step,
			total_steps = excluded.total_steps,
			task_ids = excluded.task_ids,
			context = excluded.context,
			error = excluded.error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`, w.ID, w.Name, string(w.Status), w.CurrentStep, w.TotalSteps, taskIDs, wfCtx,
		w.Error, formatTime(w.CreatedAt), formatTime(w.UpdatedAt), formatNullableTime(w.CompletedAt))
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

func scanWorkflow(s scanner) (*models.Workflow, error) {
	var w models.Workflow
	var taskIDs, wfCtx, errMsg sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := s.Scan(&w.ID, &w.Name, &w.Status, &w.CurrentStep, &w.TotalSteps, &taskIDs,
		&wfCtx, &errMsg, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	w.Error = errMsg.String
	if err := decodeJSON(taskIDs, &w.TaskIDs); err != nil {
		return nil, fmt.Errorf("decode task ids: %w", err)
	}
	if err := decodeJSON(wfCtx, &w.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	w.CreatedAt, _ = parseTime(createdAt)
	w.UpdatedAt, _ = parseTime(updatedAt)
	w.CompletedAt = parseNullableTime(completedAt)
	return &w, nil
}

// GetWorkflow retrieves a workflow by ID. Returns nil, nil when absent.
func (db *DB) GetWorkflow(id string) (*models.Workflow, error) {
	row := db.QueryRow(`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return w, nil
}

// ListWorkflows lists workflows oldest first, optionally filtered by status.
func (db *DB) ListWorkflows(status *models.WorkflowStatus) ([]*models.Workflow, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`SELECT `+workflowColumns+` FROM workflows WHERE status = ? ORDER BY created_at, id`, string(*status))
	} else {
		rows, err = db.Query(`SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at, id`)
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// Agent operations

const agentColumns = `id, name, type, capabilities, status, max_concurrent_tasks,
	current_tasks, version, last_heartbeat, registered_at, removed_at`

// SaveAgent inserts or replaces an agent snapshot and clears RemovedAt,
// since a saved agent is registered again.
func (db *DB) SaveAgent(a *models.Agent) error {
	caps, err := encodeJSON(nonNil(a.Capabilities), false)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	var heartbeat any
	if !a.LastHeartbeat.IsZero() {
		heartbeat = formatTime(a.LastHeartbeat)
	}

	_, err = db.Exec(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			capabilities = excluded.capabilities,
			status = excluded.status,
			max_concurrent_tasks = excluded.max_concurrent_tasks,
			current_tasks = excluded.current_tasks,
			version = excluded.version,
			last_heartbeat = excluded.last_heartbeat,
			registered_at = excluded.registered_at,
			removed_at = NULL
	`, a.ID, a.Name, string(a.Type), caps, string(a.Status), a.MaxConcurrentTasks,
		a.CurrentTasks, a.Version, heartbeat, formatTime(a.RegisteredAt))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// MarkAgentRemoved stamps RemovedAt on an agent row. The row is kept.
func (db *DB) MarkAgentRemoved(id string, at time.Time) error {
	_, err := db.Exec(`UPDATE agents SET removed_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark agent removed: %w", err)
	}
	return nil
}

func scanAgent(s scanner) (*AgentRecord, error) {
	var a AgentRecord
	var caps, version, heartbeat, removedAt sql.NullString
	var registeredAt string

	err := s.Scan(&a.ID, &a.Name, &a.Type, &caps, &a.Status, &a.MaxConcurrentTasks,
		&a.CurrentTasks, &version, &heartbeat, &registeredAt, &removedAt)
	if err != nil {
		return nil, err
	}
	a.Version = version.String
	if err := decodeJSON(caps, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if hb := parseNullableTime(heartbeat); hb != nil {
		a.LastHeartbeat = *hb
	}
	a.RegisteredAt, _ = parseTime(registeredAt)
	a.RemovedAt = parseNullableTime(removedAt)
	return &a, nil
}

// GetAgent retrieves an agent by ID. Returns nil, nil when absent.
func (db *DB) GetAgent(id string) (*AgentRecord, error) {
	row := db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents lists agents by ID. Removed agents are included only when
// includeRemoved is set.
func (db *DB) ListAgents(includeRemoved bool) ([]*AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if !includeRemoved {
		query += ` WHERE removed_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
