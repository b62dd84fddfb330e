package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// outcomeRequest is the body of the agent callback routes.
type outcomeRequest struct {
	AgentID string          `json:"agent_id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var spec models.TaskSpec
	if err := decode(r, &spec, false); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.coord.CreateTask(spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// listTasks accepts ?status=a,b to filter.
func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []models.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.TaskStatus(strings.TrimSpace(s))
			if !status.Valid() {
				writeError(w, &models.ValidationError{Field: "status", Reason: "unknown task status " + string(status)})
				return
			}
			statuses = append(statuses, status)
		}
	}
	writeJSON(w, http.StatusOK, nonNil(h.coord.ListTasks(statuses...)))
}

func (h *Handler) listActiveTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.coord.ListActiveTasks()))
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.coord.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) startTask(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, func(id string, req outcomeRequest) error {
		return h.coord.OnTaskStarted(id, req.AgentID)
	})
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, func(id string, req outcomeRequest) error {
		return h.coord.OnTaskCompleted(id, req.AgentID, req.Result)
	})
}

func (h *Handler) failTask(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, func(id string, req outcomeRequest) error {
		return h.coord.OnTaskFailed(id, req.AgentID, req.Error)
	})
}

// report decodes an agent callback, applies it, and replies with the
// task as it stands afterwards.
func (h *Handler) report(w http.ResponseWriter, r *http.Request, apply func(id string, req outcomeRequest) error) {
	id := chi.URLParam(r, "id")
	var req outcomeRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	if err := apply(id, req); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.coord.GetTask(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var spec models.WorkflowSpec
	if err := decode(r, &spec, false); err != nil {
		writeError(w, err)
		return
	}
	wf, err := h.coord.CreateWorkflow(spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.coord.ListWorkflows()))
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.coord.GetWorkflow(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
