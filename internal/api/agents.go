package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// listAgents supports ?capability= and ?type= filters; capability wins
// when both are given.
func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	var agents []*models.Agent
	switch q := r.URL.Query(); {
	case q.Get("capability") != "":
		agents = h.agents.FindByCapability(q.Get("capability"))
	case q.Get("type") != "":
		t := models.AgentType(q.Get("type"))
		if !t.Valid() {
			writeError(w, &models.ValidationError{Field: "type", Reason: "unknown agent type " + string(t)})
			return
		}
		agents = h.agents.FindByType(t)
	default:
		agents = h.agents.List()
	}
	if agents == nil {
		agents = []*models.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var a models.Agent
	if err := decode(r, &a, false); err != nil {
		writeError(w, err)
		return
	}
	if err := h.agents.Register(&a); err != nil {
		writeError(w, err)
		return
	}
	stored, ok := h.agents.Get(a.ID)
	if !ok {
		// Unregistered between the two calls.
		writeError(w, fmt.Errorf("%w: %s", errAgentNotFound, a.ID))
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) agentStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.Stats())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.agents.Get(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", errAgentNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) unregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.agents.Unregister(id) {
		writeError(w, fmt.Errorf("%w: %s", errAgentNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.agents.Heartbeat(id) {
		writeError(w, fmt.Errorf("%w: %s", errAgentNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
