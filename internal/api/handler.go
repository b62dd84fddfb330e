// Package api exposes the coordinator over HTTP: callers submit tasks and
// workflows, agents register and heartbeat, and agents report outcomes
// through the task callback routes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/internal/registry"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	coord    *orchestrator.Coordinator
	agents   *registry.Registry
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHandler creates a new API handler. gatherer may be nil, in which
// case /metrics is not served.
func NewHandler(coord *orchestrator.Coordinator, agents *registry.Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		coord:    coord,
		agents:   agents,
		gatherer: gatherer,
		logger:   logger.Named("api"),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.stats)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.listAgents)
			r.Post("/", h.registerAgent)
			r.Get("/stats", h.agentStats)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getAgent)
				r.Delete("/", h.unregisterAgent)
				r.Post("/heartbeat", h.heartbeat)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.listTasks)
			r.Post("/", h.createTask)
			r.Get("/active", h.listActiveTasks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getTask)
				r.Post("/start", h.startTask)
				r.Post("/complete", h.completeTask)
				r.Post("/fail", h.failTask)
			})
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", h.listWorkflows)
			r.Post("/", h.createWorkflow)
			r.Get("/{id}", h.getWorkflow)
		})
	})

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Statistics())
}
