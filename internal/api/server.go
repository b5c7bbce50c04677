// Package api exposes the HTTP interface for the orchestration engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/config"
	"github.com/hbkim/storecrawl/internal/metrics"
	"github.com/hbkim/storecrawl/internal/task"
)

// Trigger starts a crawl for one seller.
type Trigger interface {
	TriggerSeller(ctx context.Context, sellerID int64, trigger task.Trigger) (task.Task, error)
}

// TaskReader serves task lookups.
type TaskReader interface {
	Get(ctx context.Context, id string) (task.Task, error)
	ListBySeller(ctx context.Context, sellerID int64, limit int) ([]task.Task, error)
}

// Pinger reports downstream readiness. A nil Pinger means always ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the trigger service and task store.
type Server struct {
	router  chi.Router
	trigger Trigger
	tasks   TaskReader
	pinger  Pinger
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(trigger Trigger, tasks TaskReader, pinger Pinger, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		trigger: trigger,
		tasks:   tasks,
		pinger:  pinger,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawls", s.triggerCrawl)
		r.Get("/tasks/{task_id}", s.getTask)
		r.Get("/sellers/{seller_id}/tasks", s.listSellerTasks)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable", s.logger)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type triggerCrawlRequest struct {
	SellerID int64 `json:"seller_id"`
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	var req triggerCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if req.SellerID <= 0 {
		writeError(w, http.StatusBadRequest, "seller_id must be > 0", s.logger)
		return
	}
	root, err := s.trigger.TriggerSeller(r.Context(), req.SellerID, task.TriggerManual)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":   root.ID,
		"seller_id": root.SellerID,
		"status":    root.Status,
	}, s.logger)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	t, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t}, s.logger)
}

func (s *Server) listSellerTasks(w http.ResponseWriter, r *http.Request) {
	sellerID, err := strconv.ParseInt(chi.URLParam(r, "seller_id"), 10, 64)
	if err != nil || sellerID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid seller id", s.logger)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", s.logger)
			return
		}
		limit = parsed
	}
	tasks, err := s.tasks.ListBySeller(r.Context(), sellerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
