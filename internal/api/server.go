// Package api exposes the HTTP interface for the extraction service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/domainstats"
	"github.com/hbarton/webharvest/internal/extract"
	"github.com/hbarton/webharvest/internal/scrape"
	"github.com/hbarton/webharvest/internal/service"
)

// Config carries the HTTP-facing settings.
type Config struct {
	AuthEnabled bool
	APIKey      string
}

// Server wires HTTP handlers to the service layer.
type Server struct {
	router    chi.Router
	svc       *service.Service
	fetcher   scrape.Fetcher
	extractor *extract.Extractor
	stats     *domainstats.Registry
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. fetcher serves
// the selector test endpoint; stats may be nil.
func NewServer(
	svc *service.Service,
	fetcher scrape.Fetcher,
	extractor *extract.Extractor,
	stats *domainstats.Registry,
	logger *zap.Logger,
	cfg Config,
) *Server {
	s := &Server{
		svc:       svc,
		fetcher:   fetcher,
		extractor: extractor,
		stats:     stats,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey, logger))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Get("/runs", s.listRuns)
				r.Post("/run", s.triggerRun)
			})
		})
		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/cancel", s.cancelRun)
		})
		r.Post("/selectors/test", s.testSelectors)
		r.Get("/domains", s.domainStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type createJobRequest struct {
	Name      string           `json:"name"`
	Status    scrape.JobStatus `json:"status,omitempty"`
	Config    scrape.JobConfig `json:"config"`
	Scheduled bool             `json:"scheduled,omitempty"`
	Schedule  scrape.Schedule  `json:"schedule,omitempty"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(s.logger, w, http.StatusBadRequest, "job name is required")
		return
	}
	switch req.Status {
	case "", scrape.JobStatusActive, scrape.JobStatusPaused, scrape.JobStatusDraft:
	default:
		writeError(s.logger, w, http.StatusBadRequest, "unknown job status")
		return
	}

	job, err := s.svc.CreateJob(r.Context(), scrape.Job{
		Name:      req.Name,
		Status:    req.Status,
		Config:    req.Config,
		Scheduled: req.Scheduled,
		Schedule:  req.Schedule,
	})
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteJob(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		s.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.svc.GetJob(r.Context(), jobID); err != nil {
		s.writeLookupError(w, err)
		return
	}
	runs, err := s.svc.ListRuns(r.Context(), jobID)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	runID, err := s.svc.RunNow(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotRunnable) {
			writeError(s.logger, w, http.StatusConflict, err.Error())
			return
		}
		s.writeLookupError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, run)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.svc.CancelRun(r.Context(), runID); err != nil {
		if errors.Is(err, service.ErrRunNotCancellable) {
			writeError(s.logger, w, http.StatusConflict, err.Error())
			return
		}
		s.writeLookupError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"run_id": runID, "status": "cancelling"})
}

type selectorTestRequest struct {
	URL    string        `json:"url"`
	Schema scrape.Schema `json:"schema"`
}

// testSelectors fetches one page and returns what the schema would extract,
// without creating a job or persisting anything.
func (s *Server) testSelectors(w http.ResponseWriter, r *http.Request) {
	var req selectorTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url is required")
		return
	}
	if err := req.Schema.Validate(); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		writeError(s.logger, w, http.StatusBadGateway, err.Error())
		return
	}
	baseURL := resp.URL
	if baseURL == "" {
		baseURL = req.URL
	}
	records, err := s.extractor.Extract(resp.Body, req.Schema, baseURL)
	if err != nil {
		writeError(s.logger, w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"url":         req.URL,
		"status_code": resp.StatusCode,
		"records":     records,
	})
}

func (s *Server) domainStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeJSON(s.logger, w, http.StatusOK, map[string]any{"domains": []any{}})
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"domains": s.stats.Snapshot()})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, scrape.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, err.Error())
		return
	}
	writeError(s.logger, w, http.StatusInternalServerError, err.Error())
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(logger, w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
