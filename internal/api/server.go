// Package api exposes the administrative HTTP endpoints of the import queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/CatalogImport/internal/config"
	"github.com/dharsanguruparan/CatalogImport/internal/metrics"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/pipeline"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// Catalog resolves the dataset and the requester of a new import.
type Catalog interface {
	Dataset(ctx context.Context, id string) (*model.Dataset, error)
	User(ctx context.Context, id string) (*model.User, error)
}

// Pipeline is the part of pipeline.Manager the API drives.
type Pipeline interface {
	ProcessAllPending(ctx context.Context) (succeeded, failed int, err error)
	PipelineStatus(ctx context.Context) (pipeline.Status, error)
	CleanupOldImports(ctx context.Context, days int) (int64, error)
	Diagnose(ctx context.Context, id string) (pipeline.Report, error)
}

// Deps lists the collaborators of a Server.
type Deps struct {
	Queue    *queue.Service
	Catalog  Catalog
	Pipeline Pipeline
	// Trigger hands queue processing to the worker. When nil, POST
	// /pipeline/start drains the queue within the request.
	Trigger func(ctx context.Context) error
	// Ready checks run on /readyz.
	Ready  map[string]func(ctx context.Context) error
	Logger *slog.Logger
}

const statusKey = "pipeline"

// Server exposes HTTP endpoints for queue administration.
type Server struct {
	cfg      *config.Config
	queue    *queue.Service
	catalog  Catalog
	pipeline Pipeline
	trigger  func(ctx context.Context) error
	ready    map[string]func(ctx context.Context) error
	status   *expirable.LRU[string, pipeline.Status]
	logger   *slog.Logger
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		queue:    d.Queue,
		catalog:  d.Catalog,
		pipeline: d.Pipeline,
		trigger:  d.Trigger,
		ready:    d.Ready,
		logger:   d.Logger,
	}
	// A zero TTL disables the cache; expirable would otherwise never expire.
	if cfg.StatusCacheTTL > 0 {
		s.status = expirable.NewLRU[string, pipeline.Status](1, nil, cfg.StatusCacheTTL)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware, s.loggingMiddleware, metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/datasets/{datasetID}/imports", s.handleEnqueue)
	r.Route("/imports", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/cancel", s.handleCancel)
			r.Post("/retry", s.handleRetry)
			r.Post("/diagnose", s.handleDiagnose)
		})
	})
	r.Route("/pipeline", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/cleanup", s.handleCleanup)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", slog.String("addr", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", slog.String("error", err.Error()))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondErr maps domain errors to status codes.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrInvalidPriority):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrInvalidTransition),
		errors.Is(err, queue.ErrAlreadyQueued),
		errors.Is(err, queue.ErrAlreadyImported):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-User-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
