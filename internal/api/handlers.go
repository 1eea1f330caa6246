package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/pipeline"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// userHeader carries the requester id set by the authenticating proxy.
const userHeader = "X-User-ID"

// importView is a queue entry with its derived fields.
type importView struct {
	*model.ImportRequest
	Position          int      `json:"position,omitempty"`
	ProcessingSeconds *float64 `json:"processingSeconds,omitempty"`
}

func (s *Server) view(ctx context.Context, req *model.ImportRequest, withPosition bool) (importView, error) {
	v := importView{ImportRequest: req}
	if d, ok := req.ProcessingTime(s.queue.Now()); ok {
		secs := d.Seconds()
		v.ProcessingSeconds = &secs
	}
	if withPosition && req.Status == model.StatusPending {
		pos, err := s.queue.Position(ctx, req.ID)
		if err != nil {
			return v, err
		}
		v.Position = pos
	}
	return v, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	checks := make(map[string]string, len(s.ready))
	status := http.StatusOK
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	respondJSON(w, status, checks)
}

type enqueueRequest struct {
	Priority model.Priority `json:"priority"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get(userHeader)
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}
	var body enqueueRequest
	// The body is optional. io.LimitReader caps how much the decoder will read,
	// and io.EOF means the client sent no body at all.
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.catalog.User(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		s.respondErr(w, r, err)
		return
	}
	datasetID := chi.URLParam(r, "datasetID")
	if _, err := s.catalog.Dataset(ctx, datasetID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	req, err := s.queue.Enqueue(ctx, datasetID, *user, body.Priority)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.invalidateStatus()
	v, err := s.view(ctx, req, true)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, v)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var filter queue.ListFilter
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := model.QueueStatus(strings.TrimSpace(part))
			if !status.Valid() {
				respondError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("recent"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "recent must be a positive duration such as 24h")
			return
		}
		filter.Since = s.queue.Now().Add(-d)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	reqs, err := s.queue.List(ctx, filter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	views := make([]importView, 0, len(reqs))
	for _, req := range reqs {
		v, err := s.view(ctx, req, false)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		views = append(views, v)
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.queue.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	v, err := s.view(ctx, req, true)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.queue.Cancel)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.queue.Retry)
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*model.ImportRequest, error)) {
	ctx := r.Context()
	req, err := fn(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.invalidateStatus()
	v, err := s.view(ctx, req, true)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.Diagnose(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.invalidateStatus()
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status != nil {
		if st, ok := s.status.Get(statusKey); ok {
			respondJSON(w, http.StatusOK, st)
			return
		}
	}
	st, err := s.pipeline.PipelineStatus(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if s.status != nil {
		s.status.Add(statusKey, st)
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.trigger != nil {
		if err := s.trigger(ctx); err != nil {
			s.respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	succeeded, failed, err := s.pipeline.ProcessAllPending(ctx)
	s.invalidateStatus()
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"processed": succeeded, "failed": failed})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.RetentionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	n, err := s.pipeline.CleanupOldImports(r.Context(), days)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.invalidateStatus()
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) invalidateStatus() {
	if s.status != nil {
		s.status.Purge()
	}
}

var _ Pipeline = (*pipeline.Manager)(nil)
