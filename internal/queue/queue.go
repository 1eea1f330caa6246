// Package queue manages import requests: enqueue validation, priority
// ordering, the single-flight claim and the status transitions of an entry.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

// ListFilter narrows List. Zero values mean no restriction.
type ListFilter struct {
	Statuses []model.QueueStatus
	Since    time.Time
	Limit    int
}

// Store persists queue entries.
type Store interface {
	// Create inserts req. It returns ErrAlreadyQueued when the pair already
	// has an active entry.
	Create(ctx context.Context, req *model.ImportRequest) error
	Get(ctx context.Context, id string) (*model.ImportRequest, error)
	// Update writes the mutable fields of req if the stored status still
	// equals from, and returns ErrInvalidTransition otherwise.
	Update(ctx context.Context, req *model.ImportRequest, from model.QueueStatus) error
	// ClaimNext atomically moves the next pending entry to processing. It
	// returns nil when an entry is already processing or none is pending.
	ClaimNext(ctx context.Context, now time.Time) (*model.ImportRequest, error)
	// Pending returns pending entries in dequeue order.
	Pending(ctx context.Context, limit int) ([]*model.ImportRequest, error)
	Processing(ctx context.Context) (*model.ImportRequest, error)
	HasActive(ctx context.Context, datasetID, requesterID string) (bool, error)
	CountByStatus(ctx context.Context) (map[model.QueueStatus]int, error)
	List(ctx context.Context, filter ListFilter) ([]*model.ImportRequest, error)
	LinkResult(ctx context.Context, requestID, resultID string) error
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResultChecker reports whether a dataset already has an import result that
// blocks a new request.
type ResultChecker interface {
	HasBlockingResult(ctx context.Context, datasetID string) (bool, error)
}

// Stats aggregates entries per status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// DefaultRetentionDays is how long completed entries are kept.
const DefaultRetentionDays = 30

// Service wraps a Store with the queue rules.
type Service struct {
	store   Store
	results ResultChecker
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a Service.
func NewService(store Store, results ResultChecker, opts ...Option) *Service {
	s := &Service{
		store:   store,
		results: results,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// DefaultPriority is high for superusers and normal for everyone else.
func DefaultPriority(requester model.User) model.Priority {
	if requester.IsSuperuser {
		return model.PriorityHigh
	}
	return model.PriorityNormal
}

// Enqueue creates a pending request for datasetID on behalf of requester. An
// empty priority picks DefaultPriority.
func (s *Service) Enqueue(ctx context.Context, datasetID string, requester model.User, priority model.Priority) (*model.ImportRequest, error) {
	if priority == "" {
		priority = DefaultPriority(requester)
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	active, err := s.store.HasActive(ctx, datasetID, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("check active imports: %w", err)
	}
	if active {
		return nil, fmt.Errorf("%w: dataset %s", ErrAlreadyQueued, datasetID)
	}
	blocked, err := s.results.HasBlockingResult(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("check import results: %w", err)
	}
	if blocked {
		return nil, fmt.Errorf("%w: dataset %s", ErrAlreadyImported, datasetID)
	}
	req := &model.ImportRequest{
		ID:          uuid.NewString(),
		DatasetID:   datasetID,
		RequestedBy: requester.ID,
		Priority:    priority,
		Status:      model.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("import queued",
		slog.String("import_id", req.ID),
		slog.String("dataset_id", datasetID),
		slog.String("priority", string(priority)),
	)
	return req, nil
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id string) (*model.ImportRequest, error) {
	return s.store.Get(ctx, id)
}

// Next returns the entry that would be processed next without claiming it.
// It returns nil while any entry is processing.
func (s *Service) Next(ctx context.Context) (*model.ImportRequest, error) {
	busy, err := s.IsProcessing(ctx)
	if err != nil || busy {
		return nil, err
	}
	pending, err := s.store.Pending(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending[0], nil
}

// Claim moves the next pending entry to processing. It returns nil when
// another entry is processing or nothing is pending.
func (s *Service) Claim(ctx context.Context) (*model.ImportRequest, error) {
	req, err := s.store.ClaimNext(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("claim next import: %w", err)
	}
	return req, nil
}

// IsProcessing reports whether any entry is processing.
func (s *Service) IsProcessing(ctx context.Context) (bool, error) {
	req, err := s.store.Processing(ctx)
	if err != nil {
		return false, err
	}
	return req != nil, nil
}

// Processing returns the entry currently processing, or nil.
func (s *Service) Processing(ctx context.Context) (*model.ImportRequest, error) {
	return s.store.Processing(ctx)
}

// MarkProcessing starts a pending entry.
func (s *Service) MarkProcessing(ctx context.Context, req *model.ImportRequest) error {
	return s.apply(ctx, req, func(r *model.ImportRequest) error { return Start(r, s.now()) })
}

// MarkCompleted completes a processing entry.
func (s *Service) MarkCompleted(ctx context.Context, req *model.ImportRequest) error {
	return s.apply(ctx, req, func(r *model.ImportRequest) error { return Complete(r, s.now()) })
}

// MarkFailed fails a processing entry with msg.
func (s *Service) MarkFailed(ctx context.Context, req *model.ImportRequest, msg string) error {
	return s.apply(ctx, req, func(r *model.ImportRequest) error { return Fail(r, msg, s.now()) })
}

// Cancel cancels a pending entry.
func (s *Service) Cancel(ctx context.Context, id string) (*model.ImportRequest, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, req, func(r *model.ImportRequest) error { return Cancel(r, s.now()) }); err != nil {
		return nil, err
	}
	s.logger.Info("import cancelled", slog.String("import_id", id))
	return req, nil
}

// Retry returns a failed entry to pending.
func (s *Service) Retry(ctx context.Context, id string) (*model.ImportRequest, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, req, Retry); err != nil {
		return nil, err
	}
	s.logger.Info("import retried", slog.String("import_id", id))
	return req, nil
}

// Save writes req if the stored status is still from, without checking the
// transition. Diagnosis uses it for repairs outside the state machine.
func (s *Service) Save(ctx context.Context, req *model.ImportRequest, from model.QueueStatus) error {
	return s.store.Update(ctx, req, from)
}

// apply runs fn on a copy of req and persists the result guarded by the
// status req had before. req is only modified when the write succeeds.
func (s *Service) apply(ctx context.Context, req *model.ImportRequest, fn func(*model.ImportRequest) error) error {
	next := *req
	from := req.Status
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.store.Update(ctx, &next, from); err != nil {
		return err
	}
	*req = next
	return nil
}

// Stats counts entries per status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count imports: %w", err)
	}
	st := Stats{
		Pending:    counts[model.StatusPending],
		Processing: counts[model.StatusProcessing],
		Completed:  counts[model.StatusCompleted],
		Failed:     counts[model.StatusFailed],
		Cancelled:  counts[model.StatusCancelled],
	}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// Position returns the 1-based place of a pending entry in dequeue order, or
// 0 when the entry is not pending.
func (s *Service) Position(ctx context.Context, id string) (int, error) {
	pending, err := s.store.Pending(ctx, 0)
	if err != nil {
		return 0, err
	}
	for i, req := range pending {
		if req.ID == id {
			return i + 1, nil
		}
	}
	return 0, nil
}

// Pending returns up to limit pending entries in dequeue order.
func (s *Service) Pending(ctx context.Context, limit int) ([]*model.ImportRequest, error) {
	return s.store.Pending(ctx, limit)
}

// List returns entries matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*model.ImportRequest, error) {
	return s.store.List(ctx, filter)
}

// LinkResult points req at its import outcome.
func (s *Service) LinkResult(ctx context.Context, requestID, resultID string) error {
	return s.store.LinkResult(ctx, requestID, resultID)
}

// Cleanup deletes completed entries that finished more than days ago.
func (s *Service) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	n, err := s.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup imports: %w", err)
	}
	s.logger.Info("old imports cleaned up", slog.Int64("deleted", n), slog.Int("days", days))
	return n, nil
}
