// Package storage contains in-memory implementations of the queue, result and
// catalog stores plus an in-memory import database. The unit tests of the
// queue, pipeline, API and CLI run the whole service on them without
// PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// MemoryStore keeps queue entries, import results and the catalog in maps
// guarded by one RWMutex. Go maps are not safe for concurrent use, so readers
// take RLock (many at once) and writers take Lock (exclusive). Entries are
// copied on the way in and out so callers never share a pointer with the map.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	requests map[string]*entry
	results  map[string]*model.ImportResult
	datasets map[string]*model.Dataset
	versions map[string][]*model.DatasetVersion
	users    map[string]*model.User
}

type entry struct {
	req *model.ImportRequest
	seq int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*entry),
		results:  make(map[string]*model.ImportResult),
		datasets: make(map[string]*model.Dataset),
		versions: make(map[string][]*model.DatasetVersion),
		users:    make(map[string]*model.User),
	}
}

func copyRequest(req *model.ImportRequest) *model.ImportRequest {
	c := *req
	return &c
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
}

// Create inserts a queue entry.
func (m *MemoryStore) Create(_ context.Context, req *model.ImportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Status == model.StatusPending || req.Status == model.StatusProcessing {
		if m.hasActive(req.DatasetID, req.RequestedBy) {
			return fmt.Errorf("%w: dataset %s", queue.ErrAlreadyQueued, req.DatasetID)
		}
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	m.seq++
	m.requests[req.ID] = &entry{req: copyRequest(req), seq: m.seq}
	return nil
}

// Get returns a copy of one entry.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.ImportRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.requests[id]
	if !ok {
		return nil, notFound("import", id)
	}
	return copyRequest(e.req), nil
}

// Update replaces the stored entry if its status is still from.
func (m *MemoryStore) Update(_ context.Context, req *model.ImportRequest, from model.QueueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.requests[req.ID]
	if !ok {
		return notFound("import", req.ID)
	}
	if e.req.Status != from {
		return fmt.Errorf("%w: import %s is %s", queue.ErrInvalidTransition, req.ID, e.req.Status)
	}
	e.req = copyRequest(req)
	return nil
}

// ClaimNext moves the next pending entry to processing unless one is
// already processing.
func (m *MemoryStore) ClaimNext(_ context.Context, now time.Time) (*model.ImportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.requests {
		if e.req.Status == model.StatusProcessing {
			return nil, nil
		}
	}
	pending := m.pending()
	if len(pending) == 0 {
		return nil, nil
	}
	next := pending[0].req
	next.Status = model.StatusProcessing
	next.StartedAt = &now
	return copyRequest(next), nil
}

func (m *MemoryStore) pending() []*entry {
	var out []*entry
	for _, e := range m.requests {
		if e.req.Status == model.StatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.req.Priority.Rank(), b.req.Priority.Rank(); ra != rb {
			return ra < rb
		}
		if !a.req.CreatedAt.Equal(b.req.CreatedAt) {
			return a.req.CreatedAt.Before(b.req.CreatedAt)
		}
		return a.seq < b.seq
	})
	return out
}

// Pending returns pending entries in dequeue order.
func (m *MemoryStore) Pending(_ context.Context, limit int) ([]*model.ImportRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pending := m.pending()
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*model.ImportRequest, len(pending))
	for i, e := range pending {
		out[i] = copyRequest(e.req)
	}
	return out, nil
}

// Processing returns the entry currently processing, or nil.
func (m *MemoryStore) Processing(_ context.Context) (*model.ImportRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.requests {
		if e.req.Status == model.StatusProcessing {
			return copyRequest(e.req), nil
		}
	}
	return nil, nil
}

// HasActive reports whether the pair has a pending or processing entry.
func (m *MemoryStore) HasActive(_ context.Context, datasetID, requesterID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasActive(datasetID, requesterID), nil
}

func (m *MemoryStore) hasActive(datasetID, requesterID string) bool {
	for _, e := range m.requests {
		r := e.req
		if r.DatasetID == datasetID && r.RequestedBy == requesterID &&
			(r.Status == model.StatusPending || r.Status == model.StatusProcessing) {
			return true
		}
	}
	return false
}

// CountByStatus counts entries per status.
func (m *MemoryStore) CountByStatus(_ context.Context) (map[model.QueueStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[model.QueueStatus]int)
	for _, e := range m.requests {
		counts[e.req.Status]++
	}
	return counts, nil
}

// List returns entries matching filter, newest first.
func (m *MemoryStore) List(_ context.Context, filter queue.ListFilter) ([]*model.ImportRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*entry
	for _, e := range m.requests {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, e.req.Status) {
			continue
		}
		if !filter.Since.IsZero() && e.req.CreatedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.req.CreatedAt.Equal(b.req.CreatedAt) {
			return a.req.CreatedAt.After(b.req.CreatedAt)
		}
		return a.seq > b.seq
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]*model.ImportRequest, len(matched))
	for i, e := range matched {
		out[i] = copyRequest(e.req)
	}
	return out, nil
}

// LinkResult points a queue entry at its import result.
func (m *MemoryStore) LinkResult(_ context.Context, requestID, resultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.requests[requestID]
	if !ok {
		return notFound("import", requestID)
	}
	id := resultID
	e.req.ImportResultID = &id
	return nil
}

// DeleteCompletedBefore deletes completed entries that finished before cutoff.
func (m *MemoryStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.requests {
		r := e.req
		if r.Status == model.StatusCompleted && r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			delete(m.requests, id)
			n++
		}
	}
	return n, nil
}

// CreateResult stores an import result.
func (m *MemoryStore) CreateResult(_ context.Context, result *model.ImportResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	c := *result
	m.results[result.ID] = &c
	return nil
}

// GetResult returns a copy of one import result.
func (m *MemoryStore) GetResult(_ context.Context, id string) (*model.ImportResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return nil, notFound("import result", id)
	}
	c := *r
	return &c, nil
}

// UpdateResult replaces a stored import result.
func (m *MemoryStore) UpdateResult(_ context.Context, result *model.ImportResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[result.ID]; !ok {
		return notFound("import result", result.ID)
	}
	c := *result
	m.results[result.ID] = &c
	return nil
}

// HasBlockingResult reports whether the dataset has a completed or importing
// result.
func (m *MemoryStore) HasBlockingResult(_ context.Context, datasetID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.results {
		if r.DatasetID == datasetID && (r.Status == model.ResultCompleted || r.Status == model.ResultImporting) {
			return true, nil
		}
	}
	return false, nil
}

// PutDataset adds or replaces a catalog dataset.
func (m *MemoryStore) PutDataset(d model.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.ID] = &d
}

// PutVersion adds a dataset version. A current version clears the flag on
// the dataset's other versions.
func (m *MemoryStore) PutVersion(v model.DatasetVersion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.IsCurrent {
		for _, other := range m.versions[v.DatasetID] {
			other.IsCurrent = false
		}
	}
	m.versions[v.DatasetID] = append(m.versions[v.DatasetID], &v)
}

// PutUser adds or replaces a user.
func (m *MemoryStore) PutUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// Dataset returns a catalog dataset.
func (m *MemoryStore) Dataset(_ context.Context, id string) (*model.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.datasets[id]
	if !ok {
		return nil, notFound("dataset", id)
	}
	c := *d
	return &c, nil
}

// CurrentVersion returns the dataset's current version, or nil.
func (m *MemoryStore) CurrentVersion(_ context.Context, datasetID string) (*model.DatasetVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions[datasetID] {
		if v.IsCurrent {
			c := *v
			return &c, nil
		}
	}
	return nil, nil
}

// LatestVersion returns the most recently created version, or nil.
func (m *MemoryStore) LatestVersion(_ context.Context, datasetID string) (*model.DatasetVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.DatasetVersion
	for _, v := range m.versions[datasetID] {
		if latest == nil || !v.CreatedAt.Before(latest.CreatedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

// User returns a user.
func (m *MemoryStore) User(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	c := *u
	return &c, nil
}
