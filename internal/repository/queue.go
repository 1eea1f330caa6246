package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// claimLockKey is the advisory lock taken while claiming the next entry.
const claimLockKey int64 = 0x696d706f7274 // "import"

const (
	activePairIndex    = "idx_import_queue_active_pair"
	oneProcessingIndex = "idx_import_queue_one_processing"
)

const requestColumns = `id, dataset_id, requested_by, priority, status, created_at,
	started_at, completed_at, error_message, import_result_id`

const dequeueOrder = `CASE priority
		WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 WHEN 'low' THEN 3 ELSE 4
	END, created_at, seq`

// QueueRepository stores import queue entries in PostgreSQL.
type QueueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository constructs a repository.
func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

var _ queue.Store = (*QueueRepository)(nil)

func scanRequest(row pgx.Row) (*model.ImportRequest, error) {
	var (
		req              model.ImportRequest
		priority, status string
	)
	if err := row.Scan(&req.ID, &req.DatasetID, &req.RequestedBy, &priority, &status, &req.CreatedAt,
		&req.StartedAt, &req.CompletedAt, &req.ErrorMessage, &req.ImportResultID); err != nil {
		return nil, err
	}
	req.Priority = model.Priority(priority)
	req.Status = model.QueueStatus(status)
	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]*model.ImportRequest, error) {
	defer rows.Close()
	var out []*model.ImportRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Create inserts a queue entry.
func (r *QueueRepository) Create(ctx context.Context, req *model.ImportRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO import_queue (id, dataset_id, requested_by, priority, status, created_at,
			started_at, completed_at, error_message, import_result_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, req.ID, req.DatasetID, req.RequestedBy, string(req.Priority), string(req.Status), req.CreatedAt,
		req.StartedAt, req.CompletedAt, req.ErrorMessage, nullString(req.ImportResultID))
	if err != nil {
		if violates(err, activePairIndex) {
			return fmt.Errorf("%w: dataset %s", queue.ErrAlreadyQueued, req.DatasetID)
		}
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

// Get returns an entry by id.
func (r *QueueRepository) Get(ctx context.Context, id string) (*model.ImportRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM import_queue WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, "import", id)
	}
	return req, nil
}

// Update writes the mutable fields of req if the stored status is still from.
func (r *QueueRepository) Update(ctx context.Context, req *model.ImportRequest, from model.QueueStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE import_queue
		SET status=$2,
			priority=$3,
			started_at=$4,
			completed_at=$5,
			error_message=$6,
			import_result_id=$7
		WHERE id=$1 AND status=$8
	`, req.ID, string(req.Status), string(req.Priority), req.StartedAt, req.CompletedAt,
		req.ErrorMessage, nullString(req.ImportResultID), string(from))
	if err != nil {
		if violates(err, oneProcessingIndex) || violates(err, activePairIndex) {
			return fmt.Errorf("%w: import %s conflicts with an active entry", queue.ErrInvalidTransition, req.ID)
		}
		return fmt.Errorf("update import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: import %s is %s", queue.ErrInvalidTransition, req.ID, current.Status)
	}
	return nil
}

// ClaimNext moves the next pending entry to processing. The advisory lock
// serializes claimers; SKIP LOCKED keeps a claimer from waiting on rows
// another transaction holds.
func (r *QueueRepository) ClaimNext(ctx context.Context, now time.Time) (*model.ImportRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, claimLockKey).Scan(&locked); err != nil {
		return nil, fmt.Errorf("claim lock: %w", err)
	}
	if !locked {
		return nil, nil
	}
	var busy bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM import_queue WHERE status='processing')`).Scan(&busy); err != nil {
		return nil, fmt.Errorf("check processing: %w", err)
	}
	if busy {
		return nil, nil
	}
	req, err := scanRequest(tx.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM import_queue
		WHERE status='pending'
		ORDER BY `+dequeueOrder+`
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next import: %w", err)
	}
	started := now.UTC()
	if _, err := tx.Exec(ctx, `UPDATE import_queue SET status='processing', started_at=$2 WHERE id=$1`, req.ID, started); err != nil {
		return nil, fmt.Errorf("claim import: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	req.Status = model.StatusProcessing
	req.StartedAt = &started
	return req, nil
}

// Pending returns pending entries in dequeue order.
func (r *QueueRepository) Pending(ctx context.Context, limit int) ([]*model.ImportRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM import_queue WHERE status='pending' ORDER BY ` + dequeueOrder
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending imports: %w", err)
	}
	return collectRequests(rows)
}

// Processing returns the entry currently processing, or nil.
func (r *QueueRepository) Processing(ctx context.Context) (*model.ImportRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM import_queue WHERE status='processing' LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select processing import: %w", err)
	}
	return req, nil
}

// HasActive reports whether the pair has a pending or processing entry.
func (r *QueueRepository) HasActive(ctx context.Context, datasetID, requesterID string) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM import_queue
			WHERE dataset_id=$1 AND requested_by=$2 AND status IN ('pending','processing')
		)
	`, datasetID, requesterID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active import: %w", err)
	}
	return active, nil
}

// CountByStatus counts entries per status.
func (r *QueueRepository) CountByStatus(ctx context.Context) (map[model.QueueStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM import_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count imports: %w", err)
	}
	defer rows.Close()
	counts := make(map[model.QueueStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan import count: %w", err)
		}
		counts[model.QueueStatus(status)] = n
	}
	return counts, rows.Err()
}

// List returns entries matching filter, newest first.
func (r *QueueRepository) List(ctx context.Context, filter queue.ListFilter) ([]*model.ImportRequest, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `SELECT ` + requestColumns + ` FROM import_queue`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, seq DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	return collectRequests(rows)
}

// LinkResult points a queue entry at its import result.
func (r *QueueRepository) LinkResult(ctx context.Context, requestID, resultID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE import_queue SET import_result_id=$2 WHERE id=$1`, requestID, resultID)
	if err != nil {
		return fmt.Errorf("link import result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import %s: %w", requestID, model.ErrNotFound)
	}
	return nil
}

// DeleteCompletedBefore deletes completed entries that finished before cutoff.
func (r *QueueRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM import_queue WHERE status='completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old imports: %w", err)
	}
	return tag.RowsAffected(), nil
}
