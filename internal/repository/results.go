package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

const resultColumns = `id, dataset_id, imported_by, status, import_database_table,
	records_imported, error_message, created_at, import_completed_at`

// ResultRepository stores import results.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository constructs a repository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

func scanResult(row pgx.Row) (*model.ImportResult, error) {
	var (
		res    model.ImportResult
		status string
	)
	if err := row.Scan(&res.ID, &res.DatasetID, &res.ImportedBy, &status, &res.ImportDatabaseTable,
		&res.RecordsImported, &res.ErrorMessage, &res.CreatedAt, &res.ImportCompletedAt); err != nil {
		return nil, err
	}
	res.Status = model.ResultStatus(status)
	return &res, nil
}

// CreateResult inserts an import result.
func (r *ResultRepository) CreateResult(ctx context.Context, res *model.ImportResult) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO import_results (id, dataset_id, imported_by, status, import_database_table,
			records_imported, error_message, created_at, import_completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, res.ID, res.DatasetID, res.ImportedBy, string(res.Status), nullString(res.ImportDatabaseTable),
		res.RecordsImported, res.ErrorMessage, res.CreatedAt, res.ImportCompletedAt)
	if err != nil {
		return fmt.Errorf("insert import result: %w", err)
	}
	return nil
}

// GetResult returns an import result by id.
func (r *ResultRepository) GetResult(ctx context.Context, id string) (*model.ImportResult, error) {
	res, err := scanResult(r.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM import_results WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, "import result", id)
	}
	return res, nil
}

// UpdateResult writes the mutable fields of an import result.
func (r *ResultRepository) UpdateResult(ctx context.Context, res *model.ImportResult) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE import_results
		SET status=$2,
			import_database_table=$3,
			records_imported=$4,
			error_message=$5,
			import_completed_at=$6
		WHERE id=$1
	`, res.ID, string(res.Status), nullString(res.ImportDatabaseTable), res.RecordsImported,
		res.ErrorMessage, res.ImportCompletedAt)
	if err != nil {
		return fmt.Errorf("update import result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import result %s: %w", res.ID, model.ErrNotFound)
	}
	return nil
}

// HasBlockingResult reports whether the dataset has a completed or importing
// result.
func (r *ResultRepository) HasBlockingResult(ctx context.Context, datasetID string) (bool, error) {
	var blocked bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM import_results
			WHERE dataset_id=$1 AND status IN ('completed','importing')
		)
	`, datasetID).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check import results: %w", err)
	}
	return blocked, nil
}
