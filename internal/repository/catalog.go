package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

const versionColumns = `id, dataset_id, version_number, description, file_path, object_key,
	file_size, file_url, file_url_description, created_by, created_at, is_current`

// CatalogRepository reads the datasets, versions and users imports refer to.
// The catalog itself is maintained elsewhere; the writers here exist for
// seeding.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository constructs a repository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func scanVersion(row pgx.Row) (*model.DatasetVersion, error) {
	var v model.DatasetVersion
	if err := row.Scan(&v.ID, &v.DatasetID, &v.VersionNumber, &v.Description, &v.FilePath, &v.ObjectKey,
		&v.FileSize, &v.FileURL, &v.FileURLDescription, &v.CreatedBy, &v.CreatedAt, &v.IsCurrent); err != nil {
		return nil, err
	}
	return &v, nil
}

// Dataset returns a dataset by id.
func (r *CatalogRepository) Dataset(ctx context.Context, id string) (*model.Dataset, error) {
	var d model.Dataset
	err := r.pool.QueryRow(ctx, `SELECT id, title FROM datasets WHERE id=$1`, id).Scan(&d.ID, &d.Title)
	if err != nil {
		return nil, notFound(err, "dataset", id)
	}
	return &d, nil
}

// CurrentVersion returns the version flagged current, or nil.
func (r *CatalogRepository) CurrentVersion(ctx context.Context, datasetID string) (*model.DatasetVersion, error) {
	return r.version(ctx, `SELECT `+versionColumns+` FROM dataset_versions
		WHERE dataset_id=$1 AND is_current
		ORDER BY created_at DESC LIMIT 1`, datasetID)
}

// LatestVersion returns the most recently created version, or nil.
func (r *CatalogRepository) LatestVersion(ctx context.Context, datasetID string) (*model.DatasetVersion, error) {
	return r.version(ctx, `SELECT `+versionColumns+` FROM dataset_versions
		WHERE dataset_id=$1
		ORDER BY created_at DESC LIMIT 1`, datasetID)
}

func (r *CatalogRepository) version(ctx context.Context, query, datasetID string) (*model.DatasetVersion, error) {
	v, err := scanVersion(r.pool.QueryRow(ctx, query, datasetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select dataset version: %w", err)
	}
	return v, nil
}

// User returns a user by id.
func (r *CatalogRepository) User(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `SELECT id, username, is_superuser FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.IsSuperuser)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

// PutDataset inserts or renames a dataset.
func (r *CatalogRepository) PutDataset(ctx context.Context, d model.Dataset) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO datasets (id, title) VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title
	`, d.ID, d.Title)
	if err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}
	return nil
}

// PutUser inserts or updates a user.
func (r *CatalogRepository) PutUser(ctx context.Context, u model.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, is_superuser) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username, is_superuser=EXCLUDED.is_superuser
	`, u.ID, u.Username, u.IsSuperuser)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// PutVersion inserts a version. A current version clears the flag on the
// dataset's other versions in the same transaction.
func (r *CatalogRepository) PutVersion(ctx context.Context, v model.DatasetVersion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin version insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if v.IsCurrent {
		if _, err := tx.Exec(ctx, `UPDATE dataset_versions SET is_current=FALSE WHERE dataset_id=$1`, v.DatasetID); err != nil {
			return fmt.Errorf("clear current version: %w", err)
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO dataset_versions (`+versionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,COALESCE($11, NOW()),$12)
	`, v.ID, v.DatasetID, v.VersionNumber, v.Description, v.FilePath, v.ObjectKey,
		v.FileSize, v.FileURL, v.FileURLDescription, nullString(v.CreatedBy), nullTime(v.CreatedAt), v.IsCurrent)
	if err != nil {
		return fmt.Errorf("insert dataset version: %w", err)
	}
	return tx.Commit(ctx)
}
