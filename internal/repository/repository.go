// Package repository wraps the SQL used by the API, the worker and the CLI
// against the catalog database.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

const uniqueViolation = "23505"

// notFound maps pgx.ErrNoRows to model.ErrNotFound.
func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}
	return fmt.Errorf("select %s: %w", kind, err)
}

func violates(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
