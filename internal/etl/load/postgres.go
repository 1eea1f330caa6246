package load

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxBindParams is PostgreSQL's limit on parameters per statement.
const maxBindParams = 65535

// PostgresDatabase materializes import tables in PostgreSQL.
type PostgresDatabase struct {
	pool *pgxpool.Pool
}

// NewPostgresDatabase wraps pool.
func NewPostgresDatabase(pool *pgxpool.Pool) *PostgresDatabase {
	return &PostgresDatabase{pool: pool}
}

// Materialize creates the table and inserts rows in a single transaction.
func (d *PostgresDatabase) Materialize(ctx context.Context, table Table, rows [][]*string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if table.Replace {
		if _, err := tx.Exec(ctx, DropTableSQL(table.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", table.Name, err)
		}
	}
	if _, err := tx.Exec(ctx, CreateTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	if len(table.Columns) > 0 {
		perStmt := maxBindParams / len(table.Columns)
		for start := 0; start < len(rows); start += perStmt {
			end := min(start+perStmt, len(rows))
			stmt, args := InsertSQL(table, rows[start:end])
			if _, err := tx.Exec(ctx, stmt, args...); err != nil {
				return fmt.Errorf("insert into %s: %w", table.Name, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (d *PostgresDatabase) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// CountRows reports whether table exists in the current schema and its row count.
func (d *PostgresDatabase) CountRows(ctx context.Context, table string) (bool, int64, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, 0, fmt.Errorf("lookup table %s: %w", table, err)
	}
	if !exists {
		return false, 0, nil
	}
	var n int64
	err = d.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return true, 0, fmt.Errorf("count %s: %w", table, err)
	}
	return true, n, nil
}

// DropTable removes table if it exists.
func (d *PostgresDatabase) DropTable(ctx context.Context, table string) error {
	if _, err := d.pool.Exec(ctx, DropTableSQL(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// CreateTableSQL renders the DDL for an import table.
func CreateTableSQL(table Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgx.Identifier{table.Name}.Sanitize())
	b.WriteString(" (\n")
	for _, col := range table.Columns {
		b.WriteString("\t")
		b.WriteString(pgx.Identifier{col}.Sanitize())
		b.WriteString(" TEXT,\n")
	}
	b.WriteString("\tid SERIAL PRIMARY KEY,\n")
	b.WriteString("\tcreated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP\n)")
	return b.String()
}

// DropTableSQL renders DROP TABLE IF EXISTS for table.
func DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + pgx.Identifier{table}.Sanitize()
}

// InsertSQL renders a multi-row INSERT for rows and returns its arguments.
func InsertSQL(table Table, rows [][]*string) (string, []any) {
	cols := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = pgx.Identifier{col}.Sanitize()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		pgx.Identifier{table.Name}.Sanitize(), strings.Join(cols, ", "))
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, row[j])
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}
	return b.String(), args
}
