// Package postgres implements the mirror store on a PostgreSQL database
// reached through database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/tabletalk/tabletalk/internal/mirror"
	"github.com/tabletalk/tabletalk/internal/tabular"
)

const (
	// PostgreSQL caps bind parameters at 65535 per statement; the insert
	// batcher stays under that for any column count.
	maxBindParams = 65000

	sampleRows = 5
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ReplaceTable drops and recreates the mirrored table, then loads every
// record in batched inserts. The whole load runs in one transaction so a
// failed upload never leaves a half-filled table behind.
func (s *Store) ReplaceTable(ctx context.Context, table string, columns []mirror.ColumnDef, records [][]string) error {
	if len(columns) == 0 {
		return fmt.Errorf("replace table %q: no columns", table)
	}

	defs := make([]string, len(columns))
	names := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(col.Name), col.Type)
		names[i] = quoteIdent(col.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table))); err != nil {
		return fmt.Errorf("drop table %q: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table %q: %w", table, err)
	}

	batch := maxBindParams / len(columns)
	if batch < 1 {
		batch = 1
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", quoteIdent(table), strings.Join(names, ", "))
	for start := 0; start < len(records); start += batch {
		end := start + batch
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		groups := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*len(columns))
		for ri, record := range chunk {
			marks := make([]string, len(columns))
			for ci, col := range columns {
				marks[ci] = "$" + strconv.Itoa(ri*len(columns)+ci+1)
				args = append(args, bindValue(col.Type, record[ci]))
			}
			groups = append(groups, "("+strings.Join(marks, ", ")+")")
		}
		if _, err := tx.ExecContext(ctx, prefix+strings.Join(groups, ", "), args...); err != nil {
			return fmt.Errorf("insert into %q: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

func (s *Store) UpsertCatalogEntry(ctx context.Context, entry mirror.CatalogEntry) error {
	query := `
INSERT INTO mirror_datasets (table_name, filename, row_count, column_count, loaded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (table_name)
DO UPDATE SET
    filename = EXCLUDED.filename,
    row_count = EXCLUDED.row_count,
    column_count = EXCLUDED.column_count,
    loaded_at = EXCLUDED.loaded_at`

	if _, err := s.db.ExecContext(ctx, query,
		entry.TableName,
		entry.Filename,
		entry.RowCount,
		entry.ColumnCount,
		entry.LoadedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upsert mirror dataset: %w", err)
	}
	return nil
}

// ListTables returns user tables in the public schema with their
// pretty-printed total size. The catalog table itself is excluded.
func (s *Store) ListTables(ctx context.Context) ([]mirror.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name,
       pg_size_pretty(pg_total_relation_size(quote_ident(table_name))) AS size
FROM information_schema.tables
WHERE table_schema = 'public' AND table_name <> 'mirror_datasets'
ORDER BY table_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]mirror.TableInfo, 0)
	for rows.Next() {
		var table mirror.TableInfo
		if err := rows.Scan(&table.Name, &table.Size); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

func (s *Store) TableSchema(ctx context.Context, table string) (mirror.TableSchema, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position ASC`, table)
	if err != nil {
		return mirror.TableSchema{}, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]mirror.ColumnDef, 0)
	for rows.Next() {
		var col mirror.ColumnDef
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return mirror.TableSchema{}, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return mirror.TableSchema{}, fmt.Errorf("iterate column rows: %w", err)
	}
	if len(columns) == 0 {
		return mirror.TableSchema{}, fmt.Errorf("%w: %q", mirror.ErrNotFound, table)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&count); err != nil {
		return mirror.TableSchema{}, fmt.Errorf("count rows in %q: %w", table, err)
	}

	sample, _, err := s.queryRows(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), sampleRows))
	if err != nil {
		return mirror.TableSchema{}, fmt.Errorf("sample table %q: %w", table, err)
	}

	return mirror.TableSchema{
		TableName: table,
		RowCount:  count,
		Columns:   columns,
		Sample:    sample,
	}, nil
}

// ExecuteQuery runs generated SQL as-is. Errors pass through unwrapped
// since the service embeds the exact message in the failure result.
func (s *Store) ExecuteQuery(ctx context.Context, sqlText string) ([]map[string]any, []string, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, nil, fmt.Errorf("sql is required")
	}
	return s.queryRows(ctx, sqlText)
}

func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping mirror db: %w", err)
	}
	return nil
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]map[string]any, []string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, err
		}
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			record[name] = normalizeValue(values[i])
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return result, columns, nil
}

// bindValue converts one raw CSV cell for its target column type. Empty
// cells become NULL regardless of type.
func bindValue(sqlType, raw string) any {
	if raw == "" {
		return nil
	}
	switch sqlType {
	case "BIGINT":
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			return n
		}
	case "DOUBLE PRECISION":
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return f
		}
	}
	return raw
}

func normalizeValue(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return tabular.SanitizeValue(value)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
