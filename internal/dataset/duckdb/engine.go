// Package duckdb runs one embedded DuckDB database per dataset. The
// normalized upload is staged as CSV and loaded through read_csv_auto,
// so DuckDB's own sniffer decides the column types.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/tabular"
)

type Engine struct {
	db    *sql.DB
	table string
}

// New builds an in-memory engine holding the given table. The table
// name must already be normalized; it is quoted, not trusted.
func New(ctx context.Context, tableName string, table *tabular.Table) (*Engine, error) {
	if strings.TrimSpace(tableName) == "" {
		return nil, fmt.Errorf("table name is required")
	}

	staged, err := stageCSV(table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(staged) }()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	loadSQL := fmt.Sprintf(
		`CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)`,
		quoteIdent(tableName), quoteString(staged),
	)
	if _, err := db.ExecContext(ctx, loadSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load table %q: %w", tableName, err)
	}

	return &Engine{db: db, table: tableName}, nil
}

func (e *Engine) TableName() string {
	return e.table
}

func (e *Engine) Columns(ctx context.Context) ([]dataset.Column, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position`,
		e.table,
	)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", e.table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []dataset.Column
	for rows.Next() {
		var col dataset.Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (e *Engine) RowCount(ctx context.Context) (int64, error) {
	var count int64
	err := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(e.table))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rows of %q: %w", e.table, err)
	}
	return count, nil
}

// Query executes arbitrary SQL against the dataset table and returns
// rows as column-keyed maps plus the ordered column names. Engine
// errors pass through unwrapped since callers feed the exact message
// back into repair prompts.
func (e *Engine) Query(ctx context.Context, sqlText string) ([]map[string]any, []string, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return nil, nil, fmt.Errorf("sql is required")
	}

	rows, err := e.db.QueryContext(ctx, sqlText)
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

func (e *Engine) Close() error {
	return e.db.Close()
}

func stageCSV(table *tabular.Table) (string, error) {
	data, err := tabular.EncodeCSV(table)
	if err != nil {
		return "", fmt.Errorf("stage csv: %w", err)
	}
	file, err := os.CreateTemp("", "tabletalk-ingest-*.csv")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return file.Name(), nil
}

// normalizeValue makes driver values JSON-friendly. Non-finite floats
// become nil because JSON cannot carry NaN or infinities, and HUGEINT
// aggregates (SUM over integer columns) come back as *big.Int.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case *big.Int:
		if v.IsInt64() {
			return v.Int64()
		}
		f, _ := new(big.Float).SetInt(v).Float64()
		return f
	}
	return tabular.SanitizeValue(value)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
