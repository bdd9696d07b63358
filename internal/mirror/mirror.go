// Package mirror loads uploaded CSVs into PostgreSQL and answers natural
// language questions against those tables with a single-shot
// generate-execute-explain flow. It is the demo counterpart to the DuckDB
// registry: no classification, no repair, no sessions.
package mirror

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("mirror table not found")
	ErrBadInput          = errors.New("invalid mirror input")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyQuestion     = errors.New("question is empty")
)

// ColumnDef is one mirrored column with its PostgreSQL type.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CatalogEntry is the mirror_datasets record written on every upload.
type CatalogEntry struct {
	TableName   string
	Filename    string
	RowCount    int64
	ColumnCount int
	LoadedAt    time.Time
}

// TableInfo is one listing row: table name plus pretty-printed size.
type TableInfo struct {
	Name string `json:"table_name"`
	Size string `json:"size"`
}

// TableSchema describes a mirrored table as PostgreSQL reports it.
type TableSchema struct {
	TableName string           `json:"table_name"`
	RowCount  int64            `json:"row_count"`
	Columns   []ColumnDef      `json:"columns"`
	Sample    []map[string]any `json:"sample"`
}

// UploadResult is what a successful CSV load returns.
type UploadResult struct {
	TableName string      `json:"table_name"`
	RowCount  int64       `json:"row_count"`
	Columns   []ColumnDef `json:"columns"`
}

// QueryResult is the mirror's answer payload. Unlike the pipeline Result
// it carries no route or session: mirror queries are stateless one-shots.
type QueryResult struct {
	SQL         string           `json:"sql"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	Explanation string           `json:"explanation"`
	ChartType   string           `json:"chart_type"`
	Source      string           `json:"source"`
	Error       string           `json:"error,omitempty"`
}

// Failed reports whether the generated SQL was rejected by PostgreSQL.
func (r QueryResult) Failed() bool { return r.Error != "" }

// Store is the persistence surface the mirror service needs. The
// postgres subpackage provides the production implementation.
type Store interface {
	ReplaceTable(ctx context.Context, table string, columns []ColumnDef, records [][]string) error
	UpsertCatalogEntry(ctx context.Context, entry CatalogEntry) error
	ListTables(ctx context.Context) ([]TableInfo, error)
	TableSchema(ctx context.Context, table string) (TableSchema, error)
	ExecuteQuery(ctx context.Context, sqlText string) ([]map[string]any, []string, error)
	Ping(ctx context.Context) error
}
