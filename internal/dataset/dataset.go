// Package dataset holds the registry of uploaded datasets. Each
// registered dataset owns an isolated query engine over its own copy
// of the data; the raw upload lives in the object store and the
// metadata record in the state store, so the registry can rebuild
// engines from scratch after a restart.
package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/tabletalk/tabletalk/internal/tabular"
)

var (
	ErrNotFound          = errors.New("dataset not found")
	ErrBadInput          = errors.New("invalid dataset input")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrColumnUnknown     = errors.New("unknown column")
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Metadata is the durable record for one dataset. It carries
// everything needed to re-ingest the raw object on restore.
type Metadata struct {
	ID         string    `json:"id"`
	TableName  string    `json:"table_name"`
	Filename   string    `json:"filename"`
	Format     string    `json:"format"`
	RowCount   int64     `json:"row_count"`
	Columns    []Column  `json:"columns"`
	ObjectKey  string    `json:"object_key"`
	ObjectSize int64     `json:"object_size"`
	CreatedAt  time.Time `json:"created_at"`
}

type Summary struct {
	ID        string    `json:"id"`
	TableName string    `json:"table_name"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`
	RowCount  int64     `json:"row_count"`
	Columns   int       `json:"column_count"`
	Loaded    bool      `json:"loaded"`
	CreatedAt time.Time `json:"created_at"`
}

type Schema struct {
	ID        string           `json:"id"`
	TableName string           `json:"table_name"`
	Filename  string           `json:"filename"`
	Format    string           `json:"format"`
	RowCount  int64            `json:"row_count"`
	Columns   []Column         `json:"columns"`
	Sample    []map[string]any `json:"sample_rows"`
	CreatedAt time.Time        `json:"created_at"`
}

type DataPage struct {
	TableName    string           `json:"table_name"`
	TotalRows    int64            `json:"total_rows"`
	ReturnedRows int              `json:"returned_rows"`
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
}

type SamplePage struct {
	Rows      []map[string]any `json:"rows"`
	TotalRows int64            `json:"total_rows"`
}

type ColumnValues struct {
	Column string `json:"column"`
	Values []any  `json:"values"`
	Count  int    `json:"count"`
}

type ColumnCounts struct {
	Column string   `json:"column"`
	Labels []string `json:"labels"`
	Values []int64  `json:"values"`
	Total  int64    `json:"total"`
}

type NumericStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type Stats struct {
	TableName   string                  `json:"table_name"`
	RowCount    int64                   `json:"row_count"`
	ColumnCount int                     `json:"column_count"`
	Numeric     map[string]NumericStats `json:"numeric"`
	Categorical map[string][]ValueCount `json:"categorical"`
}

type RestoreSummary struct {
	Scanned  int `json:"scanned"`
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Engine is the per-dataset query surface the registry drives. The
// DuckDB implementation lives in internal/dataset/duckdb.
type Engine interface {
	TableName() string
	Columns(ctx context.Context) ([]Column, error)
	RowCount(ctx context.Context) (int64, error)
	Query(ctx context.Context, sqlText string) ([]map[string]any, []string, error)
	Close() error
}

// EngineFactory builds a fresh engine holding the given table under
// the given name.
type EngineFactory func(ctx context.Context, tableName string, table *tabular.Table) (Engine, error)

// MetadataStore is the durable index of dataset records.
type MetadataStore interface {
	PutDataset(ctx context.Context, meta Metadata) error
	GetDataset(ctx context.Context, id string) (Metadata, error)
	ListDatasets(ctx context.Context) ([]Metadata, error)
	DeleteDataset(ctx context.Context, id string) error
}
