package dataset

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tabletalk/tabletalk/internal/observability"
)

const (
	DefaultDataLimit   = 5000
	DefaultSampleRows  = 20
	statsNumericLimit  = 5
	statsTextLimit     = 3
	statsTopValueLimit = 5
)

// Schema returns the stored record plus a live sample.
func (r *Registry) Schema(ctx context.Context, id string) (Schema, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Schema{}, err
	}
	sample, _, err := e.engine.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(e.meta.TableName), sampleRowCount))
	if err != nil {
		return Schema{}, fmt.Errorf("sample dataset: %w", err)
	}
	return Schema{
		ID:        e.meta.ID,
		TableName: e.meta.TableName,
		Filename:  e.meta.Filename,
		Format:    e.meta.Format,
		RowCount:  e.meta.RowCount,
		Columns:   e.meta.Columns,
		Sample:    sample,
		CreatedAt: e.meta.CreatedAt,
	}, nil
}

func (r *Registry) Data(ctx context.Context, id string, limit int) (DataPage, error) {
	e, err := r.lookup(id)
	if err != nil {
		return DataPage{}, err
	}
	if limit <= 0 {
		limit = DefaultDataLimit
	}
	rows, columns, err := e.engine.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(e.meta.TableName), limit))
	if err != nil {
		return DataPage{}, fmt.Errorf("read dataset rows: %w", err)
	}
	return DataPage{
		TableName:    e.meta.TableName,
		TotalRows:    e.meta.RowCount,
		ReturnedRows: len(rows),
		Columns:      columns,
		Rows:         rows,
	}, nil
}

func (r *Registry) Sample(ctx context.Context, id string, n int) (SamplePage, error) {
	e, err := r.lookup(id)
	if err != nil {
		return SamplePage{}, err
	}
	if n <= 0 {
		n = DefaultSampleRows
	}
	rows, _, err := e.engine.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(e.meta.TableName), n))
	if err != nil {
		return SamplePage{}, fmt.Errorf("sample dataset: %w", err)
	}
	return SamplePage{Rows: rows, TotalRows: e.meta.RowCount}, nil
}

func (r *Registry) ColumnValues(ctx context.Context, id, column string) (ColumnValues, error) {
	e, err := r.lookup(id)
	if err != nil {
		return ColumnValues{}, err
	}
	if !hasColumn(e.meta.Columns, column) {
		return ColumnValues{}, fmt.Errorf("%w: %q", ErrColumnUnknown, column)
	}
	rows, _, err := e.engine.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", quoteIdent(column), quoteIdent(e.meta.TableName)))
	if err != nil {
		return ColumnValues{}, fmt.Errorf("read column %q: %w", column, err)
	}
	values := make([]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, row[column])
	}
	return ColumnValues{Column: column, Values: values, Count: len(values)}, nil
}

// ColumnCounts buckets a column's values by their string form. Nil
// lands under "null". Pairs come back sorted by count descending with
// ties broken by label ascending, so responses are deterministic.
func (r *Registry) ColumnCounts(ctx context.Context, id, column string) (ColumnCounts, error) {
	values, err := r.ColumnValues(ctx, id, column)
	if err != nil {
		return ColumnCounts{}, err
	}

	counts := make(map[string]int64)
	for _, value := range values.Values {
		counts[countLabel(value)]++
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	result := ColumnCounts{Column: column, Labels: labels, Total: int64(len(values.Values))}
	result.Values = make([]int64, 0, len(labels))
	for _, label := range labels {
		result.Values = append(result.Values, counts[label])
	}
	return result, nil
}

// ExecuteQuery runs arbitrary SQL against a dataset's engine. Engine
// errors return unwrapped because the pipeline feeds the exact message
// into repair prompts and result payloads.
func (r *Registry) ExecuteQuery(ctx context.Context, id, sqlText string) ([]map[string]any, []string, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	start := time.Now()
	rows, columns, err := e.engine.Query(ctx, sqlText)
	observability.ObserveEngineQuery(time.Since(start))
	return rows, columns, err
}

// Stats profiles the first few numeric and text columns. Per-column
// failures are skipped so a single odd column cannot sink the call.
func (r *Registry) Stats(ctx context.Context, id string) (Stats, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TableName:   e.meta.TableName,
		RowCount:    e.meta.RowCount,
		ColumnCount: len(e.meta.Columns),
		Numeric:     make(map[string]NumericStats),
		Categorical: make(map[string][]ValueCount),
	}

	numeric, text := profileColumns(e.meta.Columns)
	for _, column := range numeric {
		rows, _, err := e.engine.Query(ctx, fmt.Sprintf(
			"SELECT MIN(%s) AS mn, MAX(%s) AS mx, AVG(%s) AS av FROM %s",
			quoteIdent(column), quoteIdent(column), quoteIdent(column), quoteIdent(e.meta.TableName),
		))
		if err != nil || len(rows) == 0 {
			r.logger.Debug("numeric_stats_skipped", "dataset_id", id, "column", column)
			continue
		}
		mn, okMin := toFloat(rows[0]["mn"])
		mx, okMax := toFloat(rows[0]["mx"])
		av, okAvg := toFloat(rows[0]["av"])
		if !okMin || !okMax || !okAvg {
			continue
		}
		stats.Numeric[column] = NumericStats{Min: round2(mn), Max: round2(mx), Avg: round2(av)}
	}

	for _, column := range text {
		rows, _, err := e.engine.Query(ctx, fmt.Sprintf(
			"SELECT %s AS value, COUNT(*) AS total FROM %s GROUP BY %s ORDER BY total DESC, value ASC LIMIT %d",
			quoteIdent(column), quoteIdent(e.meta.TableName), quoteIdent(column), statsTopValueLimit,
		))
		if err != nil {
			r.logger.Debug("categorical_stats_skipped", "dataset_id", id, "column", column)
			continue
		}
		pairs := make([]ValueCount, 0, len(rows))
		for _, row := range rows {
			count, ok := toInt64(row["total"])
			if !ok {
				continue
			}
			pairs = append(pairs, ValueCount{Value: countLabel(row["value"]), Count: count})
		}
		stats.Categorical[column] = pairs
	}

	return stats, nil
}

func profileColumns(columns []Column) (numeric []string, text []string) {
	for _, col := range columns {
		if len(numeric) < statsNumericLimit && isNumericType(col.Type) {
			numeric = append(numeric, col.Name)
		}
		if len(text) < statsTextLimit && isTextType(col.Type) {
			text = append(text, col.Name)
		}
	}
	return numeric, text
}

func isNumericType(dataType string) bool {
	upper := strings.ToUpper(dataType)
	for _, marker := range []string{"INT", "FLOAT", "DOUBLE", "DECIMAL", "REAL"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func isTextType(dataType string) bool {
	upper := strings.ToUpper(dataType)
	for _, marker := range []string{"VARCHAR", "TEXT", "STRING", "CHAR"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func hasColumn(columns []Column, name string) bool {
	for _, col := range columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

func countLabel(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
