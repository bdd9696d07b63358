package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/prompt"
	"github.com/tabletalk/tabletalk/internal/tabular"
)

const (
	sourcePostgres = "postgresql"

	failedExplanation   = "The generated SQL had an error. Try rephrasing your question."
	fallbackExplanation = "Results retrieved from PostgreSQL."

	resultRowCap = 100

	statsNumericLimit  = 5
	statsTextLimit     = 3
	statsTopValueLimit = 5
)

type Options struct {
	Store  Store
	LLM    llm.Client
	Logger *slog.Logger
	Clock  func() time.Time
}

type Service struct {
	store  Store
	llm    llm.Client
	logger *slog.Logger
	clock  func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("mirror store is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:  opts.Store,
		llm:    opts.LLM,
		logger: logger,
		clock:  clock,
	}, nil
}

// UploadCSV replaces the mirrored table derived from filename with the
// decoded CSV contents and records the load in the catalog table.
func (s *Service) UploadCSV(ctx context.Context, raw []byte, filename string) (UploadResult, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return UploadResult{}, fmt.Errorf("%w: only CSV files are supported", ErrUnsupportedFormat)
	}

	table, err := tabular.DecodeCSV(raw)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	tableName := tabular.TableName(filename)
	columns := inferColumnDefs(table)

	if err := s.store.ReplaceTable(ctx, tableName, columns, table.Records); err != nil {
		return UploadResult{}, fmt.Errorf("replace mirror table: %w", err)
	}
	if err := s.store.UpsertCatalogEntry(ctx, CatalogEntry{
		TableName:   tableName,
		Filename:    filename,
		RowCount:    int64(table.RowCount()),
		ColumnCount: len(columns),
		LoadedAt:    s.clock().UTC(),
	}); err != nil {
		return UploadResult{}, fmt.Errorf("record mirror dataset: %w", err)
	}

	s.logger.Info("mirror_upload",
		slog.String("table", tableName),
		slog.Int64("rows", int64(table.RowCount())),
		slog.Int("columns", len(columns)),
	)

	return UploadResult{
		TableName: tableName,
		RowCount:  int64(table.RowCount()),
		Columns:   columns,
	}, nil
}

// Query answers a question against one mirrored table: generate SQL from
// the live schema, execute, explain. Execution failure is a normal
// outcome carried in the result, not an error.
func (s *Service) Query(ctx context.Context, question, table string) (QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return QueryResult{}, ErrEmptyQuestion
	}

	schema, err := s.store.TableSchema(ctx, table)
	if err != nil {
		return QueryResult{}, fmt.Errorf("load mirror schema: %w", err)
	}

	raw, err := s.generate(ctx, "mirror_sql", prompt.GenerateSQL(question, promptSchema(schema), nil), llm.SQLParams)
	if err != nil {
		return QueryResult{}, fmt.Errorf("generate sql: %w", err)
	}
	sqlText := llm.CleanSQL(raw)

	rows, columns, execErr := s.store.ExecuteQuery(ctx, sqlText)
	if execErr != nil {
		s.logger.Warn("mirror_query_failed",
			slog.String("table", table),
			slog.String("error", execErr.Error()),
		)
		return QueryResult{
			SQL:         sqlText,
			Columns:     []string{},
			Rows:        []map[string]any{},
			Explanation: failedExplanation,
			ChartType:   prompt.ChartNone,
			Source:      sourcePostgres,
			Error:       fmt.Sprintf("SQL execution failed: %v", execErr),
		}, nil
	}

	explanation, err := s.generate(ctx, "mirror_explain", prompt.Explain(question, columns, rows), llm.ExplainParams)
	if err != nil {
		explanation = fallbackExplanation
	}

	result := QueryResult{
		SQL:         sqlText,
		Columns:     columns,
		Rows:        rows,
		RowCount:    len(rows),
		Explanation: explanation,
		ChartType:   prompt.ChartType(columns, rows),
		Source:      sourcePostgres,
	}
	if len(result.Rows) > resultRowCap {
		result.Rows = result.Rows[:resultRowCap]
	}
	if result.Rows == nil {
		result.Rows = []map[string]any{}
	}
	if result.Columns == nil {
		result.Columns = []string{}
	}

	s.logger.Info("mirror_query",
		slog.String("table", table),
		slog.Int("rows", result.RowCount),
	)
	return result, nil
}

func (s *Service) ListTables(ctx context.Context) ([]TableInfo, error) {
	tables, err := s.store.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mirror tables: %w", err)
	}
	return tables, nil
}

func (s *Service) TableSchema(ctx context.Context, table string) (TableSchema, error) {
	schema, err := s.store.TableSchema(ctx, table)
	if err != nil {
		return TableSchema{}, fmt.Errorf("load mirror schema: %w", err)
	}
	return schema, nil
}

// Stats computes the same aggregate shape the dataset registry serves:
// min/max/avg for the first numeric columns, top values for the first
// text columns. Columns whose aggregates fail are skipped.
func (s *Service) Stats(ctx context.Context, table string) (dataset.Stats, error) {
	schema, err := s.store.TableSchema(ctx, table)
	if err != nil {
		return dataset.Stats{}, fmt.Errorf("load mirror schema: %w", err)
	}

	stats := dataset.Stats{
		TableName:   schema.TableName,
		RowCount:    schema.RowCount,
		ColumnCount: len(schema.Columns),
		Numeric:     make(map[string]dataset.NumericStats),
		Categorical: make(map[string][]dataset.ValueCount),
	}

	numeric, text := profilePGColumns(schema.Columns)
	for _, column := range numeric {
		rows, _, err := s.store.ExecuteQuery(ctx, fmt.Sprintf(
			"SELECT MIN(%s) AS mn, MAX(%s) AS mx, AVG(%s) AS av FROM %s",
			quoteIdent(column), quoteIdent(column), quoteIdent(column), quoteIdent(table),
		))
		if err != nil || len(rows) == 0 {
			s.logger.Debug("mirror_numeric_stats_skipped", "table", table, "column", column)
			continue
		}
		mn, okMin := toFloat(rows[0]["mn"])
		mx, okMax := toFloat(rows[0]["mx"])
		av, okAvg := toFloat(rows[0]["av"])
		if !okMin || !okMax || !okAvg {
			continue
		}
		stats.Numeric[column] = dataset.NumericStats{Min: round2(mn), Max: round2(mx), Avg: round2(av)}
	}

	for _, column := range text {
		rows, _, err := s.store.ExecuteQuery(ctx, fmt.Sprintf(
			"SELECT %s AS value, COUNT(*) AS total FROM %s GROUP BY %s ORDER BY total DESC, value ASC LIMIT %d",
			quoteIdent(column), quoteIdent(table), quoteIdent(column), statsTopValueLimit,
		))
		if err != nil {
			s.logger.Debug("mirror_categorical_stats_skipped", "table", table, "column", column)
			continue
		}
		pairs := make([]dataset.ValueCount, 0, len(rows))
		for _, row := range rows {
			count, ok := toInt64(row["total"])
			if !ok {
				continue
			}
			pairs = append(pairs, dataset.ValueCount{Value: countLabel(row["value"]), Count: count})
		}
		stats.Categorical[column] = pairs
	}

	return stats, nil
}

// Connected reports whether the mirror database answers SELECT 1.
func (s *Service) Connected(ctx context.Context) bool {
	return s.store.Ping(ctx) == nil
}

func (s *Service) generate(ctx context.Context, operation, promptText string, params llm.Params) (string, error) {
	start := time.Now()
	text, err := s.llm.Generate(ctx, llm.GenerateRequest{Prompt: promptText, Params: params})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.ObserveLLMRequest(operation, outcome, time.Since(start))
	return text, err
}

func inferColumnDefs(table *tabular.Table) []ColumnDef {
	defs := make([]ColumnDef, len(table.Columns))
	for i, name := range table.Columns {
		values, _ := table.ColumnValues(name)
		defs[i] = ColumnDef{Name: name, Type: pgType(tabular.InferKind(values))}
	}
	return defs
}

func pgType(kind tabular.Kind) string {
	switch kind {
	case tabular.KindInteger:
		return "BIGINT"
	case tabular.KindFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// promptSchema adapts a mirrored table to the shared prompt builders.
func promptSchema(schema TableSchema) dataset.Schema {
	columns := make([]dataset.Column, len(schema.Columns))
	for i, col := range schema.Columns {
		columns[i] = dataset.Column{Name: col.Name, Type: col.Type}
	}
	return dataset.Schema{
		TableName: schema.TableName,
		RowCount:  schema.RowCount,
		Columns:   columns,
		Sample:    schema.Sample,
	}
}

// profilePGColumns picks stats candidates by PostgreSQL data_type. The
// type names come from information_schema, so they are lowercase and
// spelled out ("double precision", "character varying").
func profilePGColumns(columns []ColumnDef) (numeric []string, text []string) {
	for _, col := range columns {
		dataType := strings.ToLower(col.Type)
		switch dataType {
		case "bigint", "integer", "smallint", "double precision", "numeric", "real":
			if len(numeric) < statsNumericLimit {
				numeric = append(numeric, col.Name)
			}
		case "text", "character varying", "varchar":
			if len(text) < statsTextLimit {
				text = append(text, col.Name)
			}
		}
	}
	return numeric, text
}

// toFloat accepts the numeric shapes the pgx stdlib driver produces;
// NUMERIC aggregates like AVG arrive as text.
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
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
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
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func countLabel(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
