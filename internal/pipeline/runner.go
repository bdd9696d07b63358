package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tabletalk/tabletalk/internal/cache"
	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/prompt"
	"github.com/tabletalk/tabletalk/internal/session"
)

const resultRowCap = 100

// Datasets is the slice of the registry a pipeline run needs.
type Datasets interface {
	Schema(ctx context.Context, id string) (dataset.Schema, error)
	Latest() (dataset.Metadata, bool)
	ExecuteQuery(ctx context.Context, id, sqlText string) ([]map[string]any, []string, error)
}

// Sessions is the slice of the state store a pipeline run needs.
type Sessions interface {
	EnsureSession(ctx context.Context, id, firstQuestion string, now time.Time) (session.Session, error)
	AppendMessages(ctx context.Context, id string, messages ...session.Message) (session.Session, error)
}

type RunnerOptions struct {
	Datasets     Datasets
	Sessions     Sessions
	LLM          llm.Client
	Cache        *cache.Translations
	Logger       *slog.Logger
	Clock        func() time.Time
	NewSessionID func() string
}

type Runner struct {
	datasets     Datasets
	sessions     Sessions
	llm          llm.Client
	cache        *cache.Translations
	logger       *slog.Logger
	clock        func() time.Time
	newSessionID func() string
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Datasets == nil {
		return nil, fmt.Errorf("dataset provider is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	translations := opts.Cache
	if translations == nil {
		translations = cache.NewTranslations(false, 0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newSessionID := opts.NewSessionID
	if newSessionID == nil {
		newSessionID = uuid.NewString
	}
	return &Runner{
		datasets:     opts.Datasets,
		sessions:     opts.Sessions,
		llm:          opts.LLM,
		cache:        translations,
		logger:       logger,
		clock:        clock,
		newSessionID: newSessionID,
	}, nil
}

// Run executes one turn. It returns an error only for conditions the
// caller must act on (empty question, missing dataset, unreachable
// model, empty generation); a query that failed twice comes back as a
// normal Result with Error set.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}
	start := time.Now()

	schema, datasetID, err := r.resolveDataset(ctx, req.DatasetID)
	if err != nil {
		return Result{}, err
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = r.newSessionID()
	}
	sess, err := r.sessions.EnsureSession(ctx, sessionID, question, r.clock().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("ensure session: %w", err)
	}
	history := sess.Messages

	route := r.classify(ctx, question, schema, history)

	if route == RouteGeneral {
		return r.runGeneral(ctx, question, schema, history, sessionID, start)
	}

	if schema == nil {
		r.observeRun(route, "error", start)
		return Result{}, ErrNoDataset
	}

	sqlText, cached, err := r.generateSQL(ctx, question, route, *schema, history, datasetID)
	if err != nil {
		r.observeRun(route, "error", start)
		return Result{}, err
	}

	rows, columns, execErr := r.datasets.ExecuteQuery(ctx, datasetID, sqlText)
	repaired := false
	if execErr != nil {
		rows, columns, sqlText, execErr, repaired = r.repair(ctx, question, *schema, datasetID, sqlText, execErr)
	}
	if execErr != nil {
		r.observeRun(route, "failure", start)
		r.logger.Warn("pipeline_query_failed",
			slog.String("dataset_id", datasetID),
			slog.String("session_id", sessionID),
			slog.String("route", string(route)),
			slog.String("error", execErr.Error()),
		)
		return Result{
			SQL:         sqlText,
			Columns:     []string{},
			Rows:        []map[string]any{},
			Explanation: failedExplanation,
			ChartType:   prompt.ChartNone,
			Source:      SourceDuckDB,
			Route:       route,
			SessionID:   sessionID,
			Error:       execErr.Error(),
		}, nil
	}
	if !cached {
		r.cache.Put(datasetID, string(route), question, sqlText)
		r.observeCache("store")
	}

	explanation, err := r.generate(ctx, "explain", prompt.Explain(question, columns, rows), llm.ExplainParams)
	if err != nil {
		explanation = fallbackExplanation
	}

	chart := prompt.ChartType(columns, rows)
	rowCount := len(rows)
	capped := rows
	if len(capped) > resultRowCap {
		capped = capped[:resultRowCap]
	}
	if capped == nil {
		capped = []map[string]any{}
	}
	if columns == nil {
		columns = []string{}
	}

	r.appendTurn(ctx, sessionID, question, explanation)
	r.observeRun(route, "success", start)
	r.logger.Info("pipeline_run",
		slog.String("dataset_id", datasetID),
		slog.String("session_id", sessionID),
		slog.String("route", string(route)),
		slog.Bool("repaired", repaired),
		slog.Bool("cached", cached),
		slog.Int("rows", rowCount),
		slog.Duration("elapsed", time.Since(start)),
	)
	return Result{
		SQL:         sqlText,
		Columns:     columns,
		Rows:        capped,
		RowCount:    rowCount,
		Explanation: explanation,
		ChartType:   chart,
		Source:      SourceDuckDB,
		Route:       route,
		SessionID:   sessionID,
	}, nil
}

// resolveDataset picks the target dataset: the requested one, else the
// most recently loaded. An unknown explicit id degrades to "no
// dataset" so classification still happens and GENERAL questions keep
// working.
func (r *Runner) resolveDataset(ctx context.Context, requested string) (*dataset.Schema, string, error) {
	id := strings.TrimSpace(requested)
	if id == "" {
		latest, ok := r.datasets.Latest()
		if !ok {
			return nil, "", nil
		}
		id = latest.ID
	}
	schema, err := r.datasets.Schema(ctx, id)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("load dataset schema: %w", err)
	}
	return &schema, id, nil
}

// classify never fails a turn: an unreachable classifier or an
// unlabeled reply falls back to the SQL route.
func (r *Runner) classify(ctx context.Context, question string, schema *dataset.Schema, history []session.Message) Route {
	reply, err := r.generate(ctx, "classify", prompt.Classify(question, schema, history), llm.ClassifyParams)
	if err != nil {
		r.logger.Warn("classification_degraded", slog.String("error", err.Error()))
		return RouteSQL
	}
	return ParseRoute(reply)
}

func (r *Runner) runGeneral(ctx context.Context, question string, schema *dataset.Schema, history []session.Message, sessionID string, start time.Time) (Result, error) {
	answer, err := r.generate(ctx, "general", prompt.General(question, schema, history), llm.GeneralParams)
	if err != nil {
		r.observeRun(RouteGeneral, "error", start)
		return Result{}, fmt.Errorf("general answer: %w", err)
	}

	r.appendTurn(ctx, sessionID, question, answer)
	r.observeRun(RouteGeneral, "success", start)
	r.logger.Info("pipeline_run",
		slog.String("session_id", sessionID),
		slog.String("route", string(RouteGeneral)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return Result{
		Columns:     []string{},
		Rows:        []map[string]any{},
		Explanation: answer,
		ChartType:   prompt.ChartNone,
		Source:      SourceLLM,
		Route:       RouteGeneral,
		SessionID:   sessionID,
	}, nil
}

// generateSQL returns the statement to execute, consulting the
// translation cache before the model.
func (r *Runner) generateSQL(ctx context.Context, question string, route Route, schema dataset.Schema, history []session.Message, datasetID string) (string, bool, error) {
	if sqlText, ok := r.cache.Get(datasetID, string(route), question); ok {
		r.observeCache("hit")
		return sqlText, true, nil
	}
	r.observeCache("miss")

	promptText := prompt.GenerateSQL(question, schema, history)
	if route == RouteCompute {
		promptText = prompt.GenerateCompute(question, schema, history)
	}
	raw, err := r.generate(ctx, "sql", promptText, llm.SQLParams)
	if err != nil {
		return "", false, fmt.Errorf("generate sql: %w", err)
	}
	sqlText := llm.CleanSQL(raw)
	if sqlText == "" {
		return "", false, ErrEmptyGeneration
	}
	return sqlText, false, nil
}

// repair runs the single correction round. The returned sqlText is the
// last text that actually reached the engine; an upstream failure or an
// empty regeneration keeps the first attempt and its error.
func (r *Runner) repair(ctx context.Context, question string, schema dataset.Schema, datasetID, failedSQL string, firstErr error) (rows []map[string]any, columns []string, sqlText string, execErr error, repaired bool) {
	sqlText = failedSQL
	execErr = firstErr

	raw, err := r.generate(ctx, "repair", prompt.Repair(question, schema, failedSQL, firstErr.Error()), llm.SQLParams)
	if err != nil {
		observability.ObserveRepair("failure")
		return nil, nil, sqlText, execErr, false
	}
	repairedSQL := llm.CleanSQL(raw)
	if repairedSQL == "" {
		observability.ObserveRepair("failure")
		return nil, nil, sqlText, execErr, false
	}

	rows, columns, err = r.datasets.ExecuteQuery(ctx, datasetID, repairedSQL)
	sqlText = repairedSQL
	if err != nil {
		observability.ObserveRepair("failure")
		return nil, nil, sqlText, err, false
	}
	observability.ObserveRepair("success")
	return rows, columns, sqlText, nil, true
}

// appendTurn records the user question and the assistant reply. Session
// persistence is best effort; losing one turn never fails the run that
// produced it.
func (r *Runner) appendTurn(ctx context.Context, sessionID, question, reply string) {
	now := r.clock().UTC()
	_, err := r.sessions.AppendMessages(ctx, sessionID,
		session.Message{Role: session.RoleUser, Content: question, CreatedAt: now},
		session.Message{Role: session.RoleAssistant, Content: reply, CreatedAt: now},
	)
	if err != nil {
		r.logger.Warn("session_append_failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runner) generate(ctx context.Context, operation, promptText string, params llm.Params) (string, error) {
	start := time.Now()
	text, err := r.llm.Generate(ctx, llm.GenerateRequest{Prompt: promptText, Params: params})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.ObserveLLMRequest(operation, outcome, time.Since(start))
	return text, err
}

func (r *Runner) observeRun(route Route, outcome string, start time.Time) {
	observability.ObservePipelineRun(string(route), outcome, time.Since(start))
}

func (r *Runner) observeCache(event string) {
	if r.cache.Enabled() {
		observability.ObserveCacheEvent(event)
	}
}
