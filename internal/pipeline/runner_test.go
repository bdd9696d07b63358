package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tabletalk/tabletalk/internal/cache"
	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/session"
)

func TestParseRoute(t *testing.T) {
	cases := []struct {
		in   string
		want Route
	}{
		{"SQL", RouteSQL},
		{"COMPUTE", RouteCompute},
		{"GENERAL", RouteGeneral},
		{"  general \n", RouteGeneral},
		{"The category is COMPUTE.", RouteCompute},
		{"COMPUTE or SQL, hard to say", RouteCompute},
		{"no idea", RouteSQL},
		{"", RouteSQL},
	}
	for _, tc := range cases {
		if got := ParseRoute(tc.in); got != tc.want {
			t.Fatalf("ParseRoute(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRunRejectsEmptyQuestion(t *testing.T) {
	env := newRunnerEnv(t)

	_, err := env.runner.Run(context.Background(), Request{Question: "   "})
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("Run() error = %v, want ErrEmptyQuestion", err)
	}
	if len(env.llm.calls) != 0 {
		t.Fatalf("llm called %v before validation", env.llm.calls)
	}
}

func TestRunSessionStoreFailure(t *testing.T) {
	env := newRunnerEnv(t)
	env.sessions.ensureErr = errors.New("badger: store closed")

	_, err := env.runner.Run(context.Background(), Request{Question: "how many rows?"})
	if err == nil || !strings.Contains(err.Error(), "ensure session") {
		t.Fatalf("Run() error = %v, want ensure session failure", err)
	}
}

func TestRunSQLRouteHappyPath(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")
	env.llm.script("sql", "```sql\nSELECT churn, COUNT(*) AS total FROM telco GROUP BY churn\n```")
	env.llm.script("explain", "Most customers stayed; 1869 of them left.")
	env.datasets.respond = func(string) ([]map[string]any, []string, error) {
		return []map[string]any{
			{"churn": "No", "total": int64(5174)},
			{"churn": "Yes", "total": int64(1869)},
		}, []string{"churn", "total"}, nil
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "how many customers churned?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.SQL != "SELECT churn, COUNT(*) AS total FROM telco GROUP BY churn" {
		t.Fatalf("result.SQL = %q", result.SQL)
	}
	if result.Route != RouteSQL || result.Source != SourceDuckDB {
		t.Fatalf("result route/source = %q/%q", result.Route, result.Source)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("result rows = %d/%d", result.RowCount, len(result.Rows))
	}
	if result.ChartType != "bar" {
		t.Fatalf("result.ChartType = %q", result.ChartType)
	}
	if result.Explanation != "Most customers stayed; 1869 of them left." {
		t.Fatalf("result.Explanation = %q", result.Explanation)
	}
	if result.Failed() {
		t.Fatalf("result marked failed: %q", result.Error)
	}
	if result.SessionID == "" {
		t.Fatalf("result.SessionID empty")
	}

	appended := env.sessions.appended[result.SessionID]
	if len(appended) != 2 || appended[0].Role != session.RoleUser || appended[1].Role != session.RoleAssistant {
		t.Fatalf("session turns = %+v", appended)
	}
}

func TestRunGeneralRoute(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "GENERAL")
	env.llm.script("general", "Churn is the share of customers who leave.")

	result, err := env.runner.Run(context.Background(), Request{Question: "what is churn?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Route != RouteGeneral || result.Source != SourceLLM {
		t.Fatalf("result route/source = %q/%q", result.Route, result.Source)
	}
	if result.SQL != "" || len(result.Rows) != 0 || result.ChartType != "none" {
		t.Fatalf("general result = %+v", result)
	}
	if result.Explanation != "Churn is the share of customers who leave." {
		t.Fatalf("result.Explanation = %q", result.Explanation)
	}
	if len(env.datasets.queries) != 0 {
		t.Fatalf("general route executed queries: %v", env.datasets.queries)
	}
	if len(env.sessions.appended[result.SessionID]) != 2 {
		t.Fatalf("general route did not append the turn")
	}
}

func TestRunGeneralAbortsWhenUpstreamFails(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "GENERAL")
	env.llm.fail("general", fmt.Errorf("%w: connection refused", llm.ErrUnavailable))

	_, err := env.runner.Run(context.Background(), Request{Question: "what is churn?"})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("Run() error = %v, want ErrUnavailable", err)
	}
	for _, turns := range env.sessions.appended {
		if len(turns) != 0 {
			t.Fatalf("failed turn was appended to the session")
		}
	}
}

func TestRunClassifierFailureDegradesToSQL(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.fail("classify", fmt.Errorf("%w: timeout", llm.ErrUnavailable))
	env.llm.script("sql", "SELECT COUNT(*) AS total FROM telco")
	env.llm.script("explain", "There are 7043 customers.")
	env.datasets.respond = func(string) ([]map[string]any, []string, error) {
		return []map[string]any{{"total": int64(7043)}}, []string{"total"}, nil
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "how many customers?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Route != RouteSQL {
		t.Fatalf("result.Route = %q", result.Route)
	}
	if result.ChartType != "kpi" {
		t.Fatalf("result.ChartType = %q", result.ChartType)
	}
}

func TestRunDataRouteWithoutDataset(t *testing.T) {
	env := newRunnerEnv(t)
	env.datasets.hasData = false
	env.llm.script("classify", "SQL")

	_, err := env.runner.Run(context.Background(), Request{Question: "how many rows?"})
	if !errors.Is(err, ErrNoDataset) {
		t.Fatalf("Run() error = %v, want ErrNoDataset", err)
	}
	if len(env.datasets.queries) != 0 {
		t.Fatalf("queries ran without a dataset: %v", env.datasets.queries)
	}
}

func TestRunUnknownExplicitDatasetBehavesAsMissing(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")

	_, err := env.runner.Run(context.Background(), Request{Question: "how many rows?", DatasetID: "ghost"})
	if !errors.Is(err, ErrNoDataset) {
		t.Fatalf("Run() error = %v, want ErrNoDataset", err)
	}
}

func TestRunEmptyGeneration(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")
	env.llm.script("sql", "   \n")

	_, err := env.runner.Run(context.Background(), Request{Question: "how many rows?"})
	if !errors.Is(err, ErrEmptyGeneration) {
		t.Fatalf("Run() error = %v, want ErrEmptyGeneration", err)
	}
	if len(env.datasets.queries) != 0 {
		t.Fatalf("blank generation still executed: %v", env.datasets.queries)
	}
}

func TestRunRepairRecoversOnce(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")
	env.llm.script("sql", "SELECT tenur FROM telco LIMIT 100")
	env.llm.script("repair", "SELECT tenure FROM telco LIMIT 100")
	env.llm.script("explain", "Customers stay around 32 months.")
	env.datasets.respond = func(sqlText string) ([]map[string]any, []string, error) {
		if strings.Contains(sqlText, "tenur ") || strings.HasSuffix(sqlText, "tenur FROM telco LIMIT 100") {
			return nil, nil, errors.New(`Binder Error: Referenced column "tenur" not found`)
		}
		return []map[string]any{
			{"tenure": int64(12)},
			{"tenure": int64(2)},
		}, []string{"tenure"}, nil
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "typical tenure?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.SQL != "SELECT tenure FROM telco LIMIT 100" {
		t.Fatalf("result.SQL = %q", result.SQL)
	}
	if result.Failed() {
		t.Fatalf("repaired run marked failed: %q", result.Error)
	}
	if len(env.datasets.queries) != 2 {
		t.Fatalf("execute calls = %d, want 2", len(env.datasets.queries))
	}
}

func TestRunDoubleFailureReturnsStructuredResult(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")
	env.llm.script("sql", "SELECT tenur FROM telco")
	env.llm.script("repair", "SELECT tenuree FROM telco")
	secondErr := `Binder Error: Referenced column "tenuree" not found`
	env.datasets.respond = func(sqlText string) ([]map[string]any, []string, error) {
		if strings.Contains(sqlText, "tenuree") {
			return nil, nil, errors.New(secondErr)
		}
		return nil, nil, errors.New(`Binder Error: Referenced column "tenur" not found`)
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "typical tenure?"})
	if err != nil {
		t.Fatalf("Run() error = %v, want structured failure result", err)
	}
	if !result.Failed() {
		t.Fatalf("result not marked failed")
	}
	if result.Error != secondErr {
		t.Fatalf("result.Error = %q, want the second failure verbatim", result.Error)
	}
	if result.SQL != "SELECT tenuree FROM telco" {
		t.Fatalf("result.SQL = %q, want the last attempted text", result.SQL)
	}
	if len(result.Rows) != 0 || result.ChartType != "none" {
		t.Fatalf("failure result = %+v", result)
	}
	if result.Explanation != failedExplanation {
		t.Fatalf("result.Explanation = %q", result.Explanation)
	}
	for _, turns := range env.sessions.appended {
		if len(turns) != 0 {
			t.Fatalf("failed turn was appended to the session")
		}
	}
}

func TestRunEmptyRegenerationKeepsFirstFailure(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")
	env.llm.script("sql", "SELECT tenur FROM telco")
	env.llm.script("repair", "")
	firstErr := `Binder Error: Referenced column "tenur" not found`
	env.datasets.respond = func(string) ([]map[string]any, []string, error) {
		return nil, nil, errors.New(firstErr)
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "typical tenure?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Error != firstErr {
		t.Fatalf("result.Error = %q, want the first failure", result.Error)
	}
	if result.SQL != "SELECT tenur FROM telco" {
		t.Fatalf("result.SQL = %q, want the first attempt", result.SQL)
	}
	if len(env.datasets.queries) != 1 {
		t.Fatalf("execute calls = %d, want 1", len(env.datasets.queries))
	}
}

func TestRunCapsRowsAtOneHundred(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")
	env.llm.script("sql", "SELECT customer_id FROM telco")
	env.llm.script("explain", "Here are all customers.")
	env.datasets.respond = func(string) ([]map[string]any, []string, error) {
		rows := make([]map[string]any, 150)
		for i := range rows {
			rows[i] = map[string]any{"customer_id": fmt.Sprintf("C%03d", i)}
		}
		return rows, []string{"customer_id"}, nil
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "list all customers"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 100 {
		t.Fatalf("len(result.Rows) = %d, want 100", len(result.Rows))
	}
	if result.RowCount != 150 {
		t.Fatalf("result.RowCount = %d, want 150", result.RowCount)
	}
}

func TestRunExplainFallback(t *testing.T) {
	env := newRunnerEnv(t)
	env.llm.script("classify", "SQL")
	env.llm.script("sql", "SELECT COUNT(*) AS total FROM telco")
	env.llm.fail("explain", fmt.Errorf("%w: overloaded", llm.ErrUnavailable))
	env.datasets.respond = func(string) ([]map[string]any, []string, error) {
		return []map[string]any{{"total": int64(7043)}}, []string{"total"}, nil
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "how many customers?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Explanation != fallbackExplanation {
		t.Fatalf("result.Explanation = %q", result.Explanation)
	}
}

func TestRunCachedTranslationSkipsGeneration(t *testing.T) {
	env := newRunnerEnv(t)
	env.runner.cache = cache.NewTranslations(true, time.Minute)
	env.runner.cache.Put("d1", "sql", "how many customers?", "SELECT COUNT(*) AS total FROM telco")
	env.llm.script("classify", "SQL")
	env.llm.script("explain", "There are 7043 customers.")
	env.datasets.respond = func(string) ([]map[string]any, []string, error) {
		return []map[string]any{{"total": int64(7043)}}, []string{"total"}, nil
	}

	result, err := env.runner.Run(context.Background(), Request{Question: "how many customers?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.SQL != "SELECT COUNT(*) AS total FROM telco" {
		t.Fatalf("result.SQL = %q", result.SQL)
	}
	for _, op := range env.llm.calls {
		if op == "sql" {
			t.Fatalf("cache hit still called the model: %v", env.llm.calls)
		}
	}
}

func TestRunReusesRequestedSession(t *testing.T) {
	env := newRunnerEnv(t)
	env.sessions.sessions["s1"] = session.Session{
		ID: "s1",
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "earlier question"},
			{Role: session.RoleAssistant, Content: "earlier answer"},
		},
	}
	env.llm.script("classify", "GENERAL")
	env.llm.script("general", "Of course.")

	result, err := env.runner.Run(context.Background(), Request{Question: "can you help?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.SessionID != "s1" {
		t.Fatalf("result.SessionID = %q", result.SessionID)
	}
	if !strings.Contains(env.llm.prompts["general"][0], "earlier question") {
		t.Fatalf("general prompt missing session history")
	}
}

type runnerEnv struct {
	runner   *Runner
	llm      *scriptedLLM
	datasets *stubDatasets
	sessions *stubSessions
}

func newRunnerEnv(t *testing.T) *runnerEnv {
	t.Helper()
	env := &runnerEnv{
		llm:      newScriptedLLM(),
		datasets: newStubDatasets(),
		sessions: newStubSessions(),
	}
	ids := 0
	runner, err := NewRunner(RunnerOptions{
		Datasets: env.datasets,
		Sessions: env.sessions,
		LLM:      env.llm,
		Clock: func() time.Time {
			return time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)
		},
		NewSessionID: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	env.runner = runner
	return env
}

// scriptedLLM replays canned responses per pipeline operation, keyed by
// the prompt's answer anchor.
type scriptedLLM struct {
	replies map[string][]string
	errs    map[string]error
	calls   []string
	prompts map[string][]string
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		replies: make(map[string][]string),
		errs:    make(map[string]error),
		prompts: make(map[string][]string),
	}
}

func (s *scriptedLLM) script(operation, reply string) {
	s.replies[operation] = append(s.replies[operation], reply)
}

func (s *scriptedLLM) fail(operation string, err error) {
	s.errs[operation] = err
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	operation := operationOf(req.Prompt)
	s.calls = append(s.calls, operation)
	s.prompts[operation] = append(s.prompts[operation], req.Prompt)
	if err := s.errs[operation]; err != nil {
		return "", err
	}
	queued := s.replies[operation]
	if len(queued) == 0 {
		return "", fmt.Errorf("no scripted reply for operation %q", operation)
	}
	s.replies[operation] = queued[1:]
	return queued[0], nil
}

func (s *scriptedLLM) Healthy(context.Context) bool { return true }

func (s *scriptedLLM) Model() string { return "scripted" }

func operationOf(promptText string) string {
	switch {
	case strings.HasSuffix(promptText, "CATEGORY:"):
		return "classify"
	case strings.HasSuffix(promptText, "CORRECTED SQL:"):
		return "repair"
	case strings.HasSuffix(promptText, "SQL (start with SELECT, nothing before it):"):
		return "sql"
	case strings.HasSuffix(promptText, "ANSWER:"):
		return "general"
	default:
		return "explain"
	}
}

type stubDatasets struct {
	schema  dataset.Schema
	hasData bool
	queries []string
	respond func(sqlText string) ([]map[string]any, []string, error)
}

func newStubDatasets() *stubDatasets {
	return &stubDatasets{
		hasData: true,
		schema: dataset.Schema{
			ID:        "d1",
			TableName: "telco",
			RowCount:  4,
			Columns: []dataset.Column{
				{Name: "customer_id", Type: "VARCHAR"},
				{Name: "tenure", Type: "BIGINT"},
				{Name: "churn", Type: "VARCHAR"},
			},
			Sample: []map[string]any{
				{"customer_id": "C001", "tenure": int64(12), "churn": "No"},
			},
		},
	}
}

func (s *stubDatasets) Schema(_ context.Context, id string) (dataset.Schema, error) {
	if !s.hasData || id != s.schema.ID {
		return dataset.Schema{}, dataset.ErrNotFound
	}
	return s.schema, nil
}

func (s *stubDatasets) Latest() (dataset.Metadata, bool) {
	if !s.hasData {
		return dataset.Metadata{}, false
	}
	return dataset.Metadata{ID: s.schema.ID, TableName: s.schema.TableName}, true
}

func (s *stubDatasets) ExecuteQuery(_ context.Context, _, sqlText string) ([]map[string]any, []string, error) {
	s.queries = append(s.queries, sqlText)
	if s.respond != nil {
		return s.respond(sqlText)
	}
	return []map[string]any{}, []string{}, nil
}

type stubSessions struct {
	sessions  map[string]session.Session
	appended  map[string][]session.Message
	ensureErr error
}

func newStubSessions() *stubSessions {
	return &stubSessions{
		sessions: make(map[string]session.Session),
		appended: make(map[string][]session.Message),
	}
}

func (s *stubSessions) EnsureSession(_ context.Context, id, firstQuestion string, now time.Time) (session.Session, error) {
	if s.ensureErr != nil {
		return session.Session{}, s.ensureErr
	}
	if existing, ok := s.sessions[id]; ok {
		return existing, nil
	}
	created := session.Session{ID: id, Title: session.Title(firstQuestion), CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = created
	return created, nil
}

func (s *stubSessions) AppendMessages(_ context.Context, id string, messages ...session.Message) (session.Session, error) {
	s.appended[id] = append(s.appended[id], messages...)
	sess := s.sessions[id]
	sess.Messages = append(sess.Messages, messages...)
	s.sessions[id] = sess
	return sess, nil
}
