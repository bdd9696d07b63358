// Package pipeline runs one conversational turn end to end: classify
// the question, generate SQL when it needs data, execute with a single
// repair round, explain the result, pick a chart. Stages run strictly
// in order; the only shared state a run touches is the dataset
// registry and the session store.
package pipeline

import (
	"errors"
	"strings"
)

// Route is the classification outcome of a turn. Tags are lowercase
// because they travel in API responses.
type Route string

const (
	RouteSQL     Route = "sql"
	RouteCompute Route = "compute"
	RouteGeneral Route = "general"
)

// Source names the engine that produced a result.
const (
	SourceDuckDB = "duckdb"
	SourceLLM    = "llm"
)

var (
	ErrEmptyQuestion   = errors.New("question cannot be empty")
	ErrNoDataset       = errors.New("no dataset loaded")
	ErrEmptyGeneration = errors.New("model returned an empty query")
)

// Fixed response texts. The failure explanation deliberately tells the
// user what usually went wrong (a column name the model guessed).
const (
	failedExplanation   = "I couldn't run that query. Try rephrasing — mention the exact column name."
	fallbackExplanation = "Here are the results from your data."
)

type Request struct {
	Question  string `json:"question"`
	DatasetID string `json:"dataset_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Result is the single response shape for every completed turn,
// including executed-twice-and-failed ones (Error set, rows empty).
type Result struct {
	SQL         string           `json:"sql"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	Explanation string           `json:"explanation"`
	ChartType   string           `json:"chart_type"`
	Source      string           `json:"source"`
	Route       Route            `json:"route"`
	SessionID   string           `json:"session_id"`
	Error       string           `json:"error,omitempty"`
}

// Failed reports whether the turn ended in the executed-and-failed
// terminal rather than a successful result.
func (r Result) Failed() bool { return r.Error != "" }

// ParseRoute extracts a route label from a classifier reply. Labels
// are searched in the uppercased text, COMPUTE before GENERAL before
// SQL, because "SQL" is a substring guaranteed to lose ties otherwise.
// No label found means SQL: with a dataset loaded that path can still
// validate the question, while guessing GENERAL would answer a data
// question from thin air.
func ParseRoute(reply string) Route {
	upper := strings.ToUpper(strings.TrimSpace(reply))
	switch {
	case strings.Contains(upper, "COMPUTE"):
		return RouteCompute
	case strings.Contains(upper, "GENERAL"):
		return RouteGeneral
	case strings.Contains(upper, "SQL"):
		return RouteSQL
	default:
		return RouteSQL
	}
}
