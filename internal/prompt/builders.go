package prompt

import (
	"fmt"
	"strings"

	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/session"
)

// Sentinel the generation prompts demand for questions about columns
// that do not exist. The pipeline never inspects it; it simply executes
// and the single-cell result tells the user what happened.
const ColumnNotFoundQuery = "SELECT 'COLUMN_NOT_FOUND' AS message"

// Classify builds the routing prompt. schema is nil when no dataset is
// loaded; the classifier needs to know either way, because a data
// question without data still has to route somewhere.
func Classify(question string, schema *dataset.Schema, history []session.Message) string {
	var b strings.Builder
	b.WriteString("You are a query router for a data analysis assistant.\n\n")

	if schema != nil {
		names := make([]string, len(schema.Columns))
		for i, col := range schema.Columns {
			names[i] = col.Name
		}
		fmt.Fprintf(&b, "DATASET STATUS: a dataset is loaded. Columns: %s\n\n", strings.Join(names, ", "))
	} else {
		b.WriteString("DATASET STATUS: no dataset is loaded.\n\n")
	}

	writeHistory(&b, history)

	b.WriteString("Classify the user's question into exactly one category:\n")
	b.WriteString("- SQL: asks about the uploaded data and can be answered by filtering, grouping, counting or aggregating it.\n")
	b.WriteString("- COMPUTE: asks about the uploaded data AND needs extra arithmetic such as unit conversions, percentages or projections.\n")
	b.WriteString("- GENERAL: needs no dataset at all (definitions, advice, general knowledge).\n\n")

	fmt.Fprintf(&b, "USER QUESTION: %s\n\n", question)
	b.WriteString("Answer with exactly one word: SQL, COMPUTE, or GENERAL.\n\n")
	b.WriteString("CATEGORY:")
	return b.String()
}

// GenerateSQL builds the plain data-question prompt.
func GenerateSQL(question string, schema dataset.Schema, history []session.Message) string {
	var b strings.Builder
	b.WriteString("You are a DuckDB SQL expert. Your ONLY job is to output a single SQL SELECT query.\n\n")
	writeDatabaseInfo(&b, schema)
	writeHistory(&b, history)
	writeStrictRules(&b)
	fmt.Fprintf(&b, "USER QUESTION: %s\n\n", question)
	b.WriteString("SQL (start with SELECT, nothing before it):")
	return b.String()
}

// GenerateCompute builds the arithmetic-heavy variant: same contract as
// GenerateSQL plus fixed conversion constants and cast hints for
// numbers stored as text.
func GenerateCompute(question string, schema dataset.Schema, history []session.Message) string {
	var b strings.Builder
	b.WriteString("You are a DuckDB SQL expert. The question needs arithmetic on top of the data. Your ONLY job is to output a single SQL SELECT query that does the math.\n\n")
	writeDatabaseInfo(&b, schema)
	b.WriteString("CONVERSION CONSTANTS:\n")
	b.WriteString("  - 12 months = 1 year\n")
	b.WriteString("  - 52 weeks = 1 year\n")
	b.WriteString("  - 7 days = 1 week\n")
	b.WriteString("  - 24 hours = 1 day\n")
	b.WriteString("  - 60 minutes = 1 hour\n")
	b.WriteString("  - 100 cents = 1 dollar\n")
	b.WriteString("  - 1024 KB = 1 MB, 1024 MB = 1 GB, 1024 GB = 1 TB\n")
	b.WriteString("  - percentage = ratio * 100\n\n")
	writeCastHints(&b, schema)
	writeHistory(&b, history)
	writeStrictRules(&b)
	fmt.Fprintf(&b, "USER QUESTION: %s\n\n", question)
	b.WriteString("SQL (start with SELECT, nothing before it):")
	return b.String()
}

// Repair builds the one-shot correction prompt from a failed attempt.
// The engine error goes in verbatim; summarizing it would strip the
// detail (usually the misspelled column) the model needs to fix it.
func Repair(question string, schema dataset.Schema, failedSQL, engineError string) string {
	var b strings.Builder
	b.WriteString("You are a DuckDB SQL expert. Your previous SQL query failed. Fix it.\n\n")
	fmt.Fprintf(&b, "Table: %s\n", schema.TableName)
	b.WriteString("Columns (use ONLY these, exactly as shown):\n")
	writeColumnLines(&b, schema.Columns)
	b.WriteString("\n")
	writeCastHints(&b, schema)
	fmt.Fprintf(&b, "FAILED SQL:\n%s\n\n", failedSQL)
	fmt.Fprintf(&b, "ERROR MESSAGE:\n%s\n\n", engineError)
	fmt.Fprintf(&b, "USER QUESTION: %s\n\n", question)
	b.WriteString("Write a CORRECTED SQL query. Output ONLY the raw SQL, nothing else. No explanation, no backticks, no markdown.\n\n")
	b.WriteString("CORRECTED SQL:")
	return b.String()
}

// General builds the no-database answer prompt.
func General(question string, schema *dataset.Schema, history []session.Message) string {
	var b strings.Builder
	b.WriteString("You are a helpful data analyst assistant.\n\n")

	if schema != nil {
		names := make([]string, len(schema.Columns))
		for i, col := range schema.Columns {
			names[i] = col.Name
		}
		fmt.Fprintf(&b, "CONTEXT: the user has a dataset loaded (table %s, %d rows). Columns: %s\n\n",
			schema.TableName, schema.RowCount, strings.Join(names, ", "))
	} else {
		b.WriteString("CONTEXT: the user has no dataset loaded.\n\n")
	}

	writeHistory(&b, history)

	b.WriteString("Answer the user's question from general knowledge. Be concise and practical.\n")
	b.WriteString("If the question can only be answered with data you do not have, say there is not enough data to answer it. Never invent numbers.\n")
	b.WriteString("Do NOT use markdown. Plain text only.\n\n")
	fmt.Fprintf(&b, "USER QUESTION: %s\n\n", question)
	b.WriteString("ANSWER:")
	return b.String()
}

// Explain builds the result-explanation prompt. At most 10 rows go in,
// floats rounded to 2 decimals.
func Explain(question string, columns []string, rows []map[string]any) string {
	var b strings.Builder
	b.WriteString("You are a friendly data analyst helping a non-technical business user understand data.\n\n")
	fmt.Fprintf(&b, "The user asked: %q\n", question)
	b.WriteString("Query results:\n")
	if len(rows) > 0 {
		b.WriteString(strings.Join(columns, " | "))
		b.WriteString("\n")
		preview := rows
		if len(preview) > 10 {
			preview = preview[:10]
		}
		for _, row := range preview {
			cells := make([]string, len(columns))
			for i, name := range columns {
				cells[i] = roundedValue(row[name])
			}
			b.WriteString(strings.Join(cells, " | "))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString("Write 1-3 clear sentences explaining what these numbers mean in plain English.\n")
	b.WriteString("Use specific numbers from the results. Be direct and concrete.\n")
	b.WriteString("Do NOT mention SQL, databases, queries, or technical terms.\n")
	b.WriteString("Do NOT use markdown. Plain text only.")
	return b.String()
}

func writeDatabaseInfo(b *strings.Builder, schema dataset.Schema) {
	b.WriteString("DATABASE INFO:\n")
	fmt.Fprintf(b, "Table name (exact, case-sensitive): %s\n", schema.TableName)
	b.WriteString("Columns (use EXACTLY these names, lowercase):\n")
	writeColumnLines(b, schema.Columns)
	writeSampleTable(b, schema.Columns, schema.Sample)
	b.WriteString("\n")
}

func writeStrictRules(b *strings.Builder) {
	b.WriteString("STRICT RULES (violating any rule makes your answer wrong):\n")
	b.WriteString("1. Output THE SQL QUERY ONLY. Zero other text. No explanation, no greeting, no notes.\n")
	b.WriteString("2. No markdown. No backticks. No ```sql blocks. Just raw SQL starting with SELECT.\n")
	b.WriteString("3. Use ONLY the column names listed above, spelled exactly as shown (they are all lowercase).\n")
	b.WriteString("4. Use DuckDB syntax: use CAST(x AS DOUBLE) for divisions, not :: syntax.\n")
	b.WriteString("5. Always alias computed columns: SELECT COUNT(*) AS total_count\n")
	b.WriteString("6. Add LIMIT 100 at the end unless the user explicitly asks for all rows.\n")
	b.WriteString("7. For YES/NO columns, values are exactly 'Yes' or 'No' (capital first letter).\n")
	b.WriteString("8. Never use subqueries when a simple GROUP BY works.\n")
	fmt.Fprintf(b, "9. If the question needs a column or metric that is NOT listed above, output exactly: %s\n", ColumnNotFoundQuery)
	b.WriteString("\n")
}
