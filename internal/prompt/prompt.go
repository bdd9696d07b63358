// Package prompt builds the text sent to the inference service. Every
// builder is a pure function: identical inputs yield identical prompt
// bytes, which keeps the repair loop reproducible and the builders
// testable without a model.
package prompt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/session"
	"github.com/tabletalk/tabletalk/internal/tabular"
)

const sampleRuleWidth = 60

func writeColumnLines(b *strings.Builder, columns []dataset.Column) {
	for _, col := range columns {
		fmt.Fprintf(b, "  - %s (%s)\n", col.Name, col.Type)
	}
}

func writeSampleTable(b *strings.Builder, columns []dataset.Column, sample []map[string]any) {
	if len(sample) == 0 {
		return
	}
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	b.WriteString("\nSample data (first 15 rows):\n")
	b.WriteString(strings.Join(names, " | "))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", sampleRuleWidth))
	b.WriteString("\n")
	for _, row := range sample {
		cells := make([]string, len(names))
		for i, name := range names {
			cells[i] = formatValue(row[name])
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
}

func writeHistory(b *strings.Builder, history []session.Message) {
	window := session.Window(history, session.HistoryWindow)
	if len(window) == 0 {
		return
	}
	b.WriteString("CONVERSATION SO FAR:\n")
	for _, msg := range window {
		speaker := "User"
		if msg.Role == session.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(b, "%s: %s\n", speaker, msg.Content)
	}
	b.WriteString("\n")
}

// castHintColumns lists the text-typed columns whose sampled values are
// mostly plain numbers. Those columns hold numbers stored as text, and
// aggregating them without a cast silently yields garbage.
func castHintColumns(schema dataset.Schema) []string {
	var flagged []string
	for _, col := range schema.Columns {
		if !isTextType(col.Type) {
			continue
		}
		values := make([]string, 0, len(schema.Sample))
		for _, row := range schema.Sample {
			if v, ok := row[col.Name]; ok && v != nil {
				values = append(values, formatValue(v))
			} else {
				values = append(values, "")
			}
		}
		if tabular.MostlyNumeric(values) {
			flagged = append(flagged, col.Name)
		}
	}
	return flagged
}

func writeCastHints(b *strings.Builder, schema dataset.Schema) {
	flagged := castHintColumns(schema)
	if len(flagged) == 0 {
		return
	}
	b.WriteString("CAST HINTS:\n")
	b.WriteString("These text columns contain numeric values. When aggregating them, use TRY_CAST(column AS DOUBLE):\n")
	for _, name := range flagged {
		fmt.Fprintf(b, "  - %s\n", name)
	}
	b.WriteString("\n")
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

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// roundedValue is formatValue with floats rounded to 2 decimals, used
// in the explanation preview so the model does not parrot 12-digit
// fractions back at the user.
func roundedValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(math.Round(t*100)/100, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(math.Round(float64(t)*100)/100, 'f', -1, 64)
	default:
		return formatValue(v)
	}
}
