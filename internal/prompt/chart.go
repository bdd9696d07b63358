package prompt

import "strings"

// Chart type tags attached to every pipeline result. The frontend maps
// them straight to chart components; "table" is the catch-all.
const (
	ChartNone  = "none"
	ChartKPI   = "kpi"
	ChartLine  = "line"
	ChartBar   = "bar"
	ChartTable = "table"
)

var temporalColumnNames = map[string]struct{}{
	"date": {}, "month": {}, "year": {}, "time": {}, "tenure": {}, "period": {},
}

// ChartType picks a visualization for a result set. Deterministic and
// total: every input maps to exactly one tag, no model involved.
func ChartType(columns []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return ChartNone
	}
	if len(rows) == 1 {
		return ChartKPI
	}
	if len(columns) == 2 && isNumericValue(rows[0][columns[1]]) {
		for _, name := range columns {
			if _, ok := temporalColumnNames[strings.ToLower(name)]; ok {
				return ChartLine
			}
		}
		return ChartBar
	}
	if len(columns) >= 2 {
		return ChartBar
	}
	return ChartTable
}

func isNumericValue(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
