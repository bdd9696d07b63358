package tabular

import "math"

// SanitizeValue maps non-finite floats to nil so every value stays JSON
// serializable. Finite values pass through unchanged. Applied at
// ingestion and again at result serialization; it must stay idempotent.
func SanitizeValue(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return nil
		}
	}
	return v
}

// SanitizeRow sanitizes every value of a row in place and returns it.
func SanitizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		row[k] = SanitizeValue(v)
	}
	return row
}
