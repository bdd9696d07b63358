package tabular

import (
	"fmt"
	"path/filepath"
	"strings"
)

// NormalizeColumn maps a raw header to its canonical form: trimmed,
// spaces replaced with underscores, lower-cased. Normalizing an already
// normalized name returns it unchanged.
func NormalizeColumn(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// NormalizeColumns normalizes every header and guarantees uniqueness.
// Empty headers become column_<position>; collisions after normalization
// get a numeric suffix.
func NormalizeColumns(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		normalized := NormalizeColumn(name)
		if normalized == "" {
			normalized = fmt.Sprintf("column_%d", i+1)
		}
		candidate := normalized
		for n := 2; seen[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", normalized, n)
		}
		seen[candidate] = true
		out[i] = candidate
	}
	return out
}

// TableName derives a SQL table name from an uploaded filename: extension
// stripped, spaces to underscores, lower-cased, capped at 40 runes.
func TableName(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	lower := strings.ToLower(base)
	for _, ext := range []string{".csv", ".parquet"} {
		if strings.HasSuffix(lower, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "_"))
	runes := []rune(base)
	if len(runes) > 40 {
		base = string(runes[:40])
	}
	if base == "" || base == "." {
		return "dataset"
	}
	return base
}
