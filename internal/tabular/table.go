// Package tabular is the shared model for parsed tabular input. Both the
// dataset registry and the Postgres mirror decode uploads through it, so
// column normalization and type inference exist exactly once.
package tabular

import (
	"regexp"
	"strconv"
	"strings"
)

// Table holds decoded tabular input with normalized column names. Values
// stay raw strings; typing is left to the consuming engine.
type Table struct {
	Columns []string
	Records [][]string
}

func (t *Table) RowCount() int {
	return len(t.Records)
}

// ColumnValues returns the raw values of one column in row order.
func (t *Table) ColumnValues(name string) ([]string, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Records))
	for i, rec := range t.Records {
		out[i] = rec[idx]
	}
	return out, true
}

// Kind is the widest value class observed in a column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
)

var plainNumber = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// LooksNumeric reports whether a raw value is a plain number: optional
// sign, digits, at most one decimal point. Exponents, currency symbols
// and grouping separators do not count.
func LooksNumeric(s string) bool {
	return plainNumber.MatchString(strings.TrimSpace(s))
}

// MostlyNumeric reports whether at least 2 of the first 5 values look
// numeric. It drives the cast hints for text columns that store numbers.
func MostlyNumeric(values []string) bool {
	limit := len(values)
	if limit > 5 {
		limit = 5
	}
	hits := 0
	for _, v := range values[:limit] {
		if LooksNumeric(v) {
			hits++
		}
	}
	return hits >= 2
}

// InferKind scans a column's values and returns the narrowest kind that
// fits all of them. Empty cells are ignored; an all-empty column is text.
func InferKind(values []string) Kind {
	kind := KindInteger
	sawValue := false
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		sawValue = true
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			kind = KindFloat
			continue
		}
		return KindText
	}
	if !sawValue {
		return KindText
	}
	return kind
}
