package tabular

import (
	"math"
	"testing"
)

func TestSanitizeValueNonFiniteFloats(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := SanitizeValue(v); got != nil {
			t.Fatalf("SanitizeValue(%v) = %v, want nil", v, got)
		}
	}
	if got := SanitizeValue(float32(math.NaN())); got != nil {
		t.Fatalf("SanitizeValue(float32 NaN) = %v, want nil", got)
	}
}

func TestSanitizeValuePassesFiniteThrough(t *testing.T) {
	cases := []any{29.85, int64(7), "Yes", nil, true, float32(1.5)}
	for _, v := range cases {
		if got := SanitizeValue(v); got != v {
			t.Fatalf("SanitizeValue(%v) = %v, want unchanged", v, got)
		}
	}
}

func TestSanitizeRow(t *testing.T) {
	row := map[string]any{"ok": 1.5, "bad": math.Inf(1)}
	got := SanitizeRow(row)
	if got["ok"] != 1.5 {
		t.Fatalf("ok = %v, want 1.5", got["ok"])
	}
	if got["bad"] != nil {
		t.Fatalf("bad = %v, want nil", got["bad"])
	}
}
