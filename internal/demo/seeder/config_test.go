package seeder

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.Filename != "telco_churn.csv" {
		t.Fatalf("Filename = %q", cfg.Filename)
	}
	if cfg.Rows <= 0 {
		t.Fatalf("Rows = %d", cfg.Rows)
	}
	if cfg.AskSamples {
		t.Fatal("AskSamples = true, want false")
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"TABLETALK_SEED_API_URL":      "http://demo.local:18080",
		"TABLETALK_SEED_API_KEY":      "abc",
		"TABLETALK_SEED_FILENAME":     "orders.csv",
		"TABLETALK_SEED_ROWS":         "250",
		"TABLETALK_SEED_SEED":         "12345",
		"TABLETALK_SEED_ASK":          "true",
		"TABLETALK_SEED_HTTP_TIMEOUT": "45s",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.APIBaseURL != "http://demo.local:18080" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.APIKey != "abc" {
		t.Fatalf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Filename != "orders.csv" {
		t.Fatalf("Filename = %q", cfg.Filename)
	}
	if cfg.Rows != 250 {
		t.Fatalf("Rows = %d", cfg.Rows)
	}
	if cfg.Seed != 12345 {
		t.Fatalf("Seed = %d", cfg.Seed)
	}
	if !cfg.AskSamples {
		t.Fatal("AskSamples = false, want true")
	}
	if cfg.HTTPTimeout != 45*time.Second {
		t.Fatalf("HTTPTimeout = %s", cfg.HTTPTimeout)
	}
}

func TestLoadConfigFromEnvRejectsInvalidRows(t *testing.T) {
	_, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"TABLETALK_SEED_ROWS": "0",
	}))
	if err == nil || !strings.Contains(err.Error(), "TABLETALK_SEED_ROWS") {
		t.Fatalf("error = %v, want rows validation error", err)
	}
}

func TestLoadConfigFromEnvRejectsNonCSVFilename(t *testing.T) {
	_, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"TABLETALK_SEED_FILENAME": "churn.parquet",
	}))
	if err == nil || !strings.Contains(err.Error(), "TABLETALK_SEED_FILENAME") {
		t.Fatalf("error = %v, want filename validation error", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}
