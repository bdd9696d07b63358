package seeder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	APIBaseURL  string
	APIKey      string
	Filename    string
	Rows        int
	Seed        int64
	AskSamples  bool
	HTTPTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:  "http://localhost:8080",
		APIKey:      "",
		Filename:    "telco_churn.csv",
		Rows:        500,
		Seed:        time.Now().UTC().UnixNano(),
		AskSamples:  false,
		HTTPTimeout: 30 * time.Second,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "TABLETALK_SEED_API_URL", &cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_SEED_API_KEY", &cfg.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLETALK_SEED_FILENAME", &cfg.Filename); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "TABLETALK_SEED_ROWS", &cfg.Rows); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "TABLETALK_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLETALK_SEED_ASK", &cfg.AskSamples); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLETALK_SEED_HTTP_TIMEOUT", &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return Config{}, fmt.Errorf("TABLETALK_SEED_API_URL is required")
	}
	if strings.TrimSpace(cfg.Filename) == "" {
		return Config{}, fmt.Errorf("TABLETALK_SEED_FILENAME is required")
	}
	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(cfg.Filename)), ".csv") {
		return Config{}, fmt.Errorf("TABLETALK_SEED_FILENAME must end in .csv")
	}
	if cfg.Rows <= 0 {
		return Config{}, fmt.Errorf("TABLETALK_SEED_ROWS must be > 0")
	}
	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("TABLETALK_SEED_HTTP_TIMEOUT must be > 0")
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Filename = strings.TrimSpace(cfg.Filename)
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
