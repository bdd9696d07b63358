// Package llm talks to the inference backend. Providers implement the
// Client interface; everything above it treats generation as a single
// prompt-in, text-out call with fixed per-operation parameters.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every transport-level failure: connection
// errors, non-2xx statuses, undecodable bodies. Callers map it to a
// 502 and never retry here.
var ErrUnavailable = errors.New("llm unavailable")

// Params are the sampling knobs for one generation call.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Fixed parameter sets per pipeline operation. Classification needs a
// single word back, so it gets almost no token budget.
var (
	ClassifyParams = Params{Temperature: 0.0, MaxTokens: 5}
	SQLParams      = Params{Temperature: 0.0, MaxTokens: 512}
	ExplainParams  = Params{Temperature: 0.3, MaxTokens: 512}
	GeneralParams  = Params{Temperature: 0.1, MaxTokens: 400}
)

type GenerateRequest struct {
	Prompt string
	Params
}

type Client interface {
	// Generate runs one completion and returns the trimmed text.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Healthy reports whether the backend answers its liveness probe.
	Healthy(ctx context.Context) bool
	// Model returns the configured model name for health reporting.
	Model() string
}
