package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/pipeline"
)

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request pipeline.Request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Pipeline.Run(r.Context(), request)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	// A double execution failure is a completed turn; it keeps the
	// Result shape and signals via 422 rather than the envelope.
	if result.Failed() {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question cannot be empty", false, nil)
	case errors.Is(err, pipeline.ErrNoDataset):
		writeError(r.Context(), w, http.StatusNotFound, "NO_DATASET", "no dataset is loaded; upload one first", false, nil)
	case errors.Is(err, llm.ErrUnavailable):
		writeError(r.Context(), w, http.StatusBadGateway, "LLM_UNAVAILABLE", "inference service is unavailable", true, map[string]any{"details": err.Error()})
	case errors.Is(err, pipeline.ErrEmptyGeneration):
		writeError(r.Context(), w, http.StatusInternalServerError, "EMPTY_GENERATION", "model returned an empty query", true, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_FAILED", "query pipeline failed", true, map[string]any{"details": err.Error()})
	}
}
