package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/mirror"
)

type mirrorQueryRequest struct {
	Question string `json:"question"`
	Table    string `json:"table"`
}

func handleMirrorUpload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Mirror == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MIRROR_DISABLED", "mirror store is not enabled", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "request body must be multipart form data", false, map[string]any{"details": err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, nil)
		return
	}
	defer func() { _ = file.Close() }()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_UNREADABLE", "failed to read uploaded file", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Mirror.UploadCSV(r.Context(), raw, header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, mirror.ErrUnsupportedFormat):
			writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
		case errors.Is(err, mirror.ErrBadInput):
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "INVALID_FILE", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "MIRROR_UPLOAD_FAILED", "failed to load table into mirror", true, map[string]any{"details": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleMirrorTables lists the mirror catalog. An unreachable database
// answers 503 so callers can distinguish "empty" from "down".
func handleMirrorTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Mirror == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MIRROR_DISABLED", "mirror store is not enabled", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	tables, err := deps.Mirror.ListTables(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "MIRROR_UNAVAILABLE", "mirror database is unreachable", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func handleMirrorTableSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Mirror == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MIRROR_DISABLED", "mirror store is not enabled", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	schema, err := deps.Mirror.TableSchema(r.Context(), r.PathValue("table"))
	if err != nil {
		writeMirrorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func handleMirrorStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Mirror == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MIRROR_DISABLED", "mirror store is not enabled", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	stats, err := deps.Mirror.Stats(r.Context(), r.PathValue("table"))
	if err != nil {
		writeMirrorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func handleMirrorQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Mirror == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MIRROR_DISABLED", "mirror store is not enabled", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request mirrorQueryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid mirror query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Table) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table is required", false, nil)
		return
	}

	result, err := deps.Mirror.Query(r.Context(), request.Question, request.Table)
	if err != nil {
		writeMirrorError(w, r, err)
		return
	}
	if result.Failed() {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeMirrorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mirror.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question cannot be empty", false, nil)
	case errors.Is(err, mirror.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "MIRROR_TABLE_NOT_FOUND", "mirror table was not found", false, nil)
	case errors.Is(err, llm.ErrUnavailable):
		writeError(r.Context(), w, http.StatusBadGateway, "LLM_UNAVAILABLE", "inference service is unavailable", true, map[string]any{"details": err.Error()})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "MIRROR_ERROR", "mirror operation failed", true, map[string]any{"details": err.Error()})
	}
}
