package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/dataset"
)

// uploadMemoryLimit caps how much of a multipart body stays in memory
// before spilling to disk. The file itself is read fully either way.
const uploadMemoryLimit = 32 << 20

func handleUploadDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
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

	filename := header.Filename
	if name := strings.TrimSpace(r.FormValue("name")); name != "" {
		// A custom name keeps the original extension so format
		// detection still works.
		filename = name + strings.ToLower(filepath.Ext(header.Filename))
	}

	schema, err := deps.Registry.Register(r.Context(), raw, filename)
	if err != nil {
		switch {
		case errors.Is(err, dataset.ErrUnsupportedFormat):
			writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
		case errors.Is(err, dataset.ErrBadInput):
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "INVALID_FILE", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", "failed to register dataset", true, map[string]any{"details": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": fmt.Sprintf("Loaded %d rows into table '%s'.", schema.RowCount, schema.TableName),
		"dataset": schema,
	})
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	summaries, err := deps.Registry.ListAll(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_LIST_FAILED", "failed to list datasets", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": summaries})
}

func handleGetDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	schema, err := deps.Registry.Schema(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	meta, err := deps.Registry.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Dataset '%s' deleted.", meta.Filename),
	})
}

func handleDatasetData(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit, ok := intQueryParam(w, r, "limit")
	if !ok {
		return
	}
	page, err := deps.Registry.Data(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func handleDatasetSample(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	n, ok := intQueryParam(w, r, "n")
	if !ok {
		return
	}
	page, err := deps.Registry.Sample(r.Context(), r.PathValue("id"), n)
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func handleDatasetColumns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	schema, err := deps.Registry.Schema(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table_name": schema.TableName,
		"columns":    schema.Columns,
	})
}

func handleColumnValues(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	id := r.PathValue("id")
	column := r.PathValue("col")
	values, err := deps.Registry.ColumnValues(r.Context(), id, column)
	if err != nil {
		if errors.Is(err, dataset.ErrColumnUnknown) {
			writeUnknownColumn(deps, w, r, id, column)
			return
		}
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func handleColumnCounts(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	id := r.PathValue("id")
	column := r.PathValue("col")
	counts, err := deps.Registry.ColumnCounts(r.Context(), id, column)
	if err != nil {
		if errors.Is(err, dataset.ErrColumnUnknown) {
			writeUnknownColumn(deps, w, r, id, column)
			return
		}
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func handleDatasetStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	stats, err := deps.Registry.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeDatasetError maps registry sentinels onto the envelope; anything
// unrecognized is a 500.
func writeDatasetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "dataset was not found", false, nil)
	case errors.Is(err, dataset.ErrBadInput):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "INVALID_FILE", err.Error(), false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_ERROR", "dataset operation failed", true, map[string]any{"details": err.Error()})
	}
}

// writeUnknownColumn answers a 400 with the real column names so the
// caller can self-correct.
func writeUnknownColumn(deps Dependencies, w http.ResponseWriter, r *http.Request, id, column string) {
	available := make([]string, 0)
	if schema, err := deps.Registry.Schema(r.Context(), id); err == nil {
		for _, col := range schema.Columns {
			available = append(available, col.Name)
		}
	}
	writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_COLUMN", fmt.Sprintf("column %q does not exist", column), false, map[string]any{
		"column":    column,
		"available": available,
	})
}

// intQueryParam reads an optional integer query parameter. Zero means
// absent; callers rely on their own defaults. Returns false after
// writing a 400 for garbage input.
func intQueryParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_PARAM", fmt.Sprintf("query parameter %q must be a non-negative integer", name), false, nil)
		return 0, false
	}
	return value, true
}
