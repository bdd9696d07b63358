// Package api is the HTTP surface of the service. Handlers stay thin:
// decode, call the owning component, map sentinel errors onto the JSON
// error envelope. Pipeline double failures are the one exception; they
// return the normal Result shape with a 422 because a query that ran
// and failed is an outcome, not a transport error.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/maintenance"
	"github.com/tabletalk/tabletalk/internal/mirror"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/session"
)

type ReadinessCheck func(ctx context.Context) error

type DatasetRegistry interface {
	Register(ctx context.Context, raw []byte, filename string) (dataset.Schema, error)
	ListAll(ctx context.Context) ([]dataset.Summary, error)
	Schema(ctx context.Context, id string) (dataset.Schema, error)
	Delete(ctx context.Context, id string) (dataset.Metadata, error)
	Data(ctx context.Context, id string, limit int) (dataset.DataPage, error)
	Sample(ctx context.Context, id string, n int) (dataset.SamplePage, error)
	ColumnValues(ctx context.Context, id, column string) (dataset.ColumnValues, error)
	ColumnCounts(ctx context.Context, id, column string) (dataset.ColumnCounts, error)
	Stats(ctx context.Context, id string) (dataset.Stats, error)
	LoadedCount() int
}

type QueryRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type SessionReader interface {
	ListSessions(ctx context.Context) ([]session.Session, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
}

type MirrorService interface {
	UploadCSV(ctx context.Context, raw []byte, filename string) (mirror.UploadResult, error)
	Query(ctx context.Context, question, table string) (mirror.QueryResult, error)
	ListTables(ctx context.Context) ([]mirror.TableInfo, error)
	TableSchema(ctx context.Context, table string) (mirror.TableSchema, error)
	Stats(ctx context.Context, table string) (dataset.Stats, error)
	Connected(ctx context.Context) bool
}

type MaintenanceRunner interface {
	RunRetentionOnce(ctx context.Context) (maintenance.RetentionSummary, error)
	RunIntegrityCheckOnce(ctx context.Context) (maintenance.IntegritySummary, error)
}

type LLMProbe interface {
	Healthy(ctx context.Context) bool
	Model() string
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Registry          DatasetRegistry
	Pipeline          QueryRunner
	Sessions          SessionReader
	Mirror            MirrorService
	Maintenance       MaintenanceRunner
	LLM               LLMProbe
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(deps, w, r)
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleUploadDataset(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleListDatasets(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetDataset(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/datasets/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDataset(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{id}/data", func(w http.ResponseWriter, r *http.Request) {
		handleDatasetData(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{id}/sample", func(w http.ResponseWriter, r *http.Request) {
		handleDatasetSample(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{id}/columns", func(w http.ResponseWriter, r *http.Request) {
		handleDatasetColumns(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{id}/columns/{col}/values", func(w http.ResponseWriter, r *http.Request) {
		handleColumnValues(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{id}/columns/{col}/counts", func(w http.ResponseWriter, r *http.Request) {
		handleColumnCounts(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		handleDatasetStats(deps, w, r)
	})

	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleListSessions(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(deps, w, r)
	})

	protected.HandleFunc("POST /v1/mirror/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleMirrorUpload(deps, w, r)
	})
	protected.HandleFunc("GET /v1/mirror/tables", func(w http.ResponseWriter, r *http.Request) {
		handleMirrorTables(deps, w, r)
	})
	protected.HandleFunc("GET /v1/mirror/tables/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleMirrorTableSchema(deps, w, r)
	})
	protected.HandleFunc("GET /v1/mirror/tables/{table}/stats", func(w http.ResponseWriter, r *http.Request) {
		handleMirrorStats(deps, w, r)
	})
	protected.HandleFunc("POST /v1/mirror/query", func(w http.ResponseWriter, r *http.Request) {
		handleMirrorQuery(deps, w, r)
	})

	protected.HandleFunc("POST /v1/retention/run", func(w http.ResponseWriter, r *http.Request) {
		handleRetentionRun(deps, w, r)
	})
	protected.HandleFunc("POST /v1/integrity/run", func(w http.ResponseWriter, r *http.Request) {
		handleIntegrityRun(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/datasets", protectedHandler)
	mux.Handle("GET /v1/datasets", protectedHandler)
	mux.Handle("GET /v1/datasets/{id}", protectedHandler)
	mux.Handle("DELETE /v1/datasets/{id}", protectedHandler)
	mux.Handle("GET /v1/datasets/{id}/data", protectedHandler)
	mux.Handle("GET /v1/datasets/{id}/sample", protectedHandler)
	mux.Handle("GET /v1/datasets/{id}/columns", protectedHandler)
	mux.Handle("GET /v1/datasets/{id}/columns/{col}/values", protectedHandler)
	mux.Handle("GET /v1/datasets/{id}/columns/{col}/counts", protectedHandler)
	mux.Handle("GET /v1/datasets/{id}/stats", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("GET /v1/sessions", protectedHandler)
	mux.Handle("GET /v1/sessions/{id}", protectedHandler)
	mux.Handle("POST /v1/mirror/datasets", protectedHandler)
	mux.Handle("GET /v1/mirror/tables", protectedHandler)
	mux.Handle("GET /v1/mirror/tables/{table}", protectedHandler)
	mux.Handle("GET /v1/mirror/tables/{table}/stats", protectedHandler)
	mux.Handle("POST /v1/mirror/query", protectedHandler)
	mux.Handle("POST /v1/retention/run", protectedHandler)
	mux.Handle("POST /v1/integrity/run", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func handleHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	llmReachable := false
	llmModel := ""
	if deps.LLM != nil {
		llmModel = deps.LLM.Model()
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		llmReachable = deps.LLM.Healthy(ctx)
		cancel()
	}

	loaded := 0
	total := 0
	if deps.Registry != nil {
		loaded = deps.Registry.LoadedCount()
		total = loaded
		if summaries, err := deps.Registry.ListAll(r.Context()); err == nil {
			total = len(summaries)
		}
	}

	mirrorConnected := false
	if deps.Mirror != nil {
		mirrorConnected = deps.Mirror.Connected(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                    "ok",
		"llm_reachable":             llmReachable,
		"llm_model":                 llmModel,
		"datasets_loaded":           loaded,
		"total_datasets":            total,
		"alternate_store_connected": mirrorConnected,
	})
}

func CheckStateDir(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Storage.DataDir == "" {
			return errors.New("data dir is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Storage.Backend != config.ObjectStoreS3 {
			return nil
		}
		if cfg.Storage.S3.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.Storage.S3.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CheckMirror(svc MirrorService) ReadinessCheck {
	return func(ctx context.Context) error {
		if svc == nil {
			return nil
		}
		if !svc.Connected(ctx) {
			return errors.New("mirror database is unreachable")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.Allows(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
