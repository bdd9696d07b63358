package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/storage"
	"github.com/tabletalk/tabletalk/internal/tabular"
)

const sampleRowCount = 15

type RegistryOptions struct {
	Meta       MetadataStore
	Objects    storage.ObjectStore
	OpenEngine EngineFactory
	Logger     *slog.Logger
	Clock      func() time.Time
	NewID      func() string
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	meta    MetadataStore
	objects storage.ObjectStore
	open    EngineFactory
	logger  *slog.Logger
	clock   func() time.Time
	newID   func() string
}

type entry struct {
	meta   Metadata
	engine Engine
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Meta == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if opts.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if opts.OpenEngine == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = defaultNewID
	}
	return &Registry{
		entries: make(map[string]*entry),
		meta:    opts.Meta,
		objects: opts.Objects,
		open:    opts.OpenEngine,
		logger:  logger,
		clock:   clock,
		newID:   newID,
	}, nil
}

// Register ingests one uploaded file end to end: decode, load an
// engine, persist the raw bytes and the metadata record, and expose
// the dataset for querying.
func (r *Registry) Register(ctx context.Context, raw []byte, filename string) (Schema, error) {
	table, format, err := decodeUpload(raw, filename)
	if err != nil {
		return Schema{}, err
	}

	id := r.newID()
	tableName := tabular.TableName(filename)

	engine, err := r.open(ctx, tableName, table)
	if err != nil {
		return Schema{}, fmt.Errorf("open engine for %q: %w", tableName, err)
	}

	schema, meta, err := r.describe(ctx, id, engine, filename, format)
	if err != nil {
		_ = engine.Close()
		return Schema{}, err
	}

	objectKey, err := storage.BuildRawObjectKey(id, format)
	if err != nil {
		_ = engine.Close()
		return Schema{}, err
	}
	info, err := r.objects.Put(ctx, objectKey, bytes.NewReader(raw), int64(len(raw)), storage.PutOptions{
		ContentType: storage.ContentTypeForFormat(format),
		Metadata:    map[string]string{"original-filename": filename},
	})
	if err != nil {
		_ = engine.Close()
		return Schema{}, fmt.Errorf("store raw upload: %w", err)
	}
	meta.ObjectKey = objectKey
	meta.ObjectSize = info.Size

	if err := r.meta.PutDataset(ctx, meta); err != nil {
		_ = engine.Close()
		_ = r.objects.Delete(ctx, objectKey)
		return Schema{}, fmt.Errorf("record dataset: %w", err)
	}

	r.mu.Lock()
	r.entries[id] = &entry{meta: meta, engine: engine}
	loaded := len(r.entries)
	r.mu.Unlock()
	observability.SetDatasetsLoaded(loaded)

	r.logger.Info("dataset_registered",
		slog.String("dataset_id", id),
		slog.String("table", tableName),
		slog.Int64("rows", meta.RowCount),
		slog.Int("columns", len(meta.Columns)),
	)
	return schema, nil
}

func (r *Registry) describe(ctx context.Context, id string, engine Engine, filename, format string) (Schema, Metadata, error) {
	columns, err := engine.Columns(ctx)
	if err != nil {
		return Schema{}, Metadata{}, fmt.Errorf("describe dataset: %w", err)
	}
	rowCount, err := engine.RowCount(ctx)
	if err != nil {
		return Schema{}, Metadata{}, fmt.Errorf("count dataset rows: %w", err)
	}
	sample, _, err := engine.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(engine.TableName()), sampleRowCount))
	if err != nil {
		return Schema{}, Metadata{}, fmt.Errorf("sample dataset: %w", err)
	}

	meta := Metadata{
		ID:        id,
		TableName: engine.TableName(),
		Filename:  filename,
		Format:    format,
		RowCount:  rowCount,
		Columns:   columns,
		CreatedAt: r.clock().UTC(),
	}
	schema := Schema{
		ID:        meta.ID,
		TableName: meta.TableName,
		Filename:  meta.Filename,
		Format:    meta.Format,
		RowCount:  meta.RowCount,
		Columns:   meta.Columns,
		Sample:    sample,
		CreatedAt: meta.CreatedAt,
	}
	return schema, meta, nil
}

// Get returns the metadata record of a loaded dataset.
func (r *Registry) Get(id string) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Metadata{}, ErrNotFound
	}
	return e.meta, nil
}

// Latest returns the most recently registered loaded dataset, which
// serves as the default target when a query names none.
func (r *Registry) Latest() (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entry
	for _, e := range r.entries {
		if best == nil {
			best = e
			continue
		}
		if e.meta.CreatedAt.After(best.meta.CreatedAt) {
			best = e
			continue
		}
		if e.meta.CreatedAt.Equal(best.meta.CreatedAt) && e.meta.ID < best.meta.ID {
			best = e
		}
	}
	if best == nil {
		return Metadata{}, false
	}
	return best.meta, true
}

func (r *Registry) LoadedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Delete removes a dataset everywhere: engine, raw object, metadata
// record. Unknown ids return ErrNotFound so the route layer can 404.
func (r *Registry) Delete(ctx context.Context, id string) (Metadata, error) {
	r.mu.Lock()
	e, loaded := r.entries[id]
	if loaded {
		delete(r.entries, id)
	}
	remaining := len(r.entries)
	r.mu.Unlock()

	var meta Metadata
	if loaded {
		meta = e.meta
		observability.SetDatasetsLoaded(remaining)
		if err := e.engine.Close(); err != nil {
			r.logger.Warn("engine_close_failed", slog.String("dataset_id", id), slog.String("error", err.Error()))
		}
	} else {
		stored, err := r.meta.GetDataset(ctx, id)
		if err != nil {
			return Metadata{}, err
		}
		meta = stored
	}

	if meta.ObjectKey != "" {
		if err := r.objects.Delete(ctx, meta.ObjectKey); err != nil {
			r.logger.Warn("raw_object_delete_failed", slog.String("dataset_id", id), slog.String("error", err.Error()))
		}
	}
	if err := r.meta.DeleteDataset(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return Metadata{}, fmt.Errorf("delete dataset record: %w", err)
	}

	r.logger.Info("dataset_deleted", slog.String("dataset_id", id), slog.String("table", meta.TableName))
	return meta, nil
}

// RestoreAll re-ingests every recorded dataset that has no live
// engine yet. Individual failures are logged and skipped so one bad
// record cannot block startup.
func (r *Registry) RestoreAll(ctx context.Context) (RestoreSummary, error) {
	records, err := r.meta.ListDatasets(ctx)
	if err != nil {
		return RestoreSummary{}, fmt.Errorf("list dataset records: %w", err)
	}

	summary := RestoreSummary{}
	for _, meta := range records {
		summary.Scanned++
		r.mu.RLock()
		_, loaded := r.entries[meta.ID]
		r.mu.RUnlock()
		if loaded {
			summary.Skipped++
			continue
		}
		if err := r.restoreOne(ctx, meta); err != nil {
			summary.Failed++
			observability.ObserveRestore("failure")
			r.logger.Warn("dataset_restore_failed",
				slog.String("dataset_id", meta.ID),
				slog.String("table", meta.TableName),
				slog.String("error", err.Error()),
			)
			continue
		}
		summary.Restored++
		observability.ObserveRestore("success")
	}

	observability.SetDatasetsLoaded(r.LoadedCount())
	r.logger.Info("datasets_restored",
		slog.Int("scanned", summary.Scanned),
		slog.Int("restored", summary.Restored),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (r *Registry) restoreOne(ctx context.Context, meta Metadata) error {
	reader, err := r.objects.Get(ctx, meta.ObjectKey)
	if err != nil {
		return fmt.Errorf("get raw object %q: %w", meta.ObjectKey, err)
	}
	raw, err := io.ReadAll(reader)
	closeErr := reader.Close()
	if err != nil {
		return fmt.Errorf("read raw object %q: %w", meta.ObjectKey, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close raw object %q: %w", meta.ObjectKey, closeErr)
	}

	table, err := decodeFormat(raw, meta.Format)
	if err != nil {
		return err
	}
	engine, err := r.open(ctx, meta.TableName, table)
	if err != nil {
		return fmt.Errorf("open engine for %q: %w", meta.TableName, err)
	}

	r.mu.Lock()
	if _, exists := r.entries[meta.ID]; exists {
		r.mu.Unlock()
		_ = engine.Close()
		return nil
	}
	r.entries[meta.ID] = &entry{meta: meta, engine: engine}
	r.mu.Unlock()
	return nil
}

// ListAll unions the durable index with the live map so callers can
// see records whose engine failed to restore.
func (r *Registry) ListAll(ctx context.Context) ([]Summary, error) {
	records, err := r.meta.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dataset records: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	summaries := make([]Summary, 0, len(records))
	for _, meta := range records {
		_, loaded := r.entries[meta.ID]
		summaries = append(summaries, Summary{
			ID:        meta.ID,
			TableName: meta.TableName,
			Filename:  meta.Filename,
			Format:    meta.Format,
			RowCount:  meta.RowCount,
			Columns:   len(meta.Columns),
			Loaded:    loaded,
			CreatedAt: meta.CreatedAt,
		})
	}
	return summaries, nil
}

// Close shuts down every live engine. Used on service shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, e := range r.entries {
		if err := e.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine %q: %w", id, err))
		}
	}
	r.entries = make(map[string]*entry)
	return errors.Join(errs...)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func decodeUpload(raw []byte, filename string) (*tabular.Table, string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		table, err := tabular.DecodeCSV(raw)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return table, storage.FormatCSV, nil
	case ".parquet":
		table, err := tabular.DecodeParquet(raw)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return table, storage.FormatParquet, nil
	default:
		return nil, "", fmt.Errorf("%w: only CSV and Parquet files are supported", ErrUnsupportedFormat)
	}
}

func decodeFormat(raw []byte, format string) (*tabular.Table, error) {
	switch format {
	case storage.FormatCSV:
		table, err := tabular.DecodeCSV(raw)
		if err != nil {
			return nil, fmt.Errorf("decode stored csv: %w", err)
		}
		return table, nil
	case storage.FormatParquet:
		table, err := tabular.DecodeParquet(raw)
		if err != nil {
			return nil, fmt.Errorf("decode stored parquet: %w", err)
		}
		return table, nil
	default:
		return nil, fmt.Errorf("unknown stored format %q", format)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func defaultNewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
