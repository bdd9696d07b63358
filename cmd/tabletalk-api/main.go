package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tabletalk/tabletalk/internal/api"
	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/cache"
	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/dataset"
	duckdbengine "github.com/tabletalk/tabletalk/internal/dataset/duckdb"
	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/maintenance"
	"github.com/tabletalk/tabletalk/internal/mirror"
	mirrorpostgres "github.com/tabletalk/tabletalk/internal/mirror/postgres"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/state"
	"github.com/tabletalk/tabletalk/internal/storage"
	localstore "github.com/tabletalk/tabletalk/internal/storage/local"
	s3store "github.com/tabletalk/tabletalk/internal/storage/s3"
	"github.com/tabletalk/tabletalk/internal/tabular"
)

func main() {
	cfg, err := config.LoadFromEnv("tabletalk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	st, err := state.Open(cfg.Storage.DataDir)
	if err != nil {
		logger.Error("failed to open state store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	objects, err := newObjectStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	registry, err := dataset.NewRegistry(dataset.RegistryOptions{
		Meta:       st,
		Objects:    objects,
		OpenEngine: openDuckDB,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize dataset registry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registry.Close() }()

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 5*time.Minute)
	restored, err := registry.RestoreAll(restoreCtx)
	cancelRestore()
	if err != nil {
		logger.Error("failed to restore datasets", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("restored datasets",
		slog.Int("scanned", restored.Scanned),
		slog.Int("restored", restored.Restored),
		slog.Int("failed", restored.Failed),
	)

	model, err := newLLMClient(cfg)
	if err != nil {
		logger.Error("failed to initialize llm client", slog.Any("error", err))
		os.Exit(1)
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerOptions{
		Datasets: registry,
		Sessions: st,
		LLM:      model,
		Cache:    cache.NewTranslations(cfg.Cache.Enabled, cfg.Cache.TTL),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize query pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	maintenanceService := &maintenance.Service{
		State:       st,
		ObjectStore: objects,
		Config: maintenance.Config{
			RetentionInterval:   cfg.Maintenance.RetentionInterval,
			SessionRetentionAge: cfg.Maintenance.SessionRetentionAge,
			GCInterval:          cfg.Maintenance.GCInterval,
			GCDiscardRatio:      cfg.Maintenance.GCDiscardRatio,
		},
		Logger: logger,
	}

	deps := api.Dependencies{
		Logger:            logger,
		Registry:          registry,
		Pipeline:          runner,
		Sessions:          st,
		Maintenance:       maintenanceService,
		LLM:               model,
		DependencyTimeout: time.Second,
	}

	if cfg.Mirror.Enabled {
		mirrorDB, err := mirrorpostgres.Open(context.Background(), mirrorpostgres.DBConfig{
			DSN:             cfg.Mirror.DSN,
			MaxOpenConns:    cfg.Mirror.MaxOpenConns,
			MaxIdleConns:    cfg.Mirror.MaxIdleConns,
			ConnMaxIdleTime: cfg.Mirror.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Mirror.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open mirror db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = mirrorDB.Close() }()

		mirrorService, err := mirror.New(mirror.Options{
			Store:  mirrorpostgres.NewStore(mirrorDB),
			LLM:    model,
			Logger: logger,
		})
		if err != nil {
			logger.Error("failed to initialize mirror service", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Mirror = mirrorService
	}

	checks := []api.ReadinessCheck{
		api.CheckStateDir(cfg),
		api.CheckObjectStoreConfig(cfg),
	}
	if pinger, ok := objects.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, pinger.Ping)
	}
	checks = append(checks, api.CheckMirror(deps.Mirror))
	deps.Readiness = api.CombineReadinessChecks(checks...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Maintenance.Enabled {
		go func() {
			if err := maintenanceService.Run(ctx); err != nil {
				logger.Error("maintenance loop stopped", slog.Any("error", err))
			}
		}()
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if cfg.Storage.Backend == config.ObjectStoreS3 {
		return s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Storage.S3.Endpoint,
			Region:           cfg.Storage.S3.Region,
			Bucket:           cfg.Storage.S3.Bucket,
			AccessKeyID:      cfg.Storage.S3.AccessKeyID,
			SecretAccessKey:  cfg.Storage.S3.SecretAccessKey,
			UseSSL:           cfg.Storage.S3.UseSSL,
			Prefix:           cfg.Storage.S3.Prefix,
			AutoCreateBucket: cfg.Storage.S3.AutoCreateBucket,
		})
	}
	return localstore.New(filepath.Join(cfg.Storage.DataDir, "objects"))
}

func newLLMClient(cfg config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case config.LLMProviderOpenAI:
		return llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:         cfg.LLM.BaseURL,
			APIKey:          cfg.LLM.APIKey,
			Model:           cfg.LLM.Model,
			GenerateTimeout: cfg.LLM.GenerateTimeout,
			HealthTimeout:   cfg.LLM.HealthTimeout,
		})
	default:
		return llm.NewOllama(llm.OllamaConfig{
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			GenerateTimeout: cfg.LLM.GenerateTimeout,
			HealthTimeout:   cfg.LLM.HealthTimeout,
		})
	}
}

func openDuckDB(ctx context.Context, tableName string, table *tabular.Table) (dataset.Engine, error) {
	return duckdbengine.New(ctx, tableName, table)
}
