// Package maintenance runs the background janitors for the service:
// session retention, Badger value-log GC and the metadata/object
// integrity check. The loop lives inside the API process because the
// Badger directory only admits one process.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/session"
	"github.com/tabletalk/tabletalk/internal/storage"
)

type State interface {
	ListSessions(ctx context.Context) ([]session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListDatasets(ctx context.Context) ([]dataset.Metadata, error)
	RunValueLogGC(discardRatio float64) (int, error)
}

type Config struct {
	RetentionInterval   time.Duration
	SessionRetentionAge time.Duration
	GCInterval          time.Duration
	GCDiscardRatio      float64
}

type Service struct {
	State       State
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

type RetentionSummary struct {
	SessionsScanned int `json:"sessions_scanned"`
	SessionsDeleted int `json:"sessions_deleted"`
	Failures        int `json:"failures"`
}

type GCSummary struct {
	Rewrites int `json:"rewrites"`
}

type IntegritySummary struct {
	DatasetsScanned int `json:"datasets_scanned"`
	MissingObjects  int `json:"missing_objects"`
	SizeMismatches  int `json:"size_mismatches"`
	Failures        int `json:"failures"`
}

// Run drives the retention and value-log GC tickers until the context
// is cancelled. Integrity checks only run on demand.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()
	gcTicker := time.NewTicker(s.Config.GCInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "retention_cycle_failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "retention_cycle_completed", slog.Any("summary", summary))
			}
		case <-gcTicker.C:
			summary, err := s.RunValueLogGCOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "value_log_gc_failed", slog.Any("error", err))
				}
				continue
			}
			if s.Logger != nil && summary.Rewrites > 0 {
				s.Logger.InfoContext(ctx, "value_log_gc_completed", slog.Int("rewrites", summary.Rewrites))
			}
		}
	}
}

// RunRetentionOnce deletes sessions whose last activity is older than
// the configured retention age.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.State == nil {
		return RetentionSummary{}, fmt.Errorf("state store is required")
	}

	sessions, err := s.State.ListSessions(ctx)
	if err != nil {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return RetentionSummary{}, fmt.Errorf("list sessions: %w", err)
	}

	summary := RetentionSummary{SessionsScanned: len(sessions)}
	failures := make([]string, 0)
	cutoff := s.Clock().Add(-s.Config.SessionRetentionAge)

	for _, item := range sessions {
		if !item.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.State.DeleteSession(ctx, item.ID); err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("delete session %s: %v", item.ID, err))
			continue
		}
		summary.SessionsDeleted++
	}

	if summary.SessionsDeleted > 0 {
		sessionsDeletedTotal.Add(float64(summary.SessionsDeleted))
	}
	if len(failures) > 0 {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// RunValueLogGCOnce asks Badger to rewrite value-log files with at
// least the configured discard ratio of stale data.
func (s *Service) RunValueLogGCOnce(_ context.Context) (GCSummary, error) {
	s.ensureDefaults()
	if s.State == nil {
		return GCSummary{}, fmt.Errorf("state store is required")
	}

	rewrites, err := s.State.RunValueLogGC(s.Config.GCDiscardRatio)
	if err != nil {
		valueLogGCRunsTotal.WithLabelValues("failed").Inc()
		return GCSummary{Rewrites: rewrites}, err
	}
	if rewrites > 0 {
		valueLogGCRewritesTotal.Add(float64(rewrites))
	}
	valueLogGCRunsTotal.WithLabelValues("completed").Inc()
	return GCSummary{Rewrites: rewrites}, nil
}

// RunIntegrityCheckOnce verifies that every dataset's raw object still
// exists in the store and has the recorded size.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.State == nil {
		return IntegritySummary{}, fmt.Errorf("state store is required")
	}
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}

	datasets, err := s.State.ListDatasets(ctx)
	if err != nil {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return IntegritySummary{}, fmt.Errorf("list datasets: %w", err)
	}

	summary := IntegritySummary{DatasetsScanned: len(datasets)}
	const maxIssueSamples = 20
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(message string) {
		issueCount++
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	for _, meta := range datasets {
		info, err := s.ObjectStore.Stat(ctx, meta.ObjectKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				summary.MissingObjects++
				addIssue(fmt.Sprintf("dataset %s missing object %s", meta.ID, meta.ObjectKey))
				continue
			}
			summary.Failures++
			addIssue(fmt.Sprintf("dataset %s stat object %s: %v", meta.ID, meta.ObjectKey, err))
			continue
		}
		if info.Size != meta.ObjectSize {
			summary.SizeMismatches++
			addIssue(fmt.Sprintf("dataset %s size mismatch for %s (expected=%d actual=%d)", meta.ID, meta.ObjectKey, meta.ObjectSize, info.Size))
		}
	}

	if summary.MissingObjects > 0 {
		integrityMissingObjectsTotal.Add(float64(summary.MissingObjects))
	}
	if summary.SizeMismatches > 0 {
		integritySizeMismatchesTotal.Add(float64(summary.SizeMismatches))
	}
	if summary.MissingObjects > 0 || summary.SizeMismatches > 0 || summary.Failures > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		extra := issueCount - len(issueSamples)
		if extra > 0 {
			return summary, fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		}
		return summary, fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = time.Hour
	}
	if s.Config.SessionRetentionAge <= 0 {
		s.Config.SessionRetentionAge = 30 * 24 * time.Hour
	}
	if s.Config.GCInterval <= 0 {
		s.Config.GCInterval = 30 * time.Minute
	}
	if s.Config.GCDiscardRatio <= 0 || s.Config.GCDiscardRatio >= 1 {
		s.Config.GCDiscardRatio = 0.5
	}
}
