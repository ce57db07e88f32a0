// Package metricsource implements the Metrics Source: a
// read-only, idempotent contract yielding historical PipelineRuns and
// optional quality/reliability snapshots, adapted from push-style Prometheus
// process metrics into a pull-based historical-data abstraction backed by
// the Store,
// which records ingested PipelineRuns per "append-only Pipeline Run
// ingestion" note.
package metricsource

import (
	"context"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// Source is the capability set consumed by the Health Checker, Trend
// Analyzer, and Anomaly Detector.
type Source interface {
	PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error)
	QualityMetrics(ctx context.Context, repository string) (domain.QualityMetrics, error)
	ReliabilityMetrics(ctx context.Context, repository string) (domain.ReliabilityMetrics, error)
	MonitoredRepositories(ctx context.Context) ([]string, error)
}

// runStore is the subset of store.Store this package depends on, kept narrow
// to avoid an import cycle and to make the Source trivially testable.
type runStore interface {
	PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error)
	MonitoredRepositories(ctx context.Context) ([]string, error)
}

// QualityProvider is an optional external collaborator supplying quality
// snapshots (e.g. a code-quality scanning service). A nil QualityProvider
// makes QualityMetrics always return the empty value, which downstream
// health scoring treats as "missing" ("tolerates missing
// implementations").
type QualityProvider interface {
	QualityMetrics(ctx context.Context, repository string) (domain.QualityMetrics, error)
}

// ReliabilityProvider is the reliability-snapshot analogue of QualityProvider.
type ReliabilityProvider interface {
	ReliabilityMetrics(ctx context.Context, repository string) (domain.ReliabilityMetrics, error)
}

// StoreBacked implements Source by reading ingested PipelineRuns from the
// Store and delegating quality/reliability snapshots to optional providers.
type StoreBacked struct {
	store       runStore
	quality     QualityProvider
	reliability ReliabilityProvider
	recorder    *Recorder
}

// New constructs a StoreBacked source. quality/reliability may be nil.
func New(store runStore, quality QualityProvider, reliability ReliabilityProvider, recorder *Recorder) *StoreBacked {
	return &StoreBacked{store: store, quality: quality, reliability: reliability, recorder: recorder}
}

func (s *StoreBacked) PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error) {
	start := time.Now()
	runs, err := s.store.PipelineRuns(ctx, repository, since, limit)
	if s.recorder != nil {
		s.recorder.ObserveRead("pipeline_runs", time.Since(start), err)
	}
	return runs, err
}

func (s *StoreBacked) QualityMetrics(ctx context.Context, repository string) (domain.QualityMetrics, error) {
	if s.quality == nil {
		return domain.QualityMetrics{Repository: repository}, nil
	}
	start := time.Now()
	qm, err := s.quality.QualityMetrics(ctx, repository)
	if s.recorder != nil {
		s.recorder.ObserveRead("quality_metrics", time.Since(start), err)
	}
	return qm, err
}

func (s *StoreBacked) ReliabilityMetrics(ctx context.Context, repository string) (domain.ReliabilityMetrics, error) {
	if s.reliability == nil {
		return domain.ReliabilityMetrics{Repository: repository}, nil
	}
	start := time.Now()
	rm, err := s.reliability.ReliabilityMetrics(ctx, repository)
	if s.recorder != nil {
		s.recorder.ObserveRead("reliability_metrics", time.Since(start), err)
	}
	return rm, err
}

func (s *StoreBacked) MonitoredRepositories(ctx context.Context) ([]string, error) {
	start := time.Now()
	repos, err := s.store.MonitoredRepositories(ctx)
	if s.recorder != nil {
		s.recorder.ObserveRead("monitored_repositories", time.Since(start), err)
	}
	return repos, err
}
