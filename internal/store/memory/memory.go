// Package memory implements the Store contract as a thread-safe
// in-memory map guarded by a mutex. Intended for tests, small single-node
// deployments, and as the default when no DSN is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/store"
)

type deploymentRecord struct {
	version int
	dep     domain.Deployment
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu          sync.RWMutex
	deployments map[string]*deploymentRecord
	byRepo      map[string][]string // repository -> deployment IDs, insertion order
	active      map[string]string   // repository -> active deployment ID
	health      map[string]domain.HealthReport
	predictions []domain.FailurePrediction
	audit       []domain.AuditEvent
	runs        map[string][]domain.PipelineRun // repository -> runs, insertion order
	runIDs      map[string]map[string]bool       // repository -> run_id set, for idempotent ingestion
	baselines   map[string]map[string]domain.Baseline // repository -> metric -> baseline
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		deployments: make(map[string]*deploymentRecord),
		byRepo:      make(map[string][]string),
		active:      make(map[string]string),
		health:      make(map[string]domain.HealthReport),
		runs:        make(map[string][]domain.PipelineRun),
		runIDs:      make(map[string]map[string]bool),
		baselines:   make(map[string]map[string]domain.Baseline),
	}
}

func (s *Store) PutBaseline(_ context.Context, baseline domain.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselines[baseline.Repository] == nil {
		s.baselines[baseline.Repository] = make(map[string]domain.Baseline)
	}
	s.baselines[baseline.Repository][baseline.Metric] = baseline
	return nil
}

func (s *Store) Baselines(_ context.Context, repository string) ([]domain.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byMetric := s.baselines[repository]
	out := make([]domain.Baseline, 0, len(byMetric))
	for _, b := range byMetric {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}

func (s *Store) RecordPipelineRun(_ context.Context, run domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runIDs[run.Repository] == nil {
		s.runIDs[run.Repository] = make(map[string]bool)
	}
	if s.runIDs[run.Repository][run.RunID] {
		return nil
	}
	s.runIDs[run.Repository][run.RunID] = true
	s.runs[run.Repository] = append(s.runs[run.Repository], run)
	return nil
}

func (s *Store) PipelineRuns(_ context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.runs[repository]
	out := make([]domain.PipelineRun, 0, len(all))
	for _, r := range all {
		if !since.IsZero() && r.StartedAt.Before(since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MonitoredRepositories(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repos := make([]string, 0, len(s.runs))
	for repo, runs := range s.runs {
		if len(runs) > 0 {
			repos = append(repos, repo)
		}
	}
	sort.Strings(repos)
	return repos, nil
}

func (s *Store) PutDeployment(_ context.Context, dep domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deployments[dep.ID]; exists {
		return store.ErrVersionConflict
	}
	s.deployments[dep.ID] = &deploymentRecord{version: 1, dep: dep}
	s.byRepo[dep.Repository] = append(s.byRepo[dep.Repository], dep.ID)
	return nil
}

func (s *Store) UpdateDeployment(_ context.Context, dep domain.Deployment, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.deployments[dep.ID]
	if !ok {
		return store.ErrNotFound
	}
	if rec.version != expectedVersion {
		return store.ErrVersionConflict
	}
	rec.version++
	rec.dep = dep
	return nil
}

func (s *Store) LookupDeploymentByID(_ context.Context, id string) (domain.Deployment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.deployments[id]
	if !ok {
		return domain.Deployment{}, 0, store.ErrNotFound
	}
	return rec.dep, rec.version, nil
}

func (s *Store) AppendStageResult(_ context.Context, deploymentID string, result domain.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.deployments[deploymentID]
	if !ok {
		return store.ErrNotFound
	}
	for i, existing := range rec.dep.StageResults {
		if existing.Name == result.Name {
			rec.dep.StageResults[i] = result
			return nil
		}
	}
	rec.dep.StageResults = append(rec.dep.StageResults, result)
	return nil
}

func (s *Store) PutHealthReport(_ context.Context, report domain.HealthReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[report.Repository] = report
	return nil
}

func (s *Store) LatestHealthReport(_ context.Context, repository string) (domain.HealthReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.health[repository]
	if !ok {
		return domain.HealthReport{}, store.ErrNotFound
	}
	return report, nil
}

func (s *Store) PutPrediction(_ context.Context, prediction domain.FailurePrediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, prediction)
	return nil
}

func (s *Store) AppendAudit(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, event)
	return nil
}

func (s *Store) QueryHistory(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.AuditEvent, 0, len(s.audit))
	for _, e := range s.audit {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (s *Store) ListDeploymentHistory(_ context.Context, repository string, limit, offset int) ([]domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byRepo[repository]
	deps := make([]domain.Deployment, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.deployments[id]; ok {
			deps = append(deps, rec.dep)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].CreatedAt.After(deps[j].CreatedAt) })
	return paginate(deps, limit, offset), nil
}

func (s *Store) ClaimActive(_ context.Context, repository, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.active[repository]; ok && existing != deploymentID {
		return store.ErrRepositoryBusy
	}
	s.active[repository] = deploymentID
	return nil
}

func (s *Store) ActiveDeploymentID(_ context.Context, repository string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[repository]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (s *Store) ReleaseActive(_ context.Context, repository, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.active[repository]; ok && existing == deploymentID {
		delete(s.active, repository)
	}
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
