// Package store defines the persistence contract: put_deployment,
// update_deployment (CAS), append_stage_result, put_health_report,
// put_prediction, append_audit, query_history, lookup_deployment_by_id,
// claim_active. internal/store/memory and internal/store/postgres provide
// concrete implementations behind a single aggregate interface rather than
// one interface per domain object.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// ErrVersionConflict is returned by UpdateDeployment when the caller's
// expected version no longer matches the stored version (optimistic CAS
// failure: an atomic CAS on (id, version)).
var ErrVersionConflict = errors.New("store: version conflict")

// ErrNotFound is returned when a lookup finds no matching record.
var ErrNotFound = errors.New("store: not found")

// ErrRepositoryBusy is returned by ClaimActive when a repository already has
// an active (non-terminal) deployment.
var ErrRepositoryBusy = errors.New("store: repository has an active deployment")

// Store is the full persistence capability set.
type Store interface {
	// PutDeployment inserts a new deployment record at version 1.
	PutDeployment(ctx context.Context, dep domain.Deployment) error

	// UpdateDeployment applies a compare-and-swap write: the stored record
	// must currently be at expectedVersion, or ErrVersionConflict is
	// returned. On success the stored version is expectedVersion+1.
	UpdateDeployment(ctx context.Context, dep domain.Deployment, expectedVersion int) error

	// LookupDeploymentByID returns the current record and its version.
	LookupDeploymentByID(ctx context.Context, id string) (domain.Deployment, int, error)

	// AppendStageResult records (or replaces, by Name) a stage result against
	// a deployment. Does not require CAS: stage results are append/upsert by
	// the single orchestrator goroutine owning that deployment.
	AppendStageResult(ctx context.Context, deploymentID string, result domain.StageResult) error

	// PutHealthReport stores a health snapshot for a repository.
	PutHealthReport(ctx context.Context, report domain.HealthReport) error

	// LatestHealthReport returns the most recent stored report for repository.
	LatestHealthReport(ctx context.Context, repository string) (domain.HealthReport, error)

	// PutPrediction stores a failure-prediction result.
	PutPrediction(ctx context.Context, prediction domain.FailurePrediction) error

	// AppendAudit persists an audit event. Implementations that also run a
	// dedicated audit.Sink may treat this as a no-op passthrough; Store
	// exists as the capability of record for durable query_history.
	AppendAudit(ctx context.Context, event domain.AuditEvent) error

	// QueryHistory returns audit events matching filter.
	QueryHistory(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error)

	// ListDeploymentHistory returns deployments for repository, most recent
	// first, bounded by limit/offset. A non-positive limit leaves the cap to
	// the implementation: postgres applies 100, memory returns every match.
	ListDeploymentHistory(ctx context.Context, repository string, limit, offset int) ([]domain.Deployment, error)

	// ClaimActive attempts to mark repository as having an active deployment
	// deploymentID. Returns ErrRepositoryBusy if one is already active; the
	// busy deployment's id is then available from ActiveDeploymentID.
	ClaimActive(ctx context.Context, repository, deploymentID string) error

	// ActiveDeploymentID returns the deployment id currently claimed for
	// repository, or ErrNotFound if none is active.
	ActiveDeploymentID(ctx context.Context, repository string) (string, error)

	// ReleaseActive clears the active claim for repository, idempotently.
	// Called when a deployment reaches a terminal state.
	ReleaseActive(ctx context.Context, repository, deploymentID string) error

	// RecordPipelineRun appends an ingested PipelineRun ("append-only
	// Pipeline Run ingestion, if the store caches them"). Idempotent on
	// (repository, run_id).
	RecordPipelineRun(ctx context.Context, run domain.PipelineRun) error

	// PipelineRuns returns runs for repository with StartedAt >= since,
	// oldest first, bounded by limit.
	PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error)

	// MonitoredRepositories returns every repository with at least one
	// ingested pipeline run (monitored_repositories()).
	MonitoredRepositories(ctx context.Context) ([]string, error)

	// PutBaseline upserts the per-metric {mean, stdev} baseline for
	// repository, keyed by (repository, metric).
	PutBaseline(ctx context.Context, baseline domain.Baseline) error

	// Baselines returns every stored baseline for repository.
	Baselines(ctx context.Context, repository string) ([]domain.Baseline, error)
}
