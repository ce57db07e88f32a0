// Package postgres implements the Store contract against a Postgres
// database via jmoiron/sqlx + lib/pq, using a CAS-on-version update pattern
// and JSONB columns for nested fields, with an embedded-SQL migration
// runner applied on Open.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/store"
	"github.com/festion/homelab-gitops-auditor/internal/store/postgres/migrations"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, applies pending migrations, and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sqlx.DB, e.g. for audit.NewPostgresSink to share
// the connection pool.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) PutDeployment(ctx context.Context, dep domain.Deployment) error {
	stageResults, err := json.Marshal(dep.StageResults)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(dep.Labels)
	if err != nil {
		return err
	}
	var deployErr []byte
	if dep.Error != nil {
		if deployErr, err = json.Marshal(dep.Error); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments
			(id, version, repository, commit, branch, trigger, parent_deployment_id,
			 initiator, reason, created_at, started_at, ended_at, state, current_stage,
			 stage_results, config_hash_before, config_hash_after, backup_ref, error,
			 rollback_triggered, rollback_of, attempt, labels)
		VALUES
			($1, 1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			 $18, $19, $20, $21, $22)
	`, dep.ID, dep.Repository, dep.Commit, dep.Branch, dep.Trigger, nullable(dep.ParentDeploymentID),
		dep.Initiator, nullable(dep.Reason), dep.CreatedAt, dep.StartedAt, dep.EndedAt, dep.State,
		nullable(string(dep.CurrentStage)), stageResults, nullable(dep.ConfigHashBefore),
		nullable(dep.ConfigHashAfter), nullable(dep.BackupRef), deployErr, dep.RollbackTriggered,
		nullable(dep.RollbackOf), dep.Attempt, labels)
	return err
}

func (s *Store) UpdateDeployment(ctx context.Context, dep domain.Deployment, expectedVersion int) error {
	stageResults, err := json.Marshal(dep.StageResults)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(dep.Labels)
	if err != nil {
		return err
	}
	var deployErr []byte
	if dep.Error != nil {
		if deployErr, err = json.Marshal(dep.Error); err != nil {
			return err
		}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET
			version = version + 1, state = $1, current_stage = $2, started_at = $3,
			ended_at = $4, stage_results = $5, config_hash_after = $6, backup_ref = $7,
			error = $8, rollback_triggered = $9, rollback_of = $10, attempt = $11, labels = $12
		WHERE id = $13 AND version = $14
	`, dep.State, nullable(string(dep.CurrentStage)), dep.StartedAt, dep.EndedAt, stageResults,
		nullable(dep.ConfigHashAfter), nullable(dep.BackupRef), deployErr, dep.RollbackTriggered,
		nullable(dep.RollbackOf), dep.Attempt, labels, dep.ID, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, _, lookupErr := s.LookupDeploymentByID(ctx, dep.ID); lookupErr != nil {
			return lookupErr
		}
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) LookupDeploymentByID(ctx context.Context, id string) (domain.Deployment, int, error) {
	var row deploymentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Deployment{}, 0, store.ErrNotFound
	}
	if err != nil {
		return domain.Deployment{}, 0, err
	}
	dep, err := row.toDomain()
	return dep, row.Version, err
}

func (s *Store) AppendStageResult(ctx context.Context, deploymentID string, result domain.StageResult) error {
	dep, version, err := s.LookupDeploymentByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range dep.StageResults {
		if existing.Name == result.Name {
			dep.StageResults[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		dep.StageResults = append(dep.StageResults, result)
	}
	return s.UpdateDeployment(ctx, dep, version)
}

func (s *Store) PutHealthReport(ctx context.Context, report domain.HealthReport) error {
	dims, err := json.Marshal(report.Dimensions)
	if err != nil {
		return err
	}
	issues, err := json.Marshal(report.Issues)
	if err != nil {
		return err
	}
	recs, err := json.Marshal(report.Recommendations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO health_reports (repository, recorded_at, status, score, dimensions, issues, recommendations, execution_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (repository) DO UPDATE SET
			recorded_at = EXCLUDED.recorded_at, status = EXCLUDED.status, score = EXCLUDED.score,
			dimensions = EXCLUDED.dimensions, issues = EXCLUDED.issues,
			recommendations = EXCLUDED.recommendations, execution_time_ms = EXCLUDED.execution_time_ms
	`, report.Repository, report.Timestamp, report.Status, report.Score, dims, issues, recs, report.ExecutionTimeMS)
	return err
}

func (s *Store) LatestHealthReport(ctx context.Context, repository string) (domain.HealthReport, error) {
	var row healthRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM health_reports WHERE repository = $1`, repository)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HealthReport{}, store.ErrNotFound
	}
	if err != nil {
		return domain.HealthReport{}, err
	}
	return row.toDomain()
}

func (s *Store) PutPrediction(ctx context.Context, prediction domain.FailurePrediction) error {
	contributing, err := json.Marshal(prediction.ContributingFactors)
	if err != nil {
		return err
	}
	recs, err := json.Marshal(prediction.Recommendations)
	if err != nil {
		return err
	}
	features, err := json.Marshal(prediction.Features)
	if err != nil {
		return err
	}
	anomalies, err := json.Marshal(prediction.Anomalies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions (repository, recorded_at, probability, confidence, contributing, recommendations, features, anomalies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, prediction.Repository, prediction.Timestamp, prediction.Probability, prediction.Confidence, contributing, recs, features, anomalies)
	return err
}

func (s *Store) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, occurred_at, actor, action, resource, result, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Timestamp, event.Actor, event.Action, event.Resource, event.Result, details)
	return err
}

func (s *Store) QueryHistory(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	query := `SELECT id, occurred_at, actor, action, resource, result, details FROM audit_log WHERE 1=1`
	args := map[string]interface{}{}
	if filter.Actor != "" {
		query += ` AND actor = :actor`
		args["actor"] = filter.Actor
	}
	if filter.Action != "" {
		query += ` AND action = :action`
		args["action"] = filter.Action
	}
	if !filter.Since.IsZero() {
		query += ` AND occurred_at >= :since`
		args["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		query += ` AND occurred_at <= :until`
		args["until"] = filter.Until
	}
	query += ` ORDER BY occurred_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT :limit OFFSET :offset`
	args["limit"] = limit
	args["offset"] = filter.Offset

	rows, err := s.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e       domain.AuditEvent
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Resource, &e.Result, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListDeploymentHistory(ctx context.Context, repository string, limit, offset int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []deploymentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM deployments WHERE repository = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, repository, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		dep, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}

func (s *Store) ClaimActive(ctx context.Context, repository, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_deployments (repository, deployment_id) VALUES ($1, $2)
	`, repository, deploymentID)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		var existing string
		lookupErr := s.db.GetContext(ctx, &existing, `SELECT deployment_id FROM active_deployments WHERE repository = $1`, repository)
		if lookupErr == nil && existing == deploymentID {
			return nil
		}
		return store.ErrRepositoryBusy
	}
	return err
}

func (s *Store) ActiveDeploymentID(ctx context.Context, repository string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT deployment_id FROM active_deployments WHERE repository = $1`, repository)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return id, err
}

func (s *Store) ReleaseActive(ctx context.Context, repository, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM active_deployments WHERE repository = $1 AND deployment_id = $2
	`, repository, deploymentID)
	return err
}

func (s *Store) RecordPipelineRun(ctx context.Context, run domain.PipelineRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(repository, run_id, workflow, branch, created_at, started_at, completed_at,
			 conclusion, duration_s, queue_time_s, concurrent_runs, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (repository, run_id) DO UPDATE SET
			completed_at = EXCLUDED.completed_at, conclusion = EXCLUDED.conclusion,
			duration_s = EXCLUDED.duration_s, queue_time_s = EXCLUDED.queue_time_s
	`, run.Repository, run.RunID, run.Workflow, run.Branch, run.CreatedAt, run.StartedAt,
		run.CompletedAt, run.Conclusion, run.DurationS, run.QueueTimeS, run.ConcurrentRuns, run.Actor)
	return err
}

func (s *Store) PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 1000
	}
	var runs []domain.PipelineRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT repository, run_id, workflow, branch, created_at, started_at, completed_at,
		       conclusion, duration_s, queue_time_s, concurrent_runs, actor
		FROM pipeline_runs
		WHERE repository = $1 AND started_at >= $2
		ORDER BY started_at ASC LIMIT $3
	`, repository, since, limit)
	return runs, err
}

func (s *Store) MonitoredRepositories(ctx context.Context) ([]string, error) {
	var repos []string
	err := s.db.SelectContext(ctx, &repos, `SELECT DISTINCT repository FROM pipeline_runs ORDER BY repository`)
	return repos, err
}

func (s *Store) PutBaseline(ctx context.Context, baseline domain.Baseline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO baselines (repository, metric, mean, stdev, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (repository, metric) DO UPDATE SET
			mean = EXCLUDED.mean, stdev = EXCLUDED.stdev, computed_at = EXCLUDED.computed_at
	`, baseline.Repository, baseline.Metric, baseline.Mean, baseline.Stdev, baseline.ComputedAt)
	return err
}

func (s *Store) Baselines(ctx context.Context, repository string) ([]domain.Baseline, error) {
	var baselines []domain.Baseline
	err := s.db.SelectContext(ctx, &baselines, `
		SELECT repository, metric, mean, stdev, computed_at
		FROM baselines WHERE repository = $1 ORDER BY metric
	`, repository)
	return baselines, err
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
