package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// deploymentRow mirrors the deployments table for sqlx scanning; JSONB
// columns are unmarshalled in toDomain.
type deploymentRow struct {
	ID                 string         `db:"id"`
	Version            int            `db:"version"`
	Repository         string         `db:"repository"`
	Commit             string         `db:"commit"`
	Branch             string         `db:"branch"`
	Trigger            string         `db:"trigger"`
	ParentDeploymentID sql.NullString `db:"parent_deployment_id"`
	Initiator          string         `db:"initiator"`
	Reason             sql.NullString `db:"reason"`
	CreatedAt          time.Time      `db:"created_at"`
	StartedAt          *time.Time     `db:"started_at"`
	EndedAt            *time.Time     `db:"ended_at"`
	State              string         `db:"state"`
	CurrentStage       sql.NullString `db:"current_stage"`
	StageResults       []byte         `db:"stage_results"`
	ConfigHashBefore   sql.NullString `db:"config_hash_before"`
	ConfigHashAfter    sql.NullString `db:"config_hash_after"`
	BackupRef          sql.NullString `db:"backup_ref"`
	Error              []byte         `db:"error"`
	RollbackTriggered  bool           `db:"rollback_triggered"`
	RollbackOf         sql.NullString `db:"rollback_of"`
	Attempt            int            `db:"attempt"`
	Labels             []byte         `db:"labels"`
}

func (r deploymentRow) toDomain() (domain.Deployment, error) {
	dep := domain.Deployment{
		ID:                 r.ID,
		Version:            int64(r.Version),
		Repository:         r.Repository,
		Commit:             r.Commit,
		Branch:             r.Branch,
		Trigger:            domain.Trigger(r.Trigger),
		ParentDeploymentID: r.ParentDeploymentID.String,
		Initiator:          r.Initiator,
		Reason:             r.Reason.String,
		CreatedAt:          r.CreatedAt,
		StartedAt:          r.StartedAt,
		EndedAt:            r.EndedAt,
		State:              domain.DeploymentState(r.State),
		CurrentStage:       domain.StageName(r.CurrentStage.String),
		ConfigHashBefore:   r.ConfigHashBefore.String,
		ConfigHashAfter:    r.ConfigHashAfter.String,
		BackupRef:          r.BackupRef.String,
		RollbackTriggered:  r.RollbackTriggered,
		RollbackOf:         r.RollbackOf.String,
		Attempt:            r.Attempt,
	}
	if len(r.StageResults) > 0 {
		if err := json.Unmarshal(r.StageResults, &dep.StageResults); err != nil {
			return domain.Deployment{}, err
		}
	}
	if len(r.Error) > 0 {
		dep.Error = &domain.DeploymentError{}
		if err := json.Unmarshal(r.Error, dep.Error); err != nil {
			return domain.Deployment{}, err
		}
	}
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &dep.Labels); err != nil {
			return domain.Deployment{}, err
		}
	}
	return dep, nil
}

// healthRow mirrors the health_reports table.
type healthRow struct {
	Repository      string    `db:"repository"`
	RecordedAt      time.Time `db:"recorded_at"`
	Status          string    `db:"status"`
	Score           float64   `db:"score"`
	Dimensions      []byte    `db:"dimensions"`
	Issues          []byte    `db:"issues"`
	Recommendations []byte    `db:"recommendations"`
	ExecutionTimeMS int64     `db:"execution_time_ms"`
}

func (r healthRow) toDomain() (domain.HealthReport, error) {
	report := domain.HealthReport{
		Timestamp:       r.RecordedAt,
		Repository:      r.Repository,
		Status:          domain.HealthStatus(r.Status),
		Score:           r.Score,
		ExecutionTimeMS: r.ExecutionTimeMS,
	}
	if len(r.Dimensions) > 0 {
		if err := json.Unmarshal(r.Dimensions, &report.Dimensions); err != nil {
			return domain.HealthReport{}, err
		}
	}
	if len(r.Issues) > 0 {
		if err := json.Unmarshal(r.Issues, &report.Issues); err != nil {
			return domain.HealthReport{}, err
		}
	}
	if len(r.Recommendations) > 0 {
		if err := json.Unmarshal(r.Recommendations, &report.Recommendations); err != nil {
			return domain.HealthReport{}, err
		}
	}
	return report, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the expected failure mode of ClaimActive's INSERT when a
// repository already has an active deployment.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if asPQError(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func asPQError(err error, target **pq.Error) bool {
	for err != nil {
		if e, ok := err.(*pq.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
