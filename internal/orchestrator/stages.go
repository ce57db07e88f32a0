package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/resilience"
	"github.com/festion/homelab-gitops-auditor/internal/store"
	"github.com/festion/homelab-gitops-auditor/internal/svcerr"
)

// errRetriable reports whether err should consume another retry attempt: a
// *svcerr.Error defers to its own Retriable classification; anything else is
// treated as non-retriable.
func errRetriable(err error) bool {
	if svcErr, ok := svcerr.As(err); ok {
		return svcErr.Retriable
	}
	return false
}

// run drives deployment id through validate -> backup -> apply -> verify,
// with a rollback path on apply/verify failure (state DAG).
func (o *Orchestrator) run(ctx context.Context, id string) {
	defer o.clearCancel(id)

	dep, version, err := o.store.LookupDeploymentByID(ctx, id)
	if err != nil {
		o.log.WithError(err).WithFields(map[string]interface{}{"deployment_id": id}).Warn("orchestrator could not load deployment to run")
		return
	}
	defer func() { _ = o.store.ReleaseActive(context.Background(), dep.Repository, id) }()

	if ctx.Err() != nil {
		o.terminate(ctx, &dep, &version, domain.StateCancelled, nil)
		return
	}

	if !o.runValidate(ctx, &dep, &version) {
		return
	}
	if !o.runBackup(ctx, &dep, &version) {
		return
	}
	if !o.runApplyAndVerify(ctx, &dep, &version) {
		return
	}

	o.terminate(ctx, &dep, &version, domain.StateCompleted, nil)
}

func (o *Orchestrator) runValidate(ctx context.Context, dep *domain.Deployment, version *int) bool {
	o.transition(ctx, dep, version, domain.StateValidating, domain.StageValidate)
	err := o.runStage(ctx, dep, domain.StageValidate, o.cfg.RetryPolicy["validate"], func(ctx context.Context) error {
		if o.validator == nil {
			return nil
		}
		return o.validator.Validate(ctx, dep.Repository, dep.Commit)
	})
	if err != nil {
		o.terminate(ctx, dep, version, domain.StateFailed, &domain.DeploymentError{
			Kind: "validation", Message: err.Error(), Retriable: false, Stage: string(domain.StageValidate),
		})
		return false
	}
	return true
}

func (o *Orchestrator) runBackup(ctx context.Context, dep *domain.Deployment, version *int) bool {
	o.transition(ctx, dep, version, domain.StateBackingUp, domain.StageBackup)
	if o.backup == nil || dep.Labels["create_backup"] == "false" {
		o.appendStage(ctx, dep, domain.StageResult{Name: domain.StageBackup, State: domain.StageResultSkipped})
		return true
	}
	var ref string
	err := o.runStage(ctx, dep, domain.StageBackup, o.cfg.RetryPolicy["backup"], func(ctx context.Context) error {
		r, err := o.backup.Create(ctx, dep.Repository)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})
	if err != nil {
		o.terminate(ctx, dep, version, domain.StateFailed, &domain.DeploymentError{
			Kind: "backup_failed", Message: err.Error(), Retriable: false, Stage: string(domain.StageBackup),
		})
		return false
	}
	dep.BackupRef = ref
	o.persistField(ctx, dep, version)
	return true
}

func (o *Orchestrator) runApplyAndVerify(ctx context.Context, dep *domain.Deployment, version *int) bool {
	o.transition(ctx, dep, version, domain.StateApplying, domain.StageApply)
	applyErr := o.runStage(ctx, dep, domain.StageApply, o.cfg.RetryPolicy["apply"], func(ctx context.Context) error {
		if o.applier == nil {
			return nil
		}
		return o.breakerFor("applier").Execute(ctx, func(ctx context.Context) error {
			return o.applier.Apply(ctx, dep.Repository, dep.Commit)
		})
	})
	if applyErr != nil {
		return o.failOrRollback(ctx, dep, version, "apply_failed", string(domain.StageApply), applyErr)
	}

	if ctx.Err() != nil && dep.State == domain.StateApplying {
		// Cancellation deferred until apply reached this safe point.
		o.terminate(ctx, dep, version, domain.StateCancelled, nil)
		return false
	}

	o.transition(ctx, dep, version, domain.StateVerifying, domain.StageVerify)
	if dep.Labels["skip_health_check"] == "true" {
		o.appendStage(ctx, dep, domain.StageResult{Name: domain.StageVerify, State: domain.StageResultSkipped})
		if ctx.Err() != nil {
			o.terminate(ctx, dep, version, domain.StateCancelled, nil)
			return false
		}
		return true
	}
	verifyErr := o.runStage(ctx, dep, domain.StageVerify, o.cfg.RetryPolicy["verify"], func(ctx context.Context) error {
		if o.health == nil {
			return nil
		}
		report := o.health.Evaluate(ctx, dep.Repository)
		if report.Status == domain.HealthCritical {
			return errors.New("post-deployment health check reported critical status")
		}
		return nil
	})
	if verifyErr != nil {
		return o.failOrRollback(ctx, dep, version, "health_check_failed", string(domain.StageVerify), verifyErr)
	}

	if ctx.Err() != nil {
		o.terminate(ctx, dep, version, domain.StateCancelled, nil)
		return false
	}
	return true
}

// failOrRollback triggers the rollback path when a backup reference exists,
// otherwise fails the deployment directly.
func (o *Orchestrator) failOrRollback(ctx context.Context, dep *domain.Deployment, version *int, kind, stage string, cause error) bool {
	if dep.BackupRef == "" || o.backup == nil {
		o.terminate(ctx, dep, version, domain.StateFailed, &domain.DeploymentError{
			Kind: kind, Message: cause.Error(), Retriable: false, Stage: stage,
		})
		return false
	}
	o.runRollback(ctx, dep, version, kind, stage, cause)
	return false
}

func (o *Orchestrator) runRollback(ctx context.Context, dep *domain.Deployment, version *int, kind, stage string, cause error) {
	dep.RollbackTriggered = true
	o.transition(ctx, dep, version, domain.StateRollingBack, domain.StageRollback)
	o.record(context.Background(), domain.ActionRollbackInitiated, dep.Initiator, dep.ID, domain.AuditSuccess, map[string]string{"repository": dep.Repository, "cause": cause.Error()})
	o.publish(eventbus.ChannelDeployments, "rollback-initiated", dep.Repository, *dep)

	budget := time.Duration(o.cfg.RollbackBudgetS) * time.Second
	if budget <= 0 {
		budget = 180 * time.Second
	}
	rollbackCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	err := o.runStage(rollbackCtx, dep, domain.StageRollback, config.RetryPolicy{Attempts: 0}, func(ctx context.Context) error {
		if restoreErr := o.backup.Restore(ctx, dep.Repository, dep.BackupRef); restoreErr != nil {
			return restoreErr
		}
		if o.health != nil {
			report := o.health.Evaluate(ctx, dep.Repository)
			if report.Status == domain.HealthCritical {
				return errors.New("post-rollback health check reported critical status")
			}
		}
		return nil
	})

	if err != nil {
		o.terminate(context.Background(), dep, version, domain.StateFailed, &domain.DeploymentError{
			Kind: "rollback_failed", Message: err.Error(), Retriable: false, Stage: stage,
		})
		o.record(context.Background(), domain.ActionRollbackCompleted, dep.Initiator, dep.ID, domain.AuditFailure, map[string]string{"repository": dep.Repository})
		return
	}

	o.record(context.Background(), domain.ActionRollbackCompleted, dep.Initiator, dep.ID, domain.AuditSuccess, map[string]string{"repository": dep.Repository})
	o.publish(eventbus.ChannelDeployments, "rollback-completed", dep.Repository, *dep)
	o.terminate(context.Background(), dep, version, domain.StateCompleted, nil)
}

// runStage executes fn under the stage's retry policy and wall-clock
// timeout, recording a StageResult transition through running ->
// completed|failed. A non-retriable error stops the retry loop immediately
// rather than consuming the remaining attempt budget.
func (o *Orchestrator) runStage(ctx context.Context, dep *domain.Deployment, name domain.StageName, policy config.RetryPolicy, fn func(context.Context) error) error {
	now := time.Now()
	result := domain.StageResult{Name: name, State: domain.StageResultRunning, StartedAt: &now}
	o.appendStage(ctx, dep, result)
	o.publish(eventbus.ChannelDeployments, "stage-update", dep.Repository, stageUpdate{DeploymentID: dep.ID, Stage: name, State: domain.StageResultRunning})

	retryCfg := resilience.RetryConfig{
		MaxAttempts:  policy.Attempts + 1,
		InitialDelay: policy.BaseBackoff,
		MaxDelay:     policy.MaxBackoff,
		Multiplier:   2.0,
		Jitter:       policy.Jitter,
		Retriable:    errRetriable,
	}
	if retryCfg.InitialDelay <= 0 {
		retryCfg.InitialDelay = 500 * time.Millisecond
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = 20 * time.Second
	}

	timeout := time.Duration(o.cfg.StageTimeoutsS[string(name)]) * time.Second

	attempts := 0
	var lastErr error
	err := resilience.Retry(ctx, retryCfg, func() error {
		attempts++
		stageCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		lastErr = fn(stageCtx)
		if lastErr == nil {
			return nil
		}
		if stageCtx.Err() != nil && ctx.Err() == nil {
			lastErr = svcerr.Wrap(svcerr.Timeout, "stage exceeded its timeout", lastErr)
		}
		return lastErr
	})

	end := time.Now()
	result.EndedAt = &end
	result.Attempts = attempts
	if err != nil {
		result.State = domain.StageResultFailed
		result.Error = &domain.StageError{Kind: string(name), Message: err.Error(), Retriable: errRetriable(err)}
	} else {
		result.State = domain.StageResultCompleted
	}
	o.appendStage(ctx, dep, result)
	o.publish(eventbus.ChannelDeployments, "stage-update", dep.Repository, stageUpdate{DeploymentID: dep.ID, Stage: name, State: result.State})
	return err
}

type stageUpdate struct {
	DeploymentID string                  `json:"deployment_id"`
	Stage        domain.StageName        `json:"stage"`
	State        domain.StageResultState `json:"state"`
}

// appendStage persists result through the store's upsert-by-name contract
// and mirrors the same upsert onto the in-memory dep so a later CAS write
// via persistField does not clobber previously recorded stage results.
func (o *Orchestrator) appendStage(ctx context.Context, dep *domain.Deployment, result domain.StageResult) {
	if err := o.store.AppendStageResult(ctx, dep.ID, result); err != nil {
		o.log.WithError(err).WithFields(map[string]interface{}{"deployment_id": dep.ID, "stage": result.Name}).Warn("failed to persist stage result")
	}
	for i, existing := range dep.StageResults {
		if existing.Name == result.Name {
			dep.StageResults[i] = result
			return
		}
	}
	dep.StageResults = append(dep.StageResults, result)
}

// transition moves dep to newState via CAS, retrying on a version conflict
// by reloading and reapplying just the state/stage fields ("a
// conflict is resolved by reloading and re-validating the transition").
func (o *Orchestrator) transition(ctx context.Context, dep *domain.Deployment, version *int, newState domain.DeploymentState, stage domain.StageName) {
	dep.State = newState
	dep.CurrentStage = stage
	now := time.Now()
	if dep.StartedAt == nil {
		dep.StartedAt = &now
	}
	o.persistField(ctx, dep, version)
	o.record(ctx, domain.ActionDeploymentStateChanged, dep.Initiator, dep.ID, domain.AuditSuccess, map[string]string{"repository": dep.Repository, "state": string(newState)})
}

// terminate always persists via a background context: a deployment reaching
// a terminal state (including cancelled) must be recorded even though the
// caller's own context may already be done.
func (o *Orchestrator) terminate(_ context.Context, dep *domain.Deployment, version *int, newState domain.DeploymentState, depErr *domain.DeploymentError) {
	ctx := context.Background()
	dep.State = newState
	dep.Error = depErr
	now := time.Now()
	dep.EndedAt = &now
	o.persistField(ctx, dep, version)

	action, result := domain.ActionDeploymentCompleted, domain.AuditSuccess
	eventType := "completed"
	if newState == domain.StateFailed {
		action, result, eventType = domain.ActionDeploymentFailed, domain.AuditFailure, "failed"
	} else if newState == domain.StateCancelled {
		eventType = "cancelled"
	}
	o.record(ctx, action, dep.Initiator, dep.ID, result, map[string]string{"repository": dep.Repository, "state": string(newState)})
	o.publish(eventbus.ChannelDeployments, eventType, dep.Repository, *dep)
}

// persistField applies a CAS write, retrying once on a version conflict by
// reloading the stored record (the orchestrator goroutine is the sole owner
// of a deployment's state transitions, so conflicts indicate a stale local
// copy rather than concurrent writers).
func (o *Orchestrator) persistField(ctx context.Context, dep *domain.Deployment, version *int) {
	err := o.store.UpdateDeployment(ctx, *dep, *version)
	if err == nil {
		*version++
		return
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		o.log.WithError(err).WithFields(map[string]interface{}{"deployment_id": dep.ID}).Warn("failed to persist deployment transition")
		return
	}
	current, currentVersion, lookupErr := o.store.LookupDeploymentByID(ctx, dep.ID)
	if lookupErr != nil {
		o.log.WithError(lookupErr).WithFields(map[string]interface{}{"deployment_id": dep.ID}).Warn("failed to reload deployment after version conflict")
		return
	}
	merged := current
	merged.State = dep.State
	merged.CurrentStage = dep.CurrentStage
	merged.Error = dep.Error
	merged.BackupRef = dep.BackupRef
	merged.RollbackTriggered = dep.RollbackTriggered
	merged.StartedAt = dep.StartedAt
	merged.EndedAt = dep.EndedAt
	if retryErr := o.store.UpdateDeployment(ctx, merged, currentVersion); retryErr == nil {
		*dep = merged
		*version = currentVersion + 1
	} else {
		o.log.WithError(retryErr).WithFields(map[string]interface{}{"deployment_id": dep.ID}).Warn("failed to persist deployment transition after reload")
	}
}
