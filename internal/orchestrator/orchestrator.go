// Package orchestrator implements the Deployment Orchestrator: a state
// machine driving each deployment through
// validate -> backup -> apply -> verify (with a rollback path on failure),
// at most one active deployment per repository via store.ClaimActive, and
// per-stage retry with exponential backoff via internal/resilience. The
// worker lifecycle (one goroutine per in-flight deployment, claim-guarded
// concurrency) generalizes a scheduler dispatch shape from a polling loop
// into a claim-then-drive state machine.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/festion/homelab-gitops-auditor/internal/audit"
	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/resilience"
	"github.com/festion/homelab-gitops-auditor/internal/security"
	"github.com/festion/homelab-gitops-auditor/internal/store"
)

// Request is the normalized deployment request derived by the Webhook
// Intake or a manual-trigger caller.
type Request struct {
	Repository string
	Commit     string
	Branch     string
	Actor      string
	Trigger    domain.Trigger
	Reason     string

	// Labels carries manual-deploy overrides (create_backup,
	// skip_health_check) through to the stage runner. Webhook-triggered
	// requests leave this nil, which runs every stage.
	Labels map[string]string
}

// Validator runs stage "validate": config syntax plus content-level security
// scans. Optional; when nil, validate always succeeds.
type Validator interface {
	Validate(ctx context.Context, repository, commit string) error
}

// Backup creates, restores, and verifies opaque configuration backups
// (stage "backup" and the rollback path).
type Backup interface {
	Create(ctx context.Context, repository string) (backupRef string, err error)
	Restore(ctx context.Context, repository, backupRef string) error
}

// Applier writes the new configuration and reloads the downstream service
// (stage "apply"). Treated as opaque: only its error is interpreted.
type Applier interface {
	Apply(ctx context.Context, repository, commit string) error
}

// HealthVerifier evaluates post-deployment health (stage "verify").
type HealthVerifier interface {
	Evaluate(ctx context.Context, repository string) domain.HealthReport
}

// Bus publishes deployment lifecycle events (narrowed from eventbus.Bus).
type Bus interface {
	Publish(evt eventbus.Event)
}

// Orchestrator drives deployments through the state machine.
type Orchestrator struct {
	store     store.Store
	bus       Bus
	auditLog  *audit.Log
	dedup     *security.DedupWindow
	cfg       config.DeploymentConfig
	validator Validator
	backup    Backup
	applier   Applier
	health    HealthVerifier
	log       *logging.Logger

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc
}

// Collaborators bundles an Orchestrator's collaborators. Backup, Applier, and
// HealthVerifier may be nil; Validator may be nil (validate then always
// succeeds).
type Collaborators struct {
	Validator Validator
	Backup    Backup
	Applier   Applier
	Health    HealthVerifier
}

// New constructs an Orchestrator.
func New(st store.Store, bus Bus, auditLog *audit.Log, dedup *security.DedupWindow, cfg config.DeploymentConfig, collab Collaborators, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.New("deployment-orchestrator", logging.Config{Level: "info", Format: "text", Output: "stdout"})
	}
	return &Orchestrator{
		store: st, bus: bus, auditLog: auditLog, dedup: dedup, cfg: cfg,
		validator: collab.Validator, backup: collab.Backup, applier: collab.Applier, health: collab.Health,
		log: log, breakers: make(map[string]*resilience.CircuitBreaker), cancels: make(map[string]context.CancelFunc),
	}
}

// Submit is the deployment intake path: claim the repository,
// resolve webhook redeliveries against the dedup window, persist the
// pending deployment, and drive it to completion on a detached goroutine.
// It returns immediately with the deployment id.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	dedupKey := req.Repository + "|" + req.Commit
	if o.dedup != nil && req.Commit != "" {
		if existingID, ok := o.dedup.SeenWithin(dedupKey); ok {
			return existingID, nil
		}
	}

	id := "dep-" + uuid.New().String()
	now := time.Now()
	dep := domain.Deployment{
		ID: id, Repository: req.Repository, Commit: req.Commit, Branch: req.Branch,
		Trigger: req.Trigger, Initiator: req.Actor, Reason: req.Reason,
		CreatedAt: now, State: domain.StatePending, Attempt: 1,
		Labels: req.Labels,
	}

	if err := o.store.ClaimActive(ctx, req.Repository, id); err != nil {
		if err == store.ErrRepositoryBusy {
			existingID, lookupErr := o.store.ActiveDeploymentID(ctx, req.Repository)
			if lookupErr == nil {
				if o.dedup != nil && req.Commit != "" {
					o.dedup.Mark(dedupKey, existingID)
				}
				return existingID, nil
			}
		}
		return "", fmt.Errorf("claim active deployment: %w", err)
	}

	if err := o.store.PutDeployment(ctx, dep); err != nil {
		_ = o.store.ReleaseActive(ctx, req.Repository, id)
		return "", fmt.Errorf("persist deployment: %w", err)
	}

	if o.dedup != nil && req.Commit != "" {
		o.dedup.Mark(dedupKey, id)
	}
	o.record(ctx, domain.ActionDeploymentStarted, req.Actor, id, domain.AuditSuccess, map[string]string{"repository": req.Repository, "commit": req.Commit})
	o.publish(eventbus.ChannelDeployments, "started", req.Repository, dep)

	runCtx, cancel := context.WithCancel(context.Background())
	o.setCancel(id, cancel)
	go o.run(runCtx, id)

	return id, nil
}

// Cancel honors cancellation policy: allowed in pending and
// verifying, deferred in applying (handled by the stage runner observing
// ctx.Done() at its next safe point), refused in rolling_back.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	dep, _, err := o.store.LookupDeploymentByID(ctx, id)
	if err != nil {
		return err
	}
	if dep.State == domain.StateRollingBack {
		return fmt.Errorf("cannot cancel deployment in rolling_back")
	}
	o.cancelsMu.Lock()
	cancel := o.cancels[id]
	o.cancelsMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Rollback implements the manual rollback endpoint: restores
// target's stored backup onto its repository as a new deployment, refusing
// targets that are not yet terminal or never completed a backup stage. It
// returns the id of the newly created rollback deployment.
func (o *Orchestrator) Rollback(ctx context.Context, targetID, reason, actor string) (string, error) {
	target, _, err := o.store.LookupDeploymentByID(ctx, targetID)
	if err != nil {
		return "", fmt.Errorf("lookup target deployment: %w", err)
	}
	if !target.State.Terminal() {
		return "", fmt.Errorf("deployment %s is not in a terminal state", targetID)
	}
	if target.BackupRef == "" {
		return "", fmt.Errorf("deployment %s has no backup to roll back to", targetID)
	}

	id := "dep-" + uuid.New().String()
	now := time.Now()
	dep := domain.Deployment{
		ID: id, Repository: target.Repository, Commit: target.Commit, Branch: target.Branch,
		Trigger: domain.TriggerRollback, Initiator: actor, Reason: reason,
		CreatedAt: now, State: domain.StatePending, Attempt: 1, RollbackOf: target.ID,
		BackupRef: target.BackupRef,
	}

	if err := o.store.ClaimActive(ctx, target.Repository, id); err != nil {
		return "", fmt.Errorf("claim active deployment: %w", err)
	}
	if err := o.store.PutDeployment(ctx, dep); err != nil {
		_ = o.store.ReleaseActive(ctx, target.Repository, id)
		return "", fmt.Errorf("persist rollback deployment: %w", err)
	}

	o.record(ctx, domain.ActionRollbackInitiated, actor, id, domain.AuditSuccess, map[string]string{"repository": target.Repository, "rollback_of": target.ID})
	o.publish(eventbus.ChannelDeployments, "started", target.Repository, dep)

	runCtx, cancel := context.WithCancel(context.Background())
	o.setCancel(id, cancel)
	go o.runManualRollback(runCtx, id)

	return id, nil
}

// runManualRollback drives a manually-triggered rollback deployment through
// restore -> verify, releasing the repository's active claim on completion.
func (o *Orchestrator) runManualRollback(ctx context.Context, id string) {
	defer o.clearCancel(id)

	dep, version, err := o.store.LookupDeploymentByID(ctx, id)
	if err != nil {
		o.log.WithError(err).WithFields(map[string]interface{}{"deployment_id": id}).Warn("orchestrator could not load rollback deployment to run")
		return
	}
	defer func() { _ = o.store.ReleaseActive(context.Background(), dep.Repository, id) }()

	o.transition(ctx, &dep, &version, domain.StateRollingBack, domain.StageRollback)

	if o.backup == nil {
		o.terminate(ctx, &dep, &version, domain.StateFailed, &domain.DeploymentError{
			Kind: "rollback_failed", Message: "no backup provider configured", Retriable: false, Stage: string(domain.StageRollback),
		})
		return
	}

	err = o.runStage(ctx, &dep, domain.StageRollback, config.RetryPolicy{Attempts: 0}, func(ctx context.Context) error {
		if restoreErr := o.backup.Restore(ctx, dep.Repository, dep.BackupRef); restoreErr != nil {
			return restoreErr
		}
		if o.health != nil {
			report := o.health.Evaluate(ctx, dep.Repository)
			if report.Status == domain.HealthCritical {
				return fmt.Errorf("post-rollback health check reported critical status")
			}
		}
		return nil
	})
	if err != nil {
		o.terminate(ctx, &dep, &version, domain.StateFailed, &domain.DeploymentError{
			Kind: "rollback_failed", Message: err.Error(), Retriable: false, Stage: string(domain.StageRollback),
		})
		return
	}

	o.terminate(ctx, &dep, &version, domain.StateCompleted, nil)
}

func (o *Orchestrator) setCancel(id string, cancel context.CancelFunc) {
	o.cancelsMu.Lock()
	o.cancels[id] = cancel
	o.cancelsMu.Unlock()
}

func (o *Orchestrator) clearCancel(id string) {
	o.cancelsMu.Lock()
	delete(o.cancels, id)
	o.cancelsMu.Unlock()
}

func (o *Orchestrator) publish(channel eventbus.Channel, eventType, repository string, payload interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Channel: channel, Type: eventType, Publisher: "orchestrator:" + repository, Payload: payload})
}

func (o *Orchestrator) record(ctx context.Context, action, actor, resource string, result domain.AuditResult, details map[string]string) {
	if o.auditLog == nil {
		return
	}
	o.auditLog.Record(domain.AuditEvent{
		Timestamp: time.Now(), Actor: actor, Action: action, Resource: resource, Result: result, Details: details,
	})
}

func (o *Orchestrator) breakerFor(name string) *resilience.CircuitBreaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	if cb, ok := o.breakers[name]; ok {
		return cb
	}
	cb := resilience.New(resilience.DefaultConfig())
	o.breakers[name] = cb
	return cb
}
