package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/audit"
	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/security"
	memstore "github.com/festion/homelab-gitops-auditor/internal/store/memory"
	"github.com/festion/homelab-gitops-auditor/internal/svcerr"
)

type fakeBackup struct {
	createErr  error
	restoreErr error
	restored   bool
}

func (f *fakeBackup) Create(context.Context, string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "backup-1", nil
}

func (f *fakeBackup) Restore(context.Context, string, string) error {
	f.restored = true
	return f.restoreErr
}

type fakeApplier struct{ err error }

func (f *fakeApplier) Apply(context.Context, string, string) error { return f.err }

// blockingApplier holds the apply stage open until release is closed, so
// tests can deterministically observe a repository's active claim.
type blockingApplier struct{ release chan struct{} }

func (b *blockingApplier) Apply(ctx context.Context, _, _ string) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

// slowApplier blocks for delay, honoring context cancellation the way the
// shell applier does when a subprocess is killed on stage timeout.
type slowApplier struct{ delay time.Duration }

func (s *slowApplier) Apply(ctx context.Context, _, _ string) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// countingApplier records how many times Apply was invoked, so retry
// budget consumption can be asserted directly.
type countingApplier struct {
	err   error
	calls int
}

func (c *countingApplier) Apply(context.Context, string, string) error {
	c.calls++
	return c.err
}

type fakeHealth struct{ status domain.HealthStatus }

func (f *fakeHealth) Evaluate(context.Context, string) domain.HealthReport {
	return domain.HealthReport{Status: f.status, Score: 95}
}

func fastDeploymentConfig() config.DeploymentConfig {
	cfg := config.Default().Deployment
	for stage, policy := range cfg.RetryPolicy {
		policy.BaseBackoff = time.Millisecond
		policy.MaxBackoff = 5 * time.Millisecond
		cfg.RetryPolicy[stage] = policy
	}
	cfg.RollbackBudgetS = 5
	return cfg
}

func newTestOrchestrator(collab Collaborators) (*Orchestrator, *memstore.Store, *eventbus.Bus) {
	st := memstore.New()
	bus := eventbus.New(64)
	auditLog := audit.New(audit.DefaultConfig(), nil, nil)
	o := New(st, bus, auditLog, nil, fastDeploymentConfig(), collab, nil)
	return o, st, bus
}

func waitForTerminal(t *testing.T, st *memstore.Store, id string) domain.Deployment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dep, _, err := st.LookupDeploymentByID(context.Background(), id)
		require.NoError(t, err)
		if dep.State.Terminal() {
			return dep
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deployment %s did not reach a terminal state in time", id)
	return domain.Deployment{}
}

func TestSubmitHappyPathCompletes(t *testing.T) {
	o, st, _ := newTestOrchestrator(Collaborators{
		Backup: &fakeBackup{}, Applier: &fakeApplier{}, Health: &fakeHealth{status: domain.HealthHealthy},
	})
	id, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook, Actor: "tester"})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.Equal(t, domain.StateCompleted, dep.State)
	assert.Equal(t, "backup-1", dep.BackupRef)

	assert.Eventually(t, func() bool {
		_, lookupErr := st.ActiveDeploymentID(context.Background(), "owner/r")
		return lookupErr != nil
	}, time.Second, 5*time.Millisecond, "active claim should be released on completion")
}

func TestSubmitDuplicateCommitReturnsExistingID(t *testing.T) {
	release := make(chan struct{})
	st := memstore.New()
	bus := eventbus.New(64)
	auditLog := audit.New(audit.DefaultConfig(), nil, nil)
	dedup := security.NewDedupWindow(time.Minute, nil)
	o := New(st, bus, auditLog, dedup, config.Default().Deployment, Collaborators{Applier: &blockingApplier{release: release}}, nil)
	defer close(release)

	first, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	second, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApplyFailureWithBackupTriggersRollback(t *testing.T) {
	backup := &fakeBackup{}
	o, st, _ := newTestOrchestrator(Collaborators{
		Backup: backup, Applier: &fakeApplier{err: errors.New("apply exploded")}, Health: &fakeHealth{status: domain.HealthHealthy},
	})
	id, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.Equal(t, domain.StateCompleted, dep.State)
	assert.True(t, dep.RollbackTriggered)
	assert.True(t, backup.restored)
}

func TestApplyFailureWithoutBackupFailsDirectly(t *testing.T) {
	o, st, _ := newTestOrchestrator(Collaborators{
		Applier: &fakeApplier{err: errors.New("apply exploded")},
	})
	id, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.Equal(t, domain.StateFailed, dep.State)
	require.NotNil(t, dep.Error)
	assert.Equal(t, "apply_failed", dep.Error.Kind)
}

func TestNonRetriableApplyFailureStopsAfterFirstAttempt(t *testing.T) {
	applier := &countingApplier{err: svcerr.New(svcerr.ApplyFailed, "boom")}
	o, st, _ := newTestOrchestrator(Collaborators{Applier: applier})
	id, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.Equal(t, domain.StateFailed, dep.State)
	assert.Equal(t, 1, applier.calls, "a non-retriable apply failure must not consume the retry budget")

	for _, sr := range dep.StageResults {
		if sr.Name == domain.StageApply {
			require.NotNil(t, sr.Error)
			assert.False(t, sr.Error.Retriable)
			assert.Equal(t, 1, sr.Attempts)
		}
	}
}

func TestRetriableApplyFailureConsumesFullBudget(t *testing.T) {
	applier := &countingApplier{err: svcerr.New(svcerr.Timeout, "slow")}
	o, st, _ := newTestOrchestrator(Collaborators{Applier: applier})
	id, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.Equal(t, domain.StateFailed, dep.State)
	assert.Equal(t, 3, applier.calls, "a retriable apply failure should use all 1+2 attempts")

	for _, sr := range dep.StageResults {
		if sr.Name == domain.StageApply {
			require.NotNil(t, sr.Error)
			assert.True(t, sr.Error.Retriable)
		}
	}
}

func TestApplyStageTimeoutFailsTheStage(t *testing.T) {
	cfg := fastDeploymentConfig()
	cfg.StageTimeoutsS["apply"] = 1
	cfg.RetryPolicy["apply"] = config.RetryPolicy{Attempts: 0}

	st := memstore.New()
	bus := eventbus.New(64)
	auditLog := audit.New(audit.DefaultConfig(), nil, nil)
	o := New(st, bus, auditLog, nil, cfg, Collaborators{Applier: &slowApplier{delay: 5 * time.Second}}, nil)

	id, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.Equal(t, domain.StateFailed, dep.State)

	for _, sr := range dep.StageResults {
		if sr.Name == domain.StageApply {
			require.NotNil(t, sr.Error)
			assert.Contains(t, sr.Error.Message, "timeout")
		}
	}
}

func TestVerifyFailureTriggersRollback(t *testing.T) {
	backup := &fakeBackup{}
	o, st, _ := newTestOrchestrator(Collaborators{
		Backup: backup, Applier: &fakeApplier{}, Health: &fakeHealth{status: domain.HealthCritical},
	})
	id, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.True(t, dep.RollbackTriggered)
	assert.True(t, backup.restored)
}

func TestManualDeployCanSkipBackupAndHealthCheck(t *testing.T) {
	backup := &fakeBackup{}
	o, st, _ := newTestOrchestrator(Collaborators{
		Backup: backup, Applier: &fakeApplier{}, Health: &fakeHealth{status: domain.HealthCritical},
	})
	id, err := o.Submit(context.Background(), Request{
		Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerManual,
		Labels: map[string]string{"create_backup": "false", "skip_health_check": "true"},
	})
	require.NoError(t, err)

	dep := waitForTerminal(t, st, id)
	assert.Equal(t, domain.StateCompleted, dep.State, "a critical health result must not fail the deployment when verify is skipped")
	assert.Empty(t, dep.BackupRef)

	var sawSkippedBackup, sawSkippedVerify bool
	for _, sr := range dep.StageResults {
		if sr.Name == domain.StageBackup && sr.State == domain.StageResultSkipped {
			sawSkippedBackup = true
		}
		if sr.Name == domain.StageVerify && sr.State == domain.StageResultSkipped {
			sawSkippedVerify = true
		}
	}
	assert.True(t, sawSkippedBackup, "backup stage should be recorded as skipped")
	assert.True(t, sawSkippedVerify, "verify stage should be recorded as skipped")
}

func TestRollbackRestoresBackupOntoNewDeployment(t *testing.T) {
	backup := &fakeBackup{}
	o, st, _ := newTestOrchestrator(Collaborators{
		Backup: backup, Applier: &fakeApplier{}, Health: &fakeHealth{status: domain.HealthHealthy},
	})
	targetID, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)
	waitForTerminal(t, st, targetID)

	rollbackID, err := o.Rollback(context.Background(), targetID, "reverting a bad config change", "operator")
	require.NoError(t, err)
	assert.NotEqual(t, targetID, rollbackID)

	dep := waitForTerminal(t, st, rollbackID)
	assert.Equal(t, domain.StateCompleted, dep.State)
	assert.Equal(t, domain.TriggerRollback, dep.Trigger)
	assert.Equal(t, targetID, dep.RollbackOf)
	assert.True(t, backup.restored)
}

func TestRollbackRejectsNonTerminalTarget(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o, st, _ := newTestOrchestrator(Collaborators{Applier: &blockingApplier{release: release}, Backup: &fakeBackup{}})

	targetID, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	_, rollbackErr := o.Rollback(context.Background(), targetID, "too early", "operator")
	assert.Error(t, rollbackErr)

	_ = st
}

func TestRollbackRejectsDeploymentWithoutBackup(t *testing.T) {
	o, st, _ := newTestOrchestrator(Collaborators{Applier: &fakeApplier{}, Health: &fakeHealth{status: domain.HealthHealthy}})
	targetID, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "abc", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)
	waitForTerminal(t, st, targetID)

	_, rollbackErr := o.Rollback(context.Background(), targetID, "no backup exists", "operator")
	assert.Error(t, rollbackErr)
}

func TestRepositoryBusyQueuesSecondDeployment(t *testing.T) {
	release := make(chan struct{})
	o, st, _ := newTestOrchestrator(Collaborators{Applier: &blockingApplier{release: release}})

	first, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "c1", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)

	second, err := o.Submit(context.Background(), Request{Repository: "owner/r", Commit: "c2", Trigger: domain.TriggerWebhook})
	require.NoError(t, err)
	assert.Equal(t, first, second, "a second request against the same busy repository returns the active deployment id")

	close(release)
	waitForTerminal(t, st, first)
}
