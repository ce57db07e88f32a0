package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/store"
)

func TestPutAndLookupDeployment(t *testing.T) {
	s := New()
	ctx := context.Background()
	dep := domain.Deployment{ID: "d1", Repository: "owner/r", CreatedAt: time.Now(), State: domain.StatePending}

	require.NoError(t, s.PutDeployment(ctx, dep))

	got, version, err := s.LookupDeploymentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, domain.StatePending, got.State)
}

func TestUpdateDeploymentRequiresMatchingVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	dep := domain.Deployment{ID: "d1", Repository: "owner/r", CreatedAt: time.Now()}
	require.NoError(t, s.PutDeployment(ctx, dep))

	dep.State = domain.StateValidating
	err := s.UpdateDeployment(ctx, dep, 2)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	require.NoError(t, s.UpdateDeployment(ctx, dep, 1))
	got, version, err := s.LookupDeploymentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, domain.StateValidating, got.State)
}

func TestClaimActiveRejectsSecondClaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.ClaimActive(ctx, "owner/r", "d1"))
	err := s.ClaimActive(ctx, "owner/r", "d2")
	assert.ErrorIs(t, err, store.ErrRepositoryBusy)

	require.NoError(t, s.ReleaseActive(ctx, "owner/r", "d1"))
	assert.NoError(t, s.ClaimActive(ctx, "owner/r", "d2"))
}

func TestListDeploymentHistoryOrderedNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.PutDeployment(ctx, domain.Deployment{ID: "d1", Repository: "owner/r", CreatedAt: now}))
	require.NoError(t, s.PutDeployment(ctx, domain.Deployment{ID: "d2", Repository: "owner/r", CreatedAt: now.Add(time.Minute)}))

	history, err := s.ListDeploymentHistory(ctx, "owner/r", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "d2", history[0].ID)
}

func TestAppendStageResultUpsertsByName(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PutDeployment(ctx, domain.Deployment{ID: "d1", Repository: "owner/r", CreatedAt: time.Now()}))

	require.NoError(t, s.AppendStageResult(ctx, "d1", domain.StageResult{Name: domain.StageApply, State: domain.StageResultRunning}))
	require.NoError(t, s.AppendStageResult(ctx, "d1", domain.StageResult{Name: domain.StageApply, State: domain.StageResultCompleted}))

	dep, _, err := s.LookupDeploymentByID(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, dep.StageResults, 1)
	assert.Equal(t, domain.StageResultCompleted, dep.StageResults[0].State)
}
