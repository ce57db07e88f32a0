package metricsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	memstore "github.com/festion/homelab-gitops-auditor/internal/store/memory"
)

func TestIngestThenReadRoundTrips(t *testing.T) {
	store := memstore.New()
	ingester := NewIngester(store)
	source := New(store, nil, nil, nil)
	ctx := context.Background()

	run := domain.PipelineRun{Repository: "owner/r", RunID: "1", StartedAt: time.Now(), Conclusion: domain.ConclusionSuccess}
	require.NoError(t, ingester.Ingest(ctx, run))

	runs, err := source.PipelineRuns(ctx, "owner/r", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "1", runs[0].RunID)
}

func TestQualityMetricsDegradesWithoutProvider(t *testing.T) {
	store := memstore.New()
	source := New(store, nil, nil, nil)

	qm, err := source.QualityMetrics(context.Background(), "owner/r")
	require.NoError(t, err)
	assert.Nil(t, qm.TestCoveragePercent)
}

func TestMonitoredRepositoriesReflectsIngestedRuns(t *testing.T) {
	store := memstore.New()
	ingester := NewIngester(store)
	ctx := context.Background()
	require.NoError(t, ingester.Ingest(ctx, domain.PipelineRun{Repository: "owner/a", RunID: "1", StartedAt: time.Now()}))
	require.NoError(t, ingester.Ingest(ctx, domain.PipelineRun{Repository: "owner/b", RunID: "1", StartedAt: time.Now()}))

	source := New(store, nil, nil, nil)
	repos, err := source.MonitoredRepositories(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner/a", "owner/b"}, repos)
}
