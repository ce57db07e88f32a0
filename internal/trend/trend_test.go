package trend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

type stubRuns struct {
	runs []domain.PipelineRun
}

func (s *stubRuns) PipelineRuns(_ context.Context, _ string, _ time.Time, _ int) ([]domain.PipelineRun, error) {
	return s.runs, nil
}

func makeRuns(durations []float64) []domain.PipelineRun {
	now := time.Now()
	runs := make([]domain.PipelineRun, len(durations))
	for i, d := range durations {
		runs[i] = domain.PipelineRun{
			Repository: "owner/r", RunID: string(rune('a' + i)),
			StartedAt: now.Add(time.Duration(i) * time.Hour), DurationS: d,
			Conclusion: domain.ConclusionSuccess,
		}
	}
	return runs
}

func TestAnalyzeInsufficientData(t *testing.T) {
	source := &stubRuns{runs: makeRuns([]float64{10, 20})}
	a := New(source, config.Default().Anomaly, time.Minute)

	report, err := a.Analyze(context.Background(), "owner/r", domain.WindowShort, Options{})
	require.NoError(t, err)
	assert.True(t, report.InsufficientData)
	assert.Equal(t, 2, report.Have)
}

func TestAnalyzeDetectsIncreasingTrend(t *testing.T) {
	durations := make([]float64, 20)
	for i := range durations {
		durations[i] = 10 + float64(i)*5
	}
	source := &stubRuns{runs: makeRuns(durations)}
	a := New(source, config.Default().Anomaly, time.Minute)

	report, err := a.Analyze(context.Background(), "owner/r", domain.WindowShort, Options{})
	require.NoError(t, err)
	assert.False(t, report.InsufficientData)
	assert.Equal(t, domain.DirectionIncreasing, report.Direction)
	assert.Greater(t, report.RelativeSlope, 0.0)
}

func TestAnalyzeResultIsCached(t *testing.T) {
	source := &stubRuns{runs: makeRuns([]float64{10, 12, 11, 13, 12, 14})}
	a := New(source, config.Default().Anomaly, time.Hour)

	first, err := a.Analyze(context.Background(), "owner/r", domain.WindowShort, Options{})
	require.NoError(t, err)

	source.runs = makeRuns([]float64{100, 200, 300, 400, 500, 600})
	second, err := a.Analyze(context.Background(), "owner/r", domain.WindowShort, Options{})
	require.NoError(t, err)
	assert.Equal(t, first.Stats.Mean, second.Stats.Mean)
}

func TestAnalyzeIncludesForecastAndAnomaliesWhenRequested(t *testing.T) {
	durations := []float64{10, 11, 10, 12, 11, 10, 12, 50, 11, 10}
	source := &stubRuns{runs: makeRuns(durations)}
	a := New(source, config.Default().Anomaly, time.Minute)

	report, err := a.Analyze(context.Background(), "owner/r", domain.WindowShort, Options{IncludeForecast: true, IncludeAnomalies: true})
	require.NoError(t, err)
	assert.NotEmpty(t, report.Forecast)
	assert.Len(t, report.Forecast, 7)
}

func TestSummaryStatsBasic(t *testing.T) {
	stats := summaryStats([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 3.0, stats.Mean)
	assert.Equal(t, 3.0, stats.Median)
}

func TestRelativeSlopeZeroForFlatSeries(t *testing.T) {
	slope := relativeSlope([]float64{10, 10, 10, 10, 10})
	assert.InDelta(t, 0, slope, 1e-9)
}
