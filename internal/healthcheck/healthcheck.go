// Package healthcheck implements the Health Checker:
// evaluate(repository) runs four independent dimension checks in parallel
// with a total wall-clock budget, tolerating missing inputs per dimension.
// Uses golang.org/x/sync/errgroup for parallel fan-out with per-dimension
// isolation: one dimension's error never fails the whole evaluation.
package healthcheck

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// MetricsSource is the narrow read surface the Health Checker consumes
// (the Metrics Source's read contract). A nil MetricsSource degrades every
// metrics-backed dimension to its "missing" default.
type MetricsSource interface {
	PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error)
	QualityMetrics(ctx context.Context, repository string) (domain.QualityMetrics, error)
	ReliabilityMetrics(ctx context.Context, repository string) (domain.ReliabilityMetrics, error)
}

// TrendSource supplies the degradation-trend slope the Performance dimension
// compares against max_degradation_rate.
type TrendSource interface {
	RelativeSlope(ctx context.Context, repository string, window domain.TrendWindow) (float64, bool)
}

// HostStats supplies the optional CPU reading for the Performance dimension.
// A nil HostStats simply omits the cpu check ("when available").
type HostStats interface {
	CPUPercent(ctx context.Context) (float64, error)
}

// Checker evaluates HealthReports.
type Checker struct {
	cfg       config.Thresholds
	metrics   MetricsSource
	trend     TrendSource
	host      HostStats
	budget    time.Duration
}

// New constructs a Checker. metrics/trend/host may be nil to degrade
// gracefully, per each collaborator's capability-interface contract.
func New(cfg config.Thresholds, metrics MetricsSource, trend TrendSource, host HostStats, budget time.Duration) *Checker {
	if budget <= 0 {
		budget = 10 * time.Second
	}
	return &Checker{cfg: cfg, metrics: metrics, trend: trend, host: host, budget: budget}
}

// Evaluate runs the four dimensions in parallel and combines them into a
// weighted HealthReport.
func (c *Checker) Evaluate(ctx context.Context, repository string) domain.HealthReport {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	results := make([]domain.DimensionResult, 4)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { results[0] = c.evaluatePipeline(gctx, repository); return nil })
	g.Go(func() error { results[1] = c.evaluatePerformance(gctx, repository); return nil })
	g.Go(func() error { results[2] = c.evaluateQuality(gctx, repository); return nil })
	g.Go(func() error { results[3] = c.evaluateReliability(gctx, repository); return nil })
	_ = g.Wait() // each dimension swallows its own errors into a partial score

	report := combine(repository, results)
	report.ExecutionTimeMS = time.Since(start).Milliseconds()
	return report
}

func combine(repository string, dims []domain.DimensionResult) domain.HealthReport {
	var weighted, weightSum float64
	var issues []string
	for _, d := range dims {
		w := domain.DimensionWeights[d.Name]
		weighted += d.Score * w
		weightSum += w
		issues = append(issues, d.Issues...)
	}
	score := 0.0
	if weightSum > 0 {
		score = weighted / weightSum
	}
	return domain.HealthReport{
		Timestamp:       time.Now(),
		Repository:      repository,
		Status:          domain.StatusForScore(score),
		Score:           score,
		Dimensions:      dims,
		Issues:          issues,
		Recommendations: recommendationsFor(dims),
	}
}

func recommendationsFor(dims []domain.DimensionResult) []string {
	var recs []string
	for _, d := range dims {
		if d.Score < 70 {
			recs = append(recs, recommendationFor(d.Name))
		}
	}
	return recs
}

func recommendationFor(name domain.DimensionName) string {
	switch name {
	case domain.DimensionPipeline:
		return "investigate recent pipeline failures and queue delays"
	case domain.DimensionPerformance:
		return "profile recent runs for duration regressions"
	case domain.DimensionQuality:
		return "address coverage/vulnerability/tech-debt gaps"
	case domain.DimensionReliability:
		return "stabilize flaky tests and reduce change-failure rate"
	default:
		return "review dimension " + string(name)
	}
}

// scoreFromDeviation penalizes a ratio of actual/threshold linearly,
// clamped to [0,100]. Used by every threshold-style dimension check.
func scoreFromDeviation(actual, threshold float64, higherIsWorse bool) float64 {
	if threshold == 0 {
		return 100
	}
	var ratio float64
	if higherIsWorse {
		ratio = actual / threshold
	} else {
		ratio = threshold / maxFloat(actual, 0.0001)
	}
	score := 100 - (ratio-1)*100
	if ratio <= 1 {
		score = 100
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
