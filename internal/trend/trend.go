// Package trend implements the Trend Analyzer: summary
// statistics, OLS trend coefficient, change-point detection, z-score
// anomalies, Pearson correlations, and an optional linear forecast over a
// repository's PipelineRun history, written in plain Go numerics (stdlib
// math; see DESIGN.md for why no external stats/matrix library is used).
// Caching follows internal/cache's per-key TTL pattern.
package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/cache"
	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// RunSource supplies the PipelineRun history the analyzer operates on
// (narrowed from the full metricsource.Source contract).
type RunSource interface {
	PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error)
}

// Options mirrors analyze() options.
type Options struct {
	IncludeSeasonality bool
	IncludeForecast    bool
	IncludeAnomalies   bool
}

// Analyzer computes TrendReports, cached per (repository, window, time bucket).
type Analyzer struct {
	runs   RunSource
	anomaly config.AnomalyConfig
	cache  *cache.Cache
	ttl    time.Duration
}

// New constructs an Analyzer. cacheTTL defaults to 30 minutes.
func New(runs RunSource, anomaly config.AnomalyConfig, cacheTTL time.Duration) *Analyzer {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	return &Analyzer{
		runs:    runs,
		anomaly: anomaly,
		cache:   cache.New(cache.Config{DefaultTTL: cacheTTL, CleanupInterval: cacheTTL}),
		ttl:     cacheTTL,
	}
}

func (a *Analyzer) cacheKey(repository string, window domain.TrendWindow, now time.Time) string {
	bucket := now.Unix() / int64(a.ttl.Seconds())
	return fmt.Sprintf("%s|%s|%d", repository, window, bucket)
}

// Analyze implements analyze(repository, window, options).
func (a *Analyzer) Analyze(ctx context.Context, repository string, window domain.TrendWindow, opts Options) (domain.TrendReport, error) {
	now := time.Now()
	key := a.cacheKey(repository, window, now)
	if cached, ok := a.cache.Get(key); ok {
		return cached.(domain.TrendReport), nil
	}

	lock := a.cache.KeyLock(key)
	lock.Lock()
	defer lock.Unlock()
	if cached, ok := a.cache.Get(key); ok {
		return cached.(domain.TrendReport), nil
	}

	report, err := a.compute(ctx, repository, window, opts, now)
	if err != nil {
		return domain.TrendReport{}, err
	}
	a.cache.Set(key, report, a.ttl)
	return report, nil
}

func (a *Analyzer) compute(ctx context.Context, repository string, window domain.TrendWindow, opts Options, now time.Time) (domain.TrendReport, error) {
	since := now.Add(-domain.WindowDuration(window))
	runs, err := a.runs.PipelineRuns(ctx, repository, since, 0)
	if err != nil {
		return domain.TrendReport{}, err
	}

	report := domain.TrendReport{
		Repository:  repository,
		Window:      window,
		GeneratedAt: now,
		Have:        len(runs),
		Required:    domain.MinDataPoints,
	}
	if len(runs) < domain.MinDataPoints {
		report.InsufficientData = true
		return report, nil
	}

	durations := make([]float64, len(runs))
	for i, r := range runs {
		durations[i] = r.DurationS
	}

	report.Stats = summaryStats(durations)
	report.RelativeSlope = relativeSlope(durations)
	report.Direction = directionFor(report.RelativeSlope, a.anomaly.OutlierSignificance)
	report.MovingAverage = movingAverage(durations, movingAverageWindow(len(durations)))
	report.ChangePoints = detectChangePoints(durations, now, runs)

	if opts.IncludeAnomalies {
		report.Anomalies = detectAnomalies(durations, report.Stats, a.anomaly.ZThreshold, runs)
	}
	if opts.IncludeSeasonality {
		seasonality := detectSeasonality(durations, runs)
		report.Seasonality = &seasonality
	}
	if opts.IncludeForecast {
		report.Forecast = forecast(durations)
	}

	return report, nil
}

func movingAverageWindow(n int) int {
	w := n / 10
	if w < 5 {
		w = 5
	}
	if w > n {
		w = n
	}
	return w
}

func directionFor(relativeSlope, significance float64) domain.Direction {
	switch {
	case relativeSlope > significance:
		return domain.DirectionIncreasing
	case relativeSlope < -significance:
		return domain.DirectionDecreasing
	default:
		return domain.DirectionStable
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}
