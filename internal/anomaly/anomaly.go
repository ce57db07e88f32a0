// Package anomaly implements the Anomaly Detector:
// predict_failure(repository) ensembles three submodels (statistical, trend,
// pattern) with fixed weights into a FailurePrediction. Numeric style
// matches internal/trend's plain-Go stdlib math; ensemble weighting follows
// internal/resilience's named-config-preset style: fixed, documented
// constants rather than runtime-tunable weights.
package anomaly

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/cache"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// RunSource supplies the PipelineRun history submodels train against.
type RunSource interface {
	PipelineRuns(ctx context.Context, repository string, since time.Time, limit int) ([]domain.PipelineRun, error)
}

// BaselineStore persists the per-metric {mean, stdev} baselines used for
// z-score anomaly detection.
type BaselineStore interface {
	PutBaseline(ctx context.Context, baseline domain.Baseline) error
	Baselines(ctx context.Context, repository string) ([]domain.Baseline, error)
}

// baselineMetrics lists the PipelineRun fields a baseline is tracked for.
var baselineMetrics = []string{"duration_s", "queue_time_s"}

// Detector computes FailurePredictions, cached per repository under model_ttl.
type Detector struct {
	runs       RunSource
	baselines  BaselineStore
	zThreshold float64
	cache      *cache.Cache
	ttl        time.Duration
}

// New constructs a Detector. ttl defaults to 60 minutes (model ttl); zThreshold
// defaults to 2.5 standard deviations.
func New(runs RunSource, baselines BaselineStore, zThreshold float64, ttl time.Duration) *Detector {
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	if zThreshold <= 0 {
		zThreshold = 2.5
	}
	return &Detector{
		runs:       runs,
		baselines:  baselines,
		zThreshold: zThreshold,
		cache:      cache.New(cache.Config{DefaultTTL: ttl, CleanupInterval: ttl}),
		ttl:        ttl,
	}
}

// PredictFailure implements predict_failure(repository).
func (d *Detector) PredictFailure(ctx context.Context, repository string) (domain.FailurePrediction, error) {
	if cached, ok := d.cache.Get(repository); ok {
		return cached.(domain.FailurePrediction), nil
	}

	lock := d.cache.KeyLock(repository)
	lock.Lock()
	defer lock.Unlock()
	if cached, ok := d.cache.Get(repository); ok {
		return cached.(domain.FailurePrediction), nil
	}

	prediction, err := d.compute(ctx, repository)
	if err != nil {
		return domain.FailurePrediction{}, err
	}
	d.cache.Set(repository, prediction, d.ttl)
	return prediction, nil
}

func (d *Detector) compute(ctx context.Context, repository string) (domain.FailurePrediction, error) {
	now := time.Now()
	runs, err := d.runs.PipelineRuns(ctx, repository, now.Add(-30*24*time.Hour), 0)
	if err != nil {
		return domain.FailurePrediction{}, err
	}

	statistical := statisticalSubmodel(runs, now)
	trendModel := trendSubmodel(runs)
	pattern := patternSubmodel(runs)

	submodels := []domain.SubmodelResult{statistical, trendModel, pattern}

	var weightedSum, weightSum float64
	probs := make([]float64, 0, len(submodels))
	for _, sm := range submodels {
		if math.IsNaN(sm.Probability) || math.IsInf(sm.Probability, 0) {
			continue
		}
		w := domain.EnsembleWeights[sm.Name]
		weightedSum += sm.Probability * w
		weightSum += w
		probs = append(probs, sm.Probability)
	}

	probability := 0.0
	if weightSum > 0 {
		probability = weightedSum / weightSum
	}
	confidence := math.Max(0, 1-variance(probs))

	factors := consolidateFactors(submodels)

	anomalies := d.refreshBaselinesAndDetect(ctx, repository, runs, now)

	return domain.FailurePrediction{
		Repository:          repository,
		Timestamp:           now,
		Probability:         clamp01(probability),
		Confidence:          clamp01(confidence),
		ContributingFactors: factors,
		Recommendations:     recommendationsFor(factors),
		Features:            featuresFrom(runs),
		Anomalies:           anomalies,
	}, nil
}

// refreshBaselinesAndDetect recomputes each tracked metric's {mean, stdev}
// over runs, persists it via BaselineStore, and flags the most recent run's
// value as an anomaly when it lies more than zThreshold standard deviations
// from the refreshed baseline. Errors persisting a baseline are swallowed:
// detection still proceeds against the freshly computed in-memory value, and
// a transient store failure should not fail the whole prediction.
func (d *Detector) refreshBaselinesAndDetect(ctx context.Context, repository string, runs []domain.PipelineRun, now time.Time) []domain.TrendAnomaly {
	if d.baselines == nil || len(runs) == 0 {
		return nil
	}

	latest := runs[len(runs)-1]
	var anomalies []domain.TrendAnomaly
	for _, metric := range baselineMetrics {
		values := metricSeries(runs, metric)
		mean, stdev := meanStdev(values)
		baseline := domain.Baseline{Repository: repository, Metric: metric, Mean: mean, Stdev: stdev, ComputedAt: now}
		_ = d.baselines.PutBaseline(ctx, baseline)

		if baseline.Stdev == 0 {
			continue
		}
		value := metricValue(latest, metric)
		z := (value - baseline.Mean) / baseline.Stdev
		if math.Abs(z) <= d.zThreshold {
			continue
		}
		anomalies = append(anomalies, domain.TrendAnomaly{
			Timestamp: latest.StartedAt,
			Value:     value,
			ZScore:    z,
			Severity:  severityForZ(math.Abs(z)),
		})
	}
	return anomalies
}

func metricSeries(runs []domain.PipelineRun, metric string) []float64 {
	out := make([]float64, len(runs))
	for i, r := range runs {
		out[i] = metricValue(r, metric)
	}
	return out
}

func metricValue(run domain.PipelineRun, metric string) float64 {
	switch metric {
	case "queue_time_s":
		return run.QueueTimeS
	default:
		return run.DurationS
	}
}

func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	stdev = math.Sqrt(sq / float64(len(xs)))
	return mean, stdev
}

func severityForZ(absZ float64) domain.Severity {
	switch {
	case absZ > 4:
		return domain.SeverityCritical
	case absZ > 3.5:
		return domain.SeverityHigh
	case absZ > 3:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func consolidateFactors(submodels []domain.SubmodelResult) []domain.ContributingFactor {
	byKind := make(map[string]float64)
	for _, sm := range submodels {
		for _, f := range sm.Factors {
			if f.Impact > byKind[f.Kind] {
				byKind[f.Kind] = f.Impact
			}
		}
	}
	out := make([]domain.ContributingFactor, 0, len(byKind))
	for kind, impact := range byKind {
		out = append(out, domain.ContributingFactor{Kind: kind, Impact: impact})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Impact > out[j].Impact })
	return out
}

func recommendationsFor(factors []domain.ContributingFactor) []string {
	var recs []string
	for _, f := range factors {
		switch f.Kind {
		case "temporal-pattern":
			recs = append(recs, "review deployments scheduled during historically failure-prone hours")
		case "duration-increase":
			recs = append(recs, "investigate recent run duration regressions")
		case "consecutive-failures":
			recs = append(recs, "address the root cause of the recent failure streak before the next deployment")
		}
	}
	return recs
}

func featuresFrom(runs []domain.PipelineRun) map[string]float64 {
	if len(runs) == 0 {
		return nil
	}
	var failures int
	var durationSum float64
	for _, r := range runs {
		if r.Conclusion == domain.ConclusionFailure {
			failures++
		}
		durationSum += r.DurationS
	}
	return map[string]float64{
		"sample_size":  float64(len(runs)),
		"failure_rate": float64(failures) / float64(len(runs)),
		"mean_duration_s": durationSum / float64(len(runs)),
	}
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return sq / float64(len(xs))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
