package anomaly

import (
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// statisticalSubmodel implements statistical submodel: a baseline
// failure rate bumped by temporal-pattern and duration-increase factors.
func statisticalSubmodel(runs []domain.PipelineRun, now time.Time) domain.SubmodelResult {
	result := domain.SubmodelResult{Name: "statistical"}
	if len(runs) == 0 {
		return result
	}

	baseline := failureRate(runs)
	probability := baseline
	var factors []domain.ContributingFactor

	currentHourRate := failureRate(runsInHour(runs, now.Hour()))
	if baseline > 0 && currentHourRate > 1.5*baseline {
		probability *= 1.3
		factors = append(factors, domain.ContributingFactor{Kind: "temporal-pattern", Impact: 0.30})
	}

	recentDuration := meanDuration(tail(runs, 10))
	successDuration := meanDuration(filterConclusion(runs, domain.ConclusionSuccess))
	if successDuration > 0 && recentDuration/successDuration > 1.5 {
		probability *= 1.2
		factors = append(factors, domain.ContributingFactor{Kind: "duration-increase", Impact: 0.20})
	}

	result.Probability = clamp01(probability)
	result.Factors = factors
	return result
}

// trendSubmodel implements trend submodel: a 0.10 base bumped by
// a rising duration trend and a declining success-rate trend.
func trendSubmodel(runs []domain.PipelineRun) domain.SubmodelResult {
	result := domain.SubmodelResult{Name: "trend", Probability: 0.10}
	if len(runs) < domain.MinDataPoints {
		return result
	}

	durations := make([]float64, len(runs))
	for i, r := range runs {
		durations[i] = r.DurationS
	}

	var factors []domain.ContributingFactor
	probability := result.Probability

	if ols := relativeSlopeOf(durations); ols > 0.10 {
		probability += 0.20
		factors = append(factors, domain.ContributingFactor{Kind: "duration-increase", Impact: 0.20})
	}

	if delta := successRateTrend(runs); delta < -0.10 {
		probability += 0.30
		factors = append(factors, domain.ContributingFactor{Kind: "success-rate-decline", Impact: 0.30})
	}

	result.Probability = clamp01(probability)
	result.Factors = factors
	return result
}

// patternSubmodel implements pattern submodel: a 0.05 base bumped
// when the training window contains a consecutive-failure streak over 2.
func patternSubmodel(runs []domain.PipelineRun) domain.SubmodelResult {
	result := domain.SubmodelResult{Name: "pattern", Probability: 0.05}
	if maxConsecutiveFailures(runs) > 2 {
		result.Probability = clamp01(result.Probability + 0.25)
		result.Factors = []domain.ContributingFactor{{Kind: "consecutive-failures", Impact: 0.25}}
	}
	return result
}

func failureRate(runs []domain.PipelineRun) float64 {
	if len(runs) == 0 {
		return 0
	}
	var failures int
	for _, r := range runs {
		if r.Conclusion == domain.ConclusionFailure {
			failures++
		}
	}
	return float64(failures) / float64(len(runs))
}

func runsInHour(runs []domain.PipelineRun, hour int) []domain.PipelineRun {
	var out []domain.PipelineRun
	for _, r := range runs {
		if r.StartedAt.Hour() == hour {
			out = append(out, r)
		}
	}
	return out
}

func tail(runs []domain.PipelineRun, n int) []domain.PipelineRun {
	if len(runs) <= n {
		return runs
	}
	return runs[len(runs)-n:]
}

func filterConclusion(runs []domain.PipelineRun, conclusion domain.Conclusion) []domain.PipelineRun {
	var out []domain.PipelineRun
	for _, r := range runs {
		if r.Conclusion == conclusion {
			out = append(out, r)
		}
	}
	return out
}

func meanDuration(runs []domain.PipelineRun) float64 {
	if len(runs) == 0 {
		return 0
	}
	var sum float64
	for _, r := range runs {
		sum += r.DurationS
	}
	return sum / float64(len(runs))
}

// successRateTrend is the relative change in success rate between the first
// and second half of the training window ("30-day window").
func successRateTrend(runs []domain.PipelineRun) float64 {
	if len(runs) < domain.MinDataPoints {
		return 0
	}
	mid := len(runs) / 2
	firstRate := 1 - failureRate(runs[:mid])
	secondRate := 1 - failureRate(runs[mid:])
	if firstRate == 0 {
		return 0
	}
	return (secondRate - firstRate) / firstRate
}

// maxConsecutiveFailures scans runs in chronological order for the longest
// run of consecutive failure conclusions; any other conclusion resets the
// streak.
func maxConsecutiveFailures(runs []domain.PipelineRun) int {
	best, current := 0, 0
	for _, r := range runs {
		if r.Conclusion == domain.ConclusionFailure {
			current++
			if current > best {
				best = current
			}
		} else {
			current = 0
		}
	}
	return best
}

// relativeSlopeOf is a local OLS slope over equally-spaced indices, normalized
// by the series mean (same derivation as internal/trend's unexported helper).
func relativeSlopeOf(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range xs {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	m := sumY / n
	if m == 0 {
		return 0
	}
	return slope / m
}
