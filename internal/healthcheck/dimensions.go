package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

func (c *Checker) evaluatePipeline(ctx context.Context, repository string) domain.DimensionResult {
	result := domain.DimensionResult{Name: domain.DimensionPipeline}

	if c.metrics == nil {
		result.Score = 70
		return result
	}

	runs, err := c.metrics.PipelineRuns(ctx, repository, time.Now().Add(-7*24*time.Hour), 500)
	if err != nil {
		result.Score = 50
		result.Issues = append(result.Issues, fmt.Sprintf("pipeline runs unavailable: %v", err))
		return result
	}
	if len(runs) == 0 {
		result.Score = 70
		return result
	}
	result.Present = true

	var successCount, total, last24hFailures int
	var queueSum float64
	cutoff24h := time.Now().Add(-24 * time.Hour)
	for _, r := range runs {
		if r.Conclusion == domain.ConclusionInProgress || r.Conclusion == domain.ConclusionQueued {
			continue
		}
		total++
		if r.Conclusion == domain.ConclusionSuccess {
			successCount++
		}
		if r.Conclusion == domain.ConclusionFailure && r.StartedAt.After(cutoff24h) {
			last24hFailures++
		}
		queueSum += r.QueueTimeS
	}

	successRate := 100.0
	if total > 0 {
		successRate = float64(successCount) / float64(total) * 100
	}
	meanQueue := 0.0
	if total > 0 {
		meanQueue = queueSum / float64(total)
	}

	successScore := scoreFromDeviation(successRate, c.cfg.MinSuccessRatePercent, false)
	failureScore := scoreFromDeviation(float64(last24hFailures), float64(c.cfg.MaxDailyFailures), true)
	queueScore := scoreFromDeviation(meanQueue, c.cfg.MaxQueueTimeS, true)

	result.Score = (successScore + failureScore + queueScore) / 3
	if successRate < c.cfg.MinSuccessRatePercent {
		result.Issues = append(result.Issues, fmt.Sprintf("success rate %.1f%% below threshold %.1f%%", successRate, c.cfg.MinSuccessRatePercent))
	}
	if last24hFailures > c.cfg.MaxDailyFailures {
		result.Issues = append(result.Issues, fmt.Sprintf("%d failures in last 24h exceeds %d", last24hFailures, c.cfg.MaxDailyFailures))
	}
	if meanQueue > c.cfg.MaxQueueTimeS {
		result.Issues = append(result.Issues, fmt.Sprintf("mean queue time %.0fs exceeds %.0fs", meanQueue, c.cfg.MaxQueueTimeS))
	}
	return result
}

func (c *Checker) evaluatePerformance(ctx context.Context, repository string) domain.DimensionResult {
	result := domain.DimensionResult{Name: domain.DimensionPerformance}

	scores := make([]float64, 0, 3)

	if c.metrics != nil {
		runs, err := c.metrics.PipelineRuns(ctx, repository, time.Now().Add(-7*24*time.Hour), 500)
		if err != nil {
			result.Issues = append(result.Issues, fmt.Sprintf("duration metrics unavailable: %v", err))
		} else if len(runs) > 0 {
			result.Present = true
			var durationSum float64
			var n int
			for _, r := range runs {
				if r.Conclusion == domain.ConclusionInProgress || r.Conclusion == domain.ConclusionQueued {
					continue
				}
				durationSum += r.DurationS
				n++
			}
			if n > 0 {
				mean := durationSum / float64(n)
				durationScore := scoreFromDeviation(mean, c.cfg.MaxAvgDurationS, true)
				scores = append(scores, durationScore)
				if mean > c.cfg.MaxAvgDurationS {
					result.Issues = append(result.Issues, fmt.Sprintf("mean duration %.0fs exceeds %.0fs", mean, c.cfg.MaxAvgDurationS))
				}
			}
		}
	}

	if c.trend != nil {
		if slope, ok := c.trend.RelativeSlope(ctx, repository, domain.WindowMedium); ok {
			result.Present = true
			degradationScore := scoreFromDeviation(slope, c.cfg.MaxDegradationRate, true)
			scores = append(scores, degradationScore)
			if slope > c.cfg.MaxDegradationRate {
				result.Issues = append(result.Issues, fmt.Sprintf("degradation trend %.2f exceeds %.2f", slope, c.cfg.MaxDegradationRate))
			}
		}
	}

	if c.host != nil {
		if cpu, err := c.host.CPUPercent(ctx); err == nil {
			result.Present = true
			cpuScore := scoreFromDeviation(cpu, c.cfg.MaxCPUPercent, true)
			scores = append(scores, cpuScore)
			if cpu > c.cfg.MaxCPUPercent {
				result.Issues = append(result.Issues, fmt.Sprintf("cpu %.0f%% exceeds %.0f%%", cpu, c.cfg.MaxCPUPercent))
			}
		}
	}

	if len(scores) == 0 {
		result.Score = 70
		return result
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	result.Score = sum / float64(len(scores))
	return result
}

func (c *Checker) evaluateQuality(ctx context.Context, repository string) domain.DimensionResult {
	result := domain.DimensionResult{Name: domain.DimensionQuality}

	if c.metrics == nil {
		result.Score = 70
		return result
	}

	qm, err := c.metrics.QualityMetrics(ctx, repository)
	if err != nil {
		result.Score = 50
		result.Issues = append(result.Issues, fmt.Sprintf("quality metrics unavailable: %v", err))
		return result
	}

	scores := make([]float64, 0, 4)
	if qm.TestCoveragePercent != nil {
		result.Present = true
		s := scoreFromDeviation(*qm.TestCoveragePercent, c.cfg.MinTestCoveragePercent, false)
		scores = append(scores, s)
		if *qm.TestCoveragePercent < c.cfg.MinTestCoveragePercent {
			result.Issues = append(result.Issues, fmt.Sprintf("coverage %.1f%% below %.1f%%", *qm.TestCoveragePercent, c.cfg.MinTestCoveragePercent))
		}
	}
	if qm.CodeQualityScore != nil {
		result.Present = true
		s := scoreFromDeviation(*qm.CodeQualityScore, c.cfg.MinCodeQualityScore, false)
		scores = append(scores, s)
		if *qm.CodeQualityScore < c.cfg.MinCodeQualityScore {
			result.Issues = append(result.Issues, fmt.Sprintf("code quality %.1f below %.1f", *qm.CodeQualityScore, c.cfg.MinCodeQualityScore))
		}
	}
	if qm.SecurityVulns != nil {
		result.Present = true
		s := scoreFromDeviation(float64(*qm.SecurityVulns), float64(c.cfg.MaxSecurityVulns), true)
		scores = append(scores, s)
		if *qm.SecurityVulns > c.cfg.MaxSecurityVulns {
			result.Issues = append(result.Issues, fmt.Sprintf("%d security vulnerabilities exceeds %d", *qm.SecurityVulns, c.cfg.MaxSecurityVulns))
		}
	}
	if qm.TechnicalDebtHours != nil {
		result.Present = true
		scores = append(scores, clamp(100-*qm.TechnicalDebtHours, 0, 100))
	}

	if len(scores) == 0 {
		result.Score = 70
		return result
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	result.Score = sum / float64(len(scores))
	return result
}

func (c *Checker) evaluateReliability(ctx context.Context, repository string) domain.DimensionResult {
	result := domain.DimensionResult{Name: domain.DimensionReliability}

	if c.metrics == nil {
		result.Score = 80
		return result
	}

	rm, err := c.metrics.ReliabilityMetrics(ctx, repository)
	if err != nil {
		result.Score = 50
		result.Issues = append(result.Issues, fmt.Sprintf("reliability metrics unavailable: %v", err))
		return result
	}

	scores := make([]float64, 0, 4)
	if rm.FlakyTestCount != nil {
		result.Present = true
		s := scoreFromDeviation(float64(*rm.FlakyTestCount), float64(c.cfg.MaxFlakyTests), true)
		scores = append(scores, s)
		if *rm.FlakyTestCount > c.cfg.MaxFlakyTests {
			result.Issues = append(result.Issues, fmt.Sprintf("%d flaky tests exceeds %d", *rm.FlakyTestCount, c.cfg.MaxFlakyTests))
		}
	}
	if rm.MTTRHours != nil {
		result.Present = true
		s := scoreFromDeviation(*rm.MTTRHours, c.cfg.MaxMTTRHours, true)
		scores = append(scores, s)
		if *rm.MTTRHours > c.cfg.MaxMTTRHours {
			result.Issues = append(result.Issues, fmt.Sprintf("MTTR %.1fh exceeds %.1fh", *rm.MTTRHours, c.cfg.MaxMTTRHours))
		}
	}
	if rm.DeployFrequencyPerWeek != nil {
		result.Present = true
		s := scoreFromDeviation(*rm.DeployFrequencyPerWeek, c.cfg.MinDeployFreqPerWeek, false)
		scores = append(scores, s)
		if *rm.DeployFrequencyPerWeek < c.cfg.MinDeployFreqPerWeek {
			result.Issues = append(result.Issues, fmt.Sprintf("deploy frequency %.1f/week below %.1f", *rm.DeployFrequencyPerWeek, c.cfg.MinDeployFreqPerWeek))
		}
	}
	if rm.ChangeFailurePercent != nil {
		result.Present = true
		s := scoreFromDeviation(*rm.ChangeFailurePercent, c.cfg.MaxChangeFailurePercent, true)
		scores = append(scores, s)
		if *rm.ChangeFailurePercent > c.cfg.MaxChangeFailurePercent {
			result.Issues = append(result.Issues, fmt.Sprintf("change failure rate %.1f%% exceeds %.1f%%", *rm.ChangeFailurePercent, c.cfg.MaxChangeFailurePercent))
		}
	}

	if len(scores) == 0 {
		result.Score = 80
		return result
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	result.Score = sum / float64(len(scores))
	return result
}
