package trend

import (
	"math"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// summaryStats computes mean/median/p95/stdev/CV.
func summaryStats(xs []float64) domain.SummaryStats {
	m := mean(xs)
	sd := stdev(xs, m)
	cv := 0.0
	if m != 0 {
		cv = sd / m
	}
	return domain.SummaryStats{
		Mean:                   m,
		Median:                 percentile(xs, 50),
		P95:                    percentile(xs, 95),
		Stdev:                  sd,
		CoefficientOfVariation: cv,
	}
}

func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sortFloats(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// relativeSlope computes the OLS slope of xs against equally-spaced indices,
// normalized by the series mean ("relative slope").
func relativeSlope(xs []float64) float64 {
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

// movingAverage emits the trailing window average starting at index w-1
//.
func movingAverage(xs []float64, w int) []float64 {
	if w <= 0 || w > len(xs) {
		return nil
	}
	out := make([]float64, 0, len(xs)-w+1)
	var sum float64
	for i := 0; i < w; i++ {
		sum += xs[i]
	}
	out = append(out, sum/float64(w))
	for i := w; i < len(xs); i++ {
		sum += xs[i] - xs[i-w]
		out = append(out, sum/float64(w))
	}
	return out
}

// detectChangePoints compares sliding windows of size max(5, N/10) on either
// side of each interior index; reports a change point when the means differ
// by more than 2*pooled-stdev.
func detectChangePoints(xs []float64, now time.Time, runs []domain.PipelineRun) []domain.ChangePoint {
	n := len(xs)
	w := n / 10
	if w < 5 {
		w = 5
	}
	if n < 2*w+1 {
		return nil
	}

	var points []domain.ChangePoint
	for i := w; i < n-w; i++ {
		before := xs[i-w : i]
		after := xs[i : i+w]
		beforeMean := mean(before)
		afterMean := mean(after)
		pooled := math.Sqrt((variance(before, beforeMean) + variance(after, afterMean)) / 2)
		threshold := 2 * pooled
		if threshold == 0 {
			continue
		}
		if math.Abs(afterMean-beforeMean) > threshold {
			ts := now
			if i < len(runs) {
				ts = runs[i].StartedAt
			}
			points = append(points, domain.ChangePoint{
				Index: i, Timestamp: ts, Before: beforeMean, After: afterMean,
				Magnitude: math.Abs(afterMean - beforeMean),
			})
		}
	}
	return points
}

func variance(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// detectAnomalies flags |z-score| > threshold using the global mean/stdev
//.
func detectAnomalies(xs []float64, stats domain.SummaryStats, threshold float64, runs []domain.PipelineRun) []domain.TrendAnomaly {
	if stats.Stdev == 0 {
		return nil
	}
	var anomalies []domain.TrendAnomaly
	for i, x := range xs {
		z := (x - stats.Mean) / stats.Stdev
		if math.Abs(z) <= threshold {
			continue
		}
		var ts = runs[i].StartedAt
		anomalies = append(anomalies, domain.TrendAnomaly{
			Index: i, Timestamp: ts, Value: x, ZScore: z, Severity: severityFor(math.Abs(z)),
		})
	}
	return anomalies
}

func severityFor(absZ float64) domain.Severity {
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

// correlate computes Pearson's r between two equal-length series.
func correlate(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	ma, mb := mean(a), mean(b)
	var num, denomA, denomB float64
	for i := range a {
		da := a[i] - ma
		db := b[i] - mb
		num += da * db
		denomA += da * da
		denomB += db * db
	}
	if denomA == 0 || denomB == 0 {
		return 0
	}
	return num / math.Sqrt(denomA*denomB)
}

// detectSeasonality does a coarse autocorrelation scan at lags of 24 and 168
// samples of the run series (the daily and weekly candidates), reporting the
// strongest period found. Runs are not re-bucketed by hour, so a lag counts
// runs, not elapsed hours.
func detectSeasonality(xs []float64, runs []domain.PipelineRun) domain.Seasonality {
	candidates := []int{24, 168}
	best := domain.Seasonality{}
	for _, period := range candidates {
		if len(xs) <= period {
			continue
		}
		strength := math.Abs(autocorrelation(xs, period))
		if strength > best.Strength {
			best = domain.Seasonality{PeriodHours: period, Strength: strength}
		}
	}
	return best
}

func autocorrelation(xs []float64, lag int) float64 {
	if lag >= len(xs) {
		return 0
	}
	a := xs[:len(xs)-lag]
	b := xs[lag:]
	return correlate(a, b)
}

// forecast extrapolates linearly from the last 30 points over a 7-step
// horizon, with confidence decaying as 1/(1+k*h).
func forecast(xs []float64) []domain.ForecastPoint {
	const horizon = 7
	const decayK = 0.15

	tail := xs
	if len(tail) > 30 {
		tail = tail[len(tail)-30:]
	}
	n := float64(len(tail))
	if n < 2 {
		return nil
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range tail {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return nil
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	points := make([]domain.ForecastPoint, 0, horizon)
	lastX := n - 1
	for h := 1; h <= horizon; h++ {
		x := lastX + float64(h)
		value := intercept + slope*x
		confidence := 1 / (1 + decayK*float64(h))
		points = append(points, domain.ForecastPoint{StepsAhead: h, Value: value, Confidence: confidence})
	}
	return points
}
