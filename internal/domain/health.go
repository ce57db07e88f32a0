package domain

import "time"

// HealthStatus is the three-tier classification derived from Score.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// StatusForScore applies the fixed thresholds: >=90 healthy, >=70 warning, else critical.
func StatusForScore(score float64) HealthStatus {
	switch {
	case score >= 90:
		return HealthHealthy
	case score >= 70:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// DimensionName is one of the four weighted health dimensions.
type DimensionName string

const (
	DimensionPipeline    DimensionName = "pipeline"
	DimensionPerformance DimensionName = "performance"
	DimensionQuality     DimensionName = "quality"
	DimensionReliability DimensionName = "reliability"
)

// DimensionWeights are the fixed contributions to the overall health score.
var DimensionWeights = map[DimensionName]float64{
	DimensionPipeline:    0.30,
	DimensionPerformance: 0.25,
	DimensionQuality:     0.25,
	DimensionReliability: 0.20,
}

// DimensionResult is one dimension's independent, immutable partial report.
type DimensionResult struct {
	Name    DimensionName `json:"name"`
	Score   float64       `json:"score"`
	Issues  []string      `json:"issues,omitempty"`
	Present bool          `json:"present"`
}

// HealthReport is a snapshot of repository health at one instant.
type HealthReport struct {
	Timestamp         time.Time         `json:"timestamp"`
	Repository        string            `json:"repository"`
	Status            HealthStatus      `json:"status"`
	Score             float64           `json:"score"`
	Dimensions        []DimensionResult `json:"dimensions"`
	Issues            []string          `json:"issues,omitempty"`
	Recommendations   []string          `json:"recommendations,omitempty"`
	ExecutionTimeMS   int64             `json:"execution_time_ms"`
}

// AlertEvent is the payload published on the alerts channel: "new" is the
// only normative event type there, so the alert's origin and severity-
// relevant detail travel in the payload instead of the event type string.
type AlertEvent struct {
	Kind       string      `json:"kind"` // "health", "trend", or "prediction"
	Repository string      `json:"repository"`
	Data       interface{} `json:"data"`
}
