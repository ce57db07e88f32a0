package domain

import "time"

// Conclusion is the terminal (or in-flight) status of a PipelineRun.
type Conclusion string

const (
	ConclusionSuccess    Conclusion = "success"
	ConclusionFailure    Conclusion = "failure"
	ConclusionCancelled  Conclusion = "cancelled"
	ConclusionInProgress Conclusion = "in_progress"
	ConclusionQueued     Conclusion = "queued"
)

// PipelineRun is an immutable time-series sample ingested from the Metrics Source.
type PipelineRun struct {
	Repository     string     `json:"repository" db:"repository"`
	RunID          string     `json:"run_id" db:"run_id"`
	Workflow       string     `json:"workflow" db:"workflow"`
	Branch         string     `json:"branch" db:"branch"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Conclusion     Conclusion `json:"conclusion" db:"conclusion"`
	DurationS      float64    `json:"duration_s" db:"duration_s"`
	QueueTimeS     float64    `json:"queue_time_s" db:"queue_time_s"`
	ConcurrentRuns int        `json:"concurrent_runs" db:"concurrent_runs"`
	Actor          string     `json:"actor" db:"actor"`
}

// QualityMetrics is an optional, point-in-time snapshot used by the Quality health dimension.
type QualityMetrics struct {
	Repository            string  `json:"repository"`
	TestCoveragePercent    *float64 `json:"test_coverage_percent,omitempty"`
	CodeQualityScore       *float64 `json:"code_quality_score,omitempty"`
	SecurityVulns          *int     `json:"security_vulns,omitempty"`
	TechnicalDebtHours     *float64 `json:"technical_debt_hours,omitempty"`
}

// ReliabilityMetrics is an optional snapshot used by the Reliability health dimension.
type ReliabilityMetrics struct {
	Repository            string   `json:"repository"`
	FlakyTestCount         *int     `json:"flaky_test_count,omitempty"`
	MTTRHours              *float64 `json:"mttr_hours,omitempty"`
	DeployFrequencyPerWeek *float64 `json:"deploy_frequency_per_week,omitempty"`
	ChangeFailurePercent   *float64 `json:"change_failure_percent,omitempty"`
}
