package domain

import "time"

// ContributingFactor is one named, weighted input to a failure prediction.
type ContributingFactor struct {
	Kind   string  `json:"kind"`
	Impact float64 `json:"impact"`
}

// FailurePrediction is the output of the Anomaly Detector's ensemble.
type FailurePrediction struct {
	Repository          string                `json:"repository"`
	Timestamp           time.Time             `json:"timestamp"`
	Probability         float64               `json:"probability"`
	Confidence          float64               `json:"confidence"`
	ContributingFactors []ContributingFactor  `json:"contributing_factors,omitempty"`
	Recommendations     []string              `json:"recommendations,omitempty"`
	Features            map[string]float64    `json:"features,omitempty"`
	Anomalies           []TrendAnomaly        `json:"anomalies,omitempty"`
}

// SubmodelResult is what each of the three ensemble submodels reports.
type SubmodelResult struct {
	Name        string
	Probability float64
	Factors     []ContributingFactor
}

// EnsembleWeights are fixed constants, chosen for test reproducibility
// rather than runtime-tunable weights.
var EnsembleWeights = map[string]float64{
	"statistical": 0.40,
	"trend":       0.30,
	"pattern":     0.30,
}

// Baseline is the per-metric {mean, stdev} computed over a 30-day history.
type Baseline struct {
	Repository string    `json:"repository" db:"repository"`
	Metric     string    `json:"metric" db:"metric"`
	Mean       float64   `json:"mean" db:"mean"`
	Stdev      float64   `json:"stdev" db:"stdev"`
	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}
