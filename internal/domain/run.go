package domain

import "time"

// RunStatus is the terminal state of one pipeline run.
type RunStatus string

const (
	// RunSucceeded means every entity landed, the gate passed and all
	// aggregates refreshed.
	RunSucceeded RunStatus = "succeeded"
	// RunFailedAtGate means a quality suite failed and aggregates were left
	// untouched.
	RunFailedAtGate RunStatus = "failed_at_gate"
	// RunPartial means the gate passed but some entity or aggregate refresh
	// failed or was skipped.
	RunPartial RunStatus = "partial"
	// RunFailed means the run aborted before the gate.
	RunFailed RunStatus = "failed"
)

// Stage names used as keys of RunReport.Stages.
const (
	StageDimension        = "dimension"
	StageWeatherExtract   = "weather_extract"
	StageWeatherTransform = "weather_transform"
	StagePageExtract      = "page_extract"
	StagePageTransform    = "page_transform"
	StageQualityGate      = "quality_gate"
	StageAggregateRefresh = "aggregate_refresh"
)

// StageCounts tallies what a stage did. Rows is stage-specific: raw rows
// appended for extracts, fact rows written for transforms, views refreshed for
// the refresh stage.
type StageCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Rows      int `json:"rows"`
}

// RunReport is the outcome of one pipeline run.
type RunReport struct {
	RunID      string                 `json:"run_id"`
	Status     RunStatus              `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Stages     map[string]StageCounts `json:"stages"`
	Violations []string               `json:"violations,omitempty"`
	Errors     []string               `json:"errors,omitempty"`
}

// Duration returns how long the run took.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the run ended in a status that should fail a
// scheduler job.
func (r RunReport) Failed() bool {
	return r.Status == RunFailed || r.Status == RunFailedAtGate
}
