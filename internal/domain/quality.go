package domain

import "time"

// Expectation suites evaluated by the quality gate.
const (
	SuiteWeather   = "weather_fact_suite"
	SuiteWikipedia = "wikipedia_revision_suite"
)

// QualitySelector names the suite and the slice of rows an oracle evaluates.
type QualitySelector struct {
	Suite string    `json:"suite"`
	Table string    `json:"table"`
	Since time.Time `json:"since"`
}

// QualityResult is the oracle's verdict. Violations is empty when Success is
// true.
type QualityResult struct {
	Success    bool     `json:"success"`
	Violations []string `json:"violations,omitempty"`
}
