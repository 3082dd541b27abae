package domain

import "errors"

var (
	// ErrMalformedPayload marks a raw payload that cannot be parsed into facts.
	// The raw row stays in place; only the transform for that entity is skipped.
	ErrMalformedPayload = errors.New("malformed raw payload")

	// ErrLocationNotFound marks a raw weather payload whose location is not in
	// the location dimension.
	ErrLocationNotFound = errors.New("location not found")

	// ErrConflict marks a write rejected by a uniqueness constraint or a
	// serialization failure. The whole transaction may be retried.
	ErrConflict = errors.New("transaction conflict")

	// ErrSourceRejected marks a source response that retrying cannot fix, such
	// as a 404 for a page title or a 400 for bad coordinates.
	ErrSourceRejected = errors.New("source rejected request")
)

// ErrRunInProgress is returned when a run is triggered while another is still
// active.
var ErrRunInProgress = errors.New("pipeline run already in progress")
