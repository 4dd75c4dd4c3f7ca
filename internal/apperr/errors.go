// Package apperr defines the pipeline error taxonomy. Handlers map these
// sentinels onto HTTP status codes; everything else is an internal error.
package apperr

import "errors"

var (
	// ErrNotFound means the requested dataset, session or anomaly does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means a stage was requested from an illegal dataset status.
	ErrInvalidState = errors.New("invalid dataset state for requested operation")

	// ErrSchemaMismatch means the dataset columns are incompatible with the
	// frozen model schema. It fails the whole scoring batch.
	ErrSchemaMismatch = errors.New("dataset schema does not match frozen model")

	// ErrModelUnavailable means no frozen model bundle is loaded. Scoring must
	// fail fast rather than fall back to training inside a request.
	ErrModelUnavailable = errors.New("model bundle unavailable")

	// ErrNoAnomalies means triage was requested for a dataset with zero
	// recorded anomalies.
	ErrNoAnomalies = errors.New("no anomalies recorded for dataset")
)
