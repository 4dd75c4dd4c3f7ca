package models

import "time"

// DatasetStatus is the lifecycle status of an uploaded dataset. The pipeline
// owns the dataset once uploaded and mutates it only through state-machine
// transitions.
type DatasetStatus string

const (
	StatusUploaded  DatasetStatus = "uploaded"
	StatusParsing   DatasetStatus = "parsing"
	StatusParsed    DatasetStatus = "parsed"
	StatusAnalyzing DatasetStatus = "analyzing"
	StatusAnalyzed  DatasetStatus = "analyzed"
	StatusTriaging  DatasetStatus = "triaging"
	StatusCompleted DatasetStatus = "completed"
	StatusError     DatasetStatus = "error"
)

// legalTransitions lists, for each status, the statuses it may move to.
// error is reachable from every non-terminal status; completed is terminal.
// A dataset in error re-enters the pipeline at parsing.
var legalTransitions = map[DatasetStatus][]DatasetStatus{
	StatusUploaded:  {StatusParsing, StatusError},
	StatusParsing:   {StatusParsed, StatusError},
	StatusParsed:    {StatusAnalyzing, StatusError},
	StatusAnalyzing: {StatusAnalyzed, StatusError},
	StatusAnalyzed:  {StatusTriaging, StatusError},
	StatusTriaging:  {StatusCompleted, StatusError},
	StatusError:     {StatusParsing},
	StatusCompleted: {},
}

// statusRank orders statuses along the pipeline so handlers can gate reads
// that require "at least analyzed". error and completed sit outside the
// monotonic chain and are handled explicitly where it matters.
var statusRank = map[DatasetStatus]int{
	StatusUploaded:  0,
	StatusParsing:   1,
	StatusParsed:    2,
	StatusAnalyzing: 3,
	StatusAnalyzed:  4,
	StatusTriaging:  5,
	StatusCompleted: 6,
	StatusError:     -1,
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to DatasetStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AnalysisRestartable reports whether the autoencoder stage may be
// (re-)started from the given status.
func AnalysisRestartable(s DatasetStatus) bool {
	return s == StatusUploaded || s == StatusError
}

// AnalysisInFlight reports whether the status marks an autoencoder pass that
// is (or was) mid-stage. A dataset sitting here with no live session belongs
// to a crashed worker and must be recoverable, not wedged.
func AnalysisInFlight(s DatasetStatus) bool {
	return s == StatusParsing || s == StatusParsed || s == StatusAnalyzing
}

// AtLeastAnalyzed reports whether the dataset has completed the autoencoder
// stage (anomaly records exist and are readable).
func AtLeastAnalyzed(s DatasetStatus) bool {
	return statusRank[s] >= statusRank[StatusAnalyzed]
}

// Dataset is an uploaded tabular file tracked through the analysis pipeline.
type Dataset struct {
	ID               string        `db:"id" json:"id"`
	OriginalFilename string        `db:"original_filename" json:"original_filename"`
	StorageLocation  string        `db:"storage_location" json:"-"`
	SizeBytes        int64         `db:"size_bytes" json:"size_bytes"`
	ContentType      string        `db:"content_type" json:"content_type"`
	Status           DatasetStatus `db:"status" json:"status"`
	AnomalyCount     int           `db:"anomaly_count" json:"anomaly_count"`
	ErrorMessage     *string       `db:"error_message" json:"error_message,omitempty"`
	UploadedAt       time.Time     `db:"uploaded_at" json:"uploaded_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}
