package models

// FeatureEvidence is one feature of the anomaly's case, as sent to the
// reasoning service.
type FeatureEvidence struct {
	Name                string  `json:"name"`
	ActualValue         string  `json:"actual_value"`
	ReconstructionError float64 `json:"reconstruction_error"`
}

// Evidence is the per-anomaly case forwarded to the reasoning service.
type Evidence struct {
	DatasetName  string            `json:"dataset_name"`
	RowIndex     int               `json:"row_index"`
	AnomalyScore float64           `json:"anomaly_score"`
	Threshold    float64           `json:"threshold"`
	Features     []FeatureEvidence `json:"features"`
}

// Assessment is the reasoning service's triage verdict for one anomaly.
type Assessment struct {
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	Recommendation string `json:"recommendation"`
}
