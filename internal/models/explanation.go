package models

import "time"

// Explanation is the triage narrative produced by the external reasoning
// service for one anomaly. At most one explanation exists per anomaly; the
// anomaly_id column is unique and inserts use ON CONFLICT DO NOTHING.
type Explanation struct {
	ID             string    `db:"id" json:"id"`
	AnomalyID      string    `db:"anomaly_id" json:"anomaly_id"`
	DatasetID      string    `db:"dataset_id" json:"dataset_id"`
	Severity       string    `db:"severity" json:"severity"`
	Category       string    `db:"category" json:"category"`
	Recommendation string    `db:"recommendation" json:"recommendation"`
	Provider       string    `db:"provider" json:"provider"`
	ModelVersion   string    `db:"model_version" json:"model_version"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
