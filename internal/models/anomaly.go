package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AnomalyStatus is the free-form triage workflow state of a single anomaly.
// It is independent of the owning dataset's pipeline status.
type AnomalyStatus string

const (
	AnomalyDetected      AnomalyStatus = "detected"
	AnomalyInvestigating AnomalyStatus = "investigating"
	AnomalyResolved      AnomalyStatus = "resolved"
	AnomalyFalsePositive AnomalyStatus = "false_positive"
)

// ValidAnomalyStatus reports whether s is one of the known workflow states.
func ValidAnomalyStatus(s AnomalyStatus) bool {
	switch s {
	case AnomalyDetected, AnomalyInvestigating, AnomalyResolved, AnomalyFalsePositive:
		return true
	}
	return false
}

// AnomalousFeature is one entry of the per-feature reconstruction-error
// ranking kept for explainability.
type AnomalousFeature struct {
	FeatureName         string  `json:"feature_name"`
	ActualValue         string  `json:"actual_value"`
	ReconstructionError float64 `json:"reconstruction_error"`
}

// AnomalousFeatures is stored as a JSONB column, ordered by error descending.
type AnomalousFeatures []AnomalousFeature

// Value implements driver.Valuer for the JSONB column.
func (f AnomalousFeatures) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner for the JSONB column.
func (f *AnomalousFeatures) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	case nil:
		*f = nil
		return nil
	default:
		return fmt.Errorf("unsupported type %T for anomalous_features", src)
	}
}

// Anomaly is one anomalous row found by a detection pass. Re-running
// detection supersedes the previous pass; anomalies are never recomputed
// in place.
type Anomaly struct {
	ID                string            `db:"id" json:"id"`
	DatasetID         string            `db:"dataset_id" json:"dataset_id"`
	RowIndex          int               `db:"row_index" json:"row_index"`
	AnomalyScore      float64           `db:"anomaly_score" json:"anomaly_score"`
	AnomalousFeatures AnomalousFeatures `db:"anomalous_features" json:"anomalous_features"`
	Status            AnomalyStatus     `db:"status" json:"status"`
	DetectedAt        time.Time         `db:"detected_at" json:"detected_at"`
}
