package models

import "time"

// SessionStatus is the lifecycle status of an analysis session.
type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionError      SessionStatus = "error"
)

// AnalysisSession guards against duplicate concurrent autoencoder runs for
// one dataset. At most one session per dataset may be processing at any
// time; the database enforces this with a partial unique index.
type AnalysisSession struct {
	ID           string        `db:"id" json:"id"`
	DatasetID    string        `db:"dataset_id" json:"dataset_id"`
	Status       SessionStatus `db:"status" json:"status"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
}
