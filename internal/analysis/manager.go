// Package analysis runs the autoencoder stage: it guards each dataset with an
// analysis session and executes the parse/score/persist pass in the
// background.
package analysis

import (
	"time"

	"go.uber.org/zap"

	"anomaly-backend/internal/models"
	"anomaly-backend/internal/repository"
)

// SessionManager guarantees at most one in-flight autoencoder pass per
// dataset. The atomic claim itself lives in the session repository; the
// manager carries the staleness policy and logging.
type SessionManager struct {
	sessions   repository.SessionRepository
	staleAfter time.Duration
	logger     *zap.Logger
}

// NewSessionManager creates a session manager with the operator-configured
// staleness window.
func NewSessionManager(sessions repository.SessionRepository, staleAfter time.Duration, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions:   sessions,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Begin claims the dataset's processing session or returns the existing one
// with reused = true. Callers that double-submit get the same session and no
// second model run starts.
func (m *SessionManager) Begin(datasetID string) (*models.AnalysisSession, bool, error) {
	session, reused, err := m.sessions.BeginProcessing(datasetID, m.staleAfter)
	if err != nil {
		return nil, false, err
	}
	if reused {
		m.logger.Info("Reusing in-flight analysis session",
			zap.String("dataset_id", datasetID),
			zap.String("session_id", session.ID))
	}
	return session, reused, nil
}

// Complete transitions the session to completed or error. Must be called
// exactly once per Begin that was not a reuse.
func (m *SessionManager) Complete(sessionID string, outcome models.SessionStatus, message string) {
	if err := m.sessions.Complete(sessionID, outcome, message); err != nil {
		m.logger.Error("Failed to complete analysis session",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
