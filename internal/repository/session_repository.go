package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/models"
)

// SessionRepository handles analysis-session records. The at-most-one
// processing session per dataset guarantee is enforced by a partial unique
// index, so BeginProcessing is correct across multiple worker processes, not
// just goroutines.
type SessionRepository interface {
	// BeginProcessing reclaims abandoned sessions older than staleAfter,
	// then either claims a new processing session or returns the existing
	// one with reused = true.
	BeginProcessing(datasetID string, staleAfter time.Duration) (session *models.AnalysisSession, reused bool, err error)
	// Complete transitions a processing session to completed or error.
	Complete(sessionID string, status models.SessionStatus, message string) error
	GetByID(sessionID string) (*models.AnalysisSession, error)
}

type sessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) BeginProcessing(datasetID string, staleAfter time.Duration) (*models.AnalysisSession, bool, error) {
	// Two passes: losing the insert race and then finding no processing row
	// means the concurrent owner finished in the gap, and the second pass
	// claims a fresh session.
	for attempt := 0; attempt < 2; attempt++ {
		// A crashed worker must not wedge the dataset forever: sessions stuck
		// in processing past the staleness window are reclaimed as errored.
		cutoff := time.Now().Add(-staleAfter)
		_, err := r.db.Exec(`
			UPDATE analysis_sessions
			SET status = 'error', completed_at = now(),
			    error_message = 'session abandoned past staleness window'
			WHERE dataset_id = $1 AND status = 'processing' AND created_at < $2
		`, datasetID, cutoff)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reclaim stale sessions: %w", err)
		}

		id := uuid.New().String()
		res, err := r.db.Exec(`
			INSERT INTO analysis_sessions (id, dataset_id, status)
			VALUES ($1, $2, 'processing')
			ON CONFLICT (dataset_id) WHERE status = 'processing' DO NOTHING
		`, id, datasetID)
		if err != nil {
			return nil, false, err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, false, err
		}
		if affected == 1 {
			session, err := r.GetByID(id)
			return session, false, err
		}

		// Lost the insert race or a processing session already exists: reuse it.
		session := &models.AnalysisSession{}
		err = r.db.Get(session, `
			SELECT id, dataset_id, status, created_at, completed_at, error_message
			FROM analysis_sessions
			WHERE dataset_id = $1 AND status = 'processing'
		`, datasetID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return session, true, nil
	}
	return nil, false, fmt.Errorf("could not claim an analysis session for dataset %s", datasetID)
}

func (r *sessionRepository) Complete(sessionID string, status models.SessionStatus, message string) error {
	var msg interface{}
	if message != "" {
		msg = message
	}
	res, err := r.db.Exec(`
		UPDATE analysis_sessions
		SET status = $1, completed_at = now(), error_message = $2
		WHERE id = $3 AND status = 'processing'
	`, status, msg, sessionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: processing session %s", apperr.ErrNotFound, sessionID)
	}
	return nil
}

func (r *sessionRepository) GetByID(sessionID string) (*models.AnalysisSession, error) {
	session := &models.AnalysisSession{}
	err := r.db.Get(session, `
		SELECT id, dataset_id, status, created_at, completed_at, error_message
		FROM analysis_sessions WHERE id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}
