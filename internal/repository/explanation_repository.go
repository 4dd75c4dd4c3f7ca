package repository

import (
	"github.com/jmoiron/sqlx"

	"anomaly-backend/internal/models"
)

// ExplanationRepository handles LLM explanation records. Inserts are
// idempotent per anomaly: the anomaly_id column is unique and conflicting
// inserts are dropped, which is what makes triage retries safe.
type ExplanationRepository interface {
	// Create inserts the explanation unless one already exists for the
	// anomaly. Reports whether a row was actually created.
	Create(e *models.Explanation) (created bool, err error)
	ListByDataset(datasetID string) ([]*models.Explanation, error)
	ExplainedAnomalyIDs(datasetID string) (map[string]bool, error)
}

type explanationRepository struct {
	db *sqlx.DB
}

// NewExplanationRepository creates a new explanation repository.
func NewExplanationRepository(db *sqlx.DB) ExplanationRepository {
	return &explanationRepository{db: db}
}

func (r *explanationRepository) Create(e *models.Explanation) (bool, error) {
	res, err := r.db.Exec(`
		INSERT INTO explanations (id, anomaly_id, dataset_id, severity, category,
		                          recommendation, provider, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (anomaly_id) DO NOTHING
	`, e.ID, e.AnomalyID, e.DatasetID, e.Severity, e.Category,
		e.Recommendation, e.Provider, e.ModelVersion)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *explanationRepository) ListByDataset(datasetID string) ([]*models.Explanation, error) {
	rows, err := r.db.Query(`
		SELECT id, anomaly_id, dataset_id, severity, category, recommendation,
		       provider, model_version, created_at
		FROM explanations
		WHERE dataset_id = $1
		ORDER BY created_at ASC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var explanations []*models.Explanation
	for rows.Next() {
		e := &models.Explanation{}
		err := rows.Scan(&e.ID, &e.AnomalyID, &e.DatasetID, &e.Severity, &e.Category,
			&e.Recommendation, &e.Provider, &e.ModelVersion, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		explanations = append(explanations, e)
	}
	return explanations, rows.Err()
}

func (r *explanationRepository) ExplainedAnomalyIDs(datasetID string) (map[string]bool, error) {
	rows, err := r.db.Query(`SELECT anomaly_id FROM explanations WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
