package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/models"
)

// AnomalyRepository handles database operations for anomaly records.
type AnomalyRepository interface {
	// ReplaceForDataset atomically supersedes all anomalies (and their
	// explanations) from prior detection passes with the given set.
	ReplaceForDataset(datasetID string, anomalies []*models.Anomaly) error
	// ListByDataset returns anomalies ordered by score descending, ties
	// broken by row index ascending.
	ListByDataset(datasetID string) ([]*models.Anomaly, error)
	GetByID(id string) (*models.Anomaly, error)
	UpdateStatus(id string, status models.AnomalyStatus) error
	CountByDataset(datasetID string) (int, error)
}

type anomalyRepository struct {
	db *sqlx.DB
}

// NewAnomalyRepository creates a new anomaly repository.
func NewAnomalyRepository(db *sqlx.DB) AnomalyRepository {
	return &anomalyRepository{db: db}
}

func (r *anomalyRepository) ReplaceForDataset(datasetID string, anomalies []*models.Anomaly) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM explanations WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("failed to delete stale explanations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM anomalies WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("failed to delete stale anomalies: %w", err)
	}

	for _, a := range anomalies {
		_, err := tx.Exec(`
			INSERT INTO anomalies (id, dataset_id, row_index, anomaly_score, anomalous_features, status, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, a.ID, a.DatasetID, a.RowIndex, a.AnomalyScore, a.AnomalousFeatures, a.Status, a.DetectedAt)
		if err != nil {
			return fmt.Errorf("failed to insert anomaly for row %d: %w", a.RowIndex, err)
		}
	}

	return tx.Commit()
}

func (r *anomalyRepository) ListByDataset(datasetID string) ([]*models.Anomaly, error) {
	rows, err := r.db.Query(`
		SELECT id, dataset_id, row_index, anomaly_score, anomalous_features, status, detected_at
		FROM anomalies
		WHERE dataset_id = $1
		ORDER BY anomaly_score DESC, row_index ASC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []*models.Anomaly
	for rows.Next() {
		a := &models.Anomaly{}
		err := rows.Scan(&a.ID, &a.DatasetID, &a.RowIndex, &a.AnomalyScore,
			&a.AnomalousFeatures, &a.Status, &a.DetectedAt)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

func (r *anomalyRepository) GetByID(id string) (*models.Anomaly, error) {
	a := &models.Anomaly{}
	err := r.db.QueryRow(`
		SELECT id, dataset_id, row_index, anomaly_score, anomalous_features, status, detected_at
		FROM anomalies WHERE id = $1
	`, id).Scan(&a.ID, &a.DatasetID, &a.RowIndex, &a.AnomalyScore,
		&a.AnomalousFeatures, &a.Status, &a.DetectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: anomaly %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *anomalyRepository) UpdateStatus(id string, status models.AnomalyStatus) error {
	res, err := r.db.Exec(`UPDATE anomalies SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: anomaly %s", apperr.ErrNotFound, id)
	}
	return nil
}

func (r *anomalyRepository) CountByDataset(datasetID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM anomalies WHERE dataset_id = $1`, datasetID).Scan(&count)
	return count, err
}
