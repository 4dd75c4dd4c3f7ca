package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/models"
)

// DatasetRepository handles database operations for datasets. Status changes
// go through TransitionStatus so every mutation is an atomic conditional
// write that respects the state machine.
type DatasetRepository interface {
	Create(ds *models.Dataset) error
	GetByID(id string) (*models.Dataset, error)
	List() ([]*models.Dataset, error)
	// TransitionStatus moves the dataset to the target status only if its
	// current status is one of from. Returns apperr.ErrNotFound if the
	// dataset does not exist, apperr.ErrInvalidState if the status check
	// failed.
	TransitionStatus(id string, from []models.DatasetStatus, to models.DatasetStatus) error
	// SetError moves any non-terminal dataset to error with a message.
	SetError(id string, message string) error
	SetAnomalyCount(id string, count int) error
}

type datasetRepository struct {
	db *sqlx.DB
}

// NewDatasetRepository creates a new dataset repository.
func NewDatasetRepository(db *sqlx.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

func (r *datasetRepository) Create(ds *models.Dataset) error {
	query := `
		INSERT INTO datasets (
			id, original_filename, storage_location, size_bytes,
			content_type, status, anomaly_count
		) VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING uploaded_at, updated_at
	`
	return r.db.QueryRow(
		query,
		ds.ID,
		ds.OriginalFilename,
		ds.StorageLocation,
		ds.SizeBytes,
		ds.ContentType,
		ds.Status,
	).Scan(&ds.UploadedAt, &ds.UpdatedAt)
}

func (r *datasetRepository) GetByID(id string) (*models.Dataset, error) {
	ds := &models.Dataset{}
	err := r.db.Get(ds, `
		SELECT id, original_filename, storage_location, size_bytes, content_type,
		       status, anomaly_count, error_message, uploaded_at, updated_at
		FROM datasets WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (r *datasetRepository) List() ([]*models.Dataset, error) {
	var datasets []*models.Dataset
	err := r.db.Select(&datasets, `
		SELECT id, original_filename, storage_location, size_bytes, content_type,
		       status, anomaly_count, error_message, uploaded_at, updated_at
		FROM datasets ORDER BY uploaded_at DESC
	`)
	return datasets, err
}

func (r *datasetRepository) TransitionStatus(id string, from []models.DatasetStatus, to models.DatasetStatus) error {
	fromList := make([]string, len(from))
	for i, s := range from {
		fromList[i] = string(s)
	}

	// Only SetError writes an error message, so any transition clears it.
	res, err := r.db.Exec(`
		UPDATE datasets
		SET status = $1, error_message = NULL, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`, string(to), id, pq.Array(fromList))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		current, err := r.GetByID(id)
		if err != nil {
			return err // ErrNotFound
		}
		return fmt.Errorf("%w: dataset %s is %s, expected one of %v",
			apperr.ErrInvalidState, id, current.Status, fromList)
	}
	return nil
}

func (r *datasetRepository) SetError(id string, message string) error {
	_, err := r.db.Exec(`
		UPDATE datasets
		SET status = 'error', error_message = $1, updated_at = now()
		WHERE id = $2 AND status <> 'completed'
	`, message, id)
	return err
}

func (r *datasetRepository) SetAnomalyCount(id string, count int) error {
	_, err := r.db.Exec(`
		UPDATE datasets SET anomaly_count = $1, updated_at = now() WHERE id = $2
	`, count, id)
	return err
}
