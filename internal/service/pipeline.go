// Package service is the pipeline facade: it exposes the operations the
// transport layer (and tests) consume and owns the read-side state gating.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"anomaly-backend/internal/analysis"
	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/models"
	"anomaly-backend/internal/objectstore"
	"anomaly-backend/internal/progress"
	"anomaly-backend/internal/repository"
	"anomaly-backend/internal/triage"
)

// Pipeline ties the pipeline stages together behind one surface.
type Pipeline struct {
	datasets     repository.DatasetRepository
	anomalies    repository.AnomalyRepository
	explanations repository.ExplanationRepository
	store        objectstore.Store
	runner       *analysis.Runner
	triage       *triage.Orchestrator
	progress     *progress.Reporter
	logger       *zap.Logger
}

// NewPipeline creates the pipeline facade.
func NewPipeline(
	datasets repository.DatasetRepository,
	anomalies repository.AnomalyRepository,
	explanations repository.ExplanationRepository,
	store objectstore.Store,
	runner *analysis.Runner,
	orchestrator *triage.Orchestrator,
	reporter *progress.Reporter,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		datasets:     datasets,
		anomalies:    anomalies,
		explanations: explanations,
		store:        store,
		runner:       runner,
		triage:       orchestrator,
		progress:     reporter,
		logger:       logger,
	}
}

// UploadDataset stores the raw file and registers the dataset as uploaded.
func (p *Pipeline) UploadDataset(filename, contentType string, data []byte) (*models.Dataset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("uploaded file is empty")
	}

	id := uuid.New().String()
	location, err := p.store.Put(id+"_"+filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	ds := &models.Dataset{
		ID:               id,
		OriginalFilename: filename,
		StorageLocation:  location,
		SizeBytes:        int64(len(data)),
		ContentType:      contentType,
		Status:           models.StatusUploaded,
	}
	if err := p.datasets.Create(ds); err != nil {
		return nil, fmt.Errorf("failed to register dataset: %w", err)
	}

	p.logger.Info("Dataset uploaded",
		zap.String("dataset_id", ds.ID),
		zap.String("filename", filename),
		zap.Int64("size_bytes", ds.SizeBytes))
	return ds, nil
}

// StartAutoencoder starts (or reuses) the autoencoder stage for the dataset.
func (p *Pipeline) StartAutoencoder(datasetID string) (*analysis.StartResult, error) {
	return p.runner.Start(datasetID)
}

// StartTriage validates the triage preconditions synchronously, then runs the
// stage in the background. Returns the progress id to poll.
func (p *Pipeline) StartTriage(datasetID string, maxAnomalies int) (string, error) {
	if err := p.triage.Precheck(datasetID); err != nil {
		return "", err
	}

	progressID := uuid.New().String()
	p.progress.Report(progressID, progress.StatusPending, 0, "triage queued")

	go func() {
		// Run re-checks the analyzed -> triaging transition atomically, so a
		// concurrent start that slipped past the check above loses there.
		summary, err := p.triage.Run(context.Background(), datasetID, maxAnomalies, progressID)
		if err != nil {
			p.logger.Error("Triage run failed",
				zap.String("dataset_id", datasetID),
				zap.Error(err))
			p.progress.Fail(progressID, err.Error())
			return
		}
		p.logger.Info("Triage summary",
			zap.String("dataset_id", datasetID),
			zap.Int("total_anomalies_detected", summary.TotalAnomaliesDetected),
			zap.Int("analyzed", summary.AnomaliesAnalyzedByLLM),
			zap.Int("created", summary.ExplanationsCreated))
	}()

	return progressID, nil
}

// RunTriage executes a triage pass synchronously and returns its summary.
func (p *Pipeline) RunTriage(ctx context.Context, datasetID string, maxAnomalies int) (*triage.Summary, error) {
	progressID := uuid.New().String()
	return p.triage.Run(ctx, datasetID, maxAnomalies, progressID)
}

// Status is the pollable dataset view.
type Status struct {
	Dataset  *models.Dataset  `json:"dataset"`
	Progress *progress.Record `json:"progress,omitempty"`
}

// GetStatus returns the dataset plus, when a progress id is supplied, the
// matching progress record.
func (p *Pipeline) GetStatus(datasetID, progressID string) (*Status, error) {
	ds, err := p.datasets.GetByID(datasetID)
	if err != nil {
		return nil, err
	}
	st := &Status{Dataset: ds}
	if progressID != "" {
		if rec, ok := p.progress.Get(progressID); ok {
			st.Progress = &rec
		}
	}
	return st, nil
}

// ListDatasets returns all datasets, newest first.
func (p *Pipeline) ListDatasets() ([]*models.Dataset, error) {
	return p.datasets.List()
}

// ListAnomalies returns the dataset's anomalies ranked by score. Requires the
// autoencoder stage to have finished (status at least analyzed).
func (p *Pipeline) ListAnomalies(datasetID string) ([]*models.Anomaly, error) {
	ds, err := p.datasets.GetByID(datasetID)
	if err != nil {
		return nil, err
	}
	if !models.AtLeastAnalyzed(ds.Status) {
		return nil, fmt.Errorf("%w: dataset %s is %s, anomalies are readable from %s",
			apperr.ErrInvalidState, ds.ID, ds.Status, models.StatusAnalyzed)
	}
	return p.anomalies.ListByDataset(datasetID)
}

// ListExplanations returns the dataset's triage explanations. Requires a
// completed dataset.
func (p *Pipeline) ListExplanations(datasetID string) ([]*models.Explanation, error) {
	ds, err := p.datasets.GetByID(datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: dataset %s is %s, explanations are readable once %s",
			apperr.ErrInvalidState, ds.ID, ds.Status, models.StatusCompleted)
	}
	return p.explanations.ListByDataset(datasetID)
}

// UpdateAnomalyStatus moves one anomaly through the triage workflow.
func (p *Pipeline) UpdateAnomalyStatus(anomalyID string, status models.AnomalyStatus) error {
	if !models.ValidAnomalyStatus(status) {
		return fmt.Errorf("unknown anomaly status %q", status)
	}
	return p.anomalies.UpdateStatus(anomalyID, status)
}

// GetProgress returns a progress record by id.
func (p *Pipeline) GetProgress(progressID string) (progress.Record, bool) {
	return p.progress.Get(progressID)
}
