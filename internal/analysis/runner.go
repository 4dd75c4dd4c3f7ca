package analysis

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/autoencoder"
	"anomaly-backend/internal/models"
	"anomaly-backend/internal/objectstore"
	"anomaly-backend/internal/progress"
	"anomaly-backend/internal/repository"
	"anomaly-backend/internal/tabular"
)

// Runner executes the autoencoder stage for one dataset: fetch the upload,
// parse it, score every row against the frozen model and persist the
// anomalies, walking the dataset status machine as it goes.
type Runner struct {
	datasets  repository.DatasetRepository
	anomalies repository.AnomalyRepository
	sessions  *SessionManager
	store     objectstore.Store
	scorer    *autoencoder.Scorer // nil when no bundle is loaded
	progress  *progress.Reporter
	logger    *zap.Logger
}

// NewRunner wires the autoencoder stage. scorer may be nil; every start
// attempt then fails fast with ModelUnavailable.
func NewRunner(
	datasets repository.DatasetRepository,
	anomalies repository.AnomalyRepository,
	sessions *SessionManager,
	store objectstore.Store,
	scorer *autoencoder.Scorer,
	reporter *progress.Reporter,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		datasets:  datasets,
		anomalies: anomalies,
		sessions:  sessions,
		store:     store,
		scorer:    scorer,
		progress:  reporter,
		logger:    logger,
	}
}

// StartResult is what a start-analysis call returns: the guarding session and
// the id to poll for progress. Reused means an identical run was already in
// flight and no new one was started.
type StartResult struct {
	Session    *models.AnalysisSession `json:"session"`
	Reused     bool                    `json:"reused"`
	ProgressID string                  `json:"progress_id"`
}

// Start validates preconditions, claims the dataset's analysis session and
// launches the scoring pass in the background. The session id doubles as the
// progress id.
func (r *Runner) Start(datasetID string) (*StartResult, error) {
	ds, err := r.datasets.GetByID(datasetID)
	if err != nil {
		return nil, err
	}

	// Frozen model or explicit failure: never train inside a request.
	if r.scorer == nil {
		return nil, apperr.ErrModelUnavailable
	}

	// Mid-stage statuses are admitted too: if the session guarding them is
	// still live the claim below returns it as reused, and if it went stale
	// the worker that owned it is dead and the dataset gets recovered.
	if !models.AnalysisRestartable(ds.Status) && !models.AnalysisInFlight(ds.Status) {
		return nil, fmt.Errorf("%w: dataset %s is %s, analysis starts from %s or %s",
			apperr.ErrInvalidState, ds.ID, ds.Status, models.StatusUploaded, models.StatusError)
	}

	session, reused, err := r.sessions.Begin(datasetID)
	if err != nil {
		return nil, err
	}
	if reused {
		return &StartResult{Session: session, Reused: true, ProgressID: session.ID}, nil
	}

	// Fresh claim. Re-read the dataset: the prior owner may have finished
	// between the first read and the claim.
	ds, err = r.datasets.GetByID(datasetID)
	if err != nil {
		r.sessions.Complete(session.ID, models.SessionError, err.Error())
		return nil, err
	}

	switch {
	case models.AnalysisInFlight(ds.Status):
		// We hold the only session, so nobody is driving this dataset: the
		// worker that moved it mid-stage crashed. Park it in error so the
		// restart below is a legal transition.
		r.logger.Warn("Recovering dataset from interrupted analysis",
			zap.String("dataset_id", ds.ID),
			zap.String("status", string(ds.Status)))
		msg := fmt.Sprintf("analysis interrupted while %s, restarting", ds.Status)
		if err := r.datasets.SetError(ds.ID, msg); err != nil {
			r.sessions.Complete(session.ID, models.SessionError, err.Error())
			return nil, err
		}
	case !models.AnalysisRestartable(ds.Status):
		r.sessions.Complete(session.ID, models.SessionError,
			fmt.Sprintf("dataset moved to %s before the run started", ds.Status))
		return nil, fmt.Errorf("%w: dataset %s is %s, analysis starts from %s or %s",
			apperr.ErrInvalidState, ds.ID, ds.Status, models.StatusUploaded, models.StatusError)
	}

	err = r.datasets.TransitionStatus(datasetID,
		[]models.DatasetStatus{models.StatusUploaded, models.StatusError}, models.StatusParsing)
	if err != nil {
		// Lost a race with another path mutating the dataset. Release the
		// session so the dataset is not wedged.
		r.sessions.Complete(session.ID, models.SessionError, err.Error())
		return nil, err
	}

	r.progress.Report(session.ID, progress.StatusRunning, 5, "parsing dataset")
	go r.run(ds, session.ID)

	return &StartResult{Session: session, Reused: false, ProgressID: session.ID}, nil
}

// run is the background body of the stage. The dataset only reaches analyzed
// after every anomaly row is durably written, so a crash mid-stage leaves it
// in a restartable state.
func (r *Runner) run(ds *models.Dataset, sessionID string) {
	started := time.Now()

	raw, err := r.store.Get(ds.StorageLocation)
	if err != nil {
		r.fail(ds.ID, sessionID, fmt.Sprintf("failed to read uploaded file: %v", err))
		return
	}

	table, err := tabular.Parse(raw)
	if err != nil {
		r.fail(ds.ID, sessionID, fmt.Sprintf("failed to parse dataset: %v", err))
		return
	}
	if err := r.advance(ds.ID, sessionID, models.StatusParsing, models.StatusParsed); err != nil {
		return
	}
	r.progress.Report(sessionID, progress.StatusRunning, 20,
		fmt.Sprintf("parsed %d rows, scoring", len(table.Rows)))

	if err := r.advance(ds.ID, sessionID, models.StatusParsed, models.StatusAnalyzing); err != nil {
		return
	}

	scores, err := r.scorer.Score(table.Header, table.Rows)
	if err != nil {
		r.fail(ds.ID, sessionID, fmt.Sprintf("scoring failed: %v", err))
		return
	}
	r.progress.Report(sessionID, progress.StatusRunning, 70, "persisting anomalies")

	detectedAt := time.Now()
	var anomalies []*models.Anomaly
	for _, s := range scores {
		if !s.IsAnomaly {
			continue
		}
		features := make(models.AnomalousFeatures, len(s.FeatureErrors))
		for i, fe := range s.FeatureErrors {
			features[i] = models.AnomalousFeature{
				FeatureName:         fe.FeatureName,
				ActualValue:         fe.ActualValue,
				ReconstructionError: fe.ReconstructionError,
			}
		}
		anomalies = append(anomalies, &models.Anomaly{
			ID:                uuid.New().String(),
			DatasetID:         ds.ID,
			RowIndex:          s.RowIndex,
			AnomalyScore:      s.Score,
			AnomalousFeatures: features,
			Status:            models.AnomalyDetected,
			DetectedAt:        detectedAt,
		})
	}

	// A new detection pass supersedes prior anomalies and their explanations.
	if err := r.anomalies.ReplaceForDataset(ds.ID, anomalies); err != nil {
		r.fail(ds.ID, sessionID, fmt.Sprintf("failed to persist anomalies: %v", err))
		return
	}
	if err := r.datasets.SetAnomalyCount(ds.ID, len(anomalies)); err != nil {
		r.fail(ds.ID, sessionID, fmt.Sprintf("failed to update anomaly count: %v", err))
		return
	}

	if err := r.advance(ds.ID, sessionID, models.StatusAnalyzing, models.StatusAnalyzed); err != nil {
		return
	}

	r.sessions.Complete(sessionID, models.SessionCompleted, "")
	r.progress.Report(sessionID, progress.StatusCompleted, 100,
		fmt.Sprintf("%d anomalies detected in %d rows", len(anomalies), len(table.Rows)))

	r.logger.Info("Autoencoder stage finished",
		zap.String("dataset_id", ds.ID),
		zap.Int("rows", len(table.Rows)),
		zap.Int("anomalies", len(anomalies)),
		zap.Duration("elapsed", time.Since(started)))
}

func (r *Runner) advance(datasetID, sessionID string, from, to models.DatasetStatus) error {
	err := r.datasets.TransitionStatus(datasetID, []models.DatasetStatus{from}, to)
	if err != nil {
		r.fail(datasetID, sessionID, fmt.Sprintf("status transition %s -> %s failed: %v", from, to, err))
	}
	return err
}

func (r *Runner) fail(datasetID, sessionID, message string) {
	r.logger.Error("Autoencoder stage failed",
		zap.String("dataset_id", datasetID),
		zap.String("session_id", sessionID),
		zap.String("reason", message))

	if err := r.datasets.SetError(datasetID, message); err != nil {
		r.logger.Error("Failed to move dataset to error state", zap.Error(err))
	}
	r.sessions.Complete(sessionID, models.SessionError, message)
	r.progress.Fail(sessionID, message)
}
