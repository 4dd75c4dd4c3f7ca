// Package triage ranks detected anomalies, selects a bounded top-N and
// obtains a human-readable assessment for each from the external reasoning
// service, recording successes and failures individually.
package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/models"
	"anomaly-backend/internal/progress"
	"anomaly-backend/internal/reasoning"
	"anomaly-backend/internal/repository"
)

// Selection bounds. The reasoning service is expensive: the orchestrator
// never auto-expands the selection, and a caller who wants production-scale
// triage must raise the bound explicitly.
const (
	MinSelection = 1
	MaxSelection = 500
)

// ClampSelection bounds the requested selection size to [1, 500].
// Out-of-range input is clamped rather than rejected so careless callers
// cannot lock themselves out entirely.
func ClampSelection(n int) int {
	if n < MinSelection {
		return MinSelection
	}
	if n > MaxSelection {
		return MaxSelection
	}
	return n
}

// ItemError records a single anomaly's triage failure.
type ItemError struct {
	AnomalyID string `json:"anomaly_id"`
	Message   string `json:"message"`
}

// Summary is the result of one triage run.
type Summary struct {
	TotalAnomaliesDetected int         `json:"total_anomalies_detected"`
	AnomaliesAnalyzedByLLM int         `json:"anomalies_analyzed_by_llm"`
	ExplanationsCreated    int         `json:"explanations_created"`
	ExplanationsSkipped    int         `json:"explanations_skipped"`
	Errors                 []ItemError `json:"errors"`
	Note                   string      `json:"note,omitempty"`
}

// Orchestrator runs the triage stage.
type Orchestrator struct {
	datasets     repository.DatasetRepository
	anomalies    repository.AnomalyRepository
	explanations repository.ExplanationRepository
	reasoner     reasoning.Client
	progress     *progress.Reporter
	callTimeout  time.Duration
	staleAfter   time.Duration
	threshold    float64 // frozen model threshold, forwarded as evidence context
	logger       *zap.Logger
}

// NewOrchestrator wires the triage stage. staleAfter bounds how long a
// dataset may sit in triaging before the run is presumed abandoned;
// staleAfter <= 0 disables the reclaim.
func NewOrchestrator(
	datasets repository.DatasetRepository,
	anomalies repository.AnomalyRepository,
	explanations repository.ExplanationRepository,
	reasoner reasoning.Client,
	reporter *progress.Reporter,
	callTimeout time.Duration,
	staleAfter time.Duration,
	threshold float64,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		datasets:     datasets,
		anomalies:    anomalies,
		explanations: explanations,
		reasoner:     reasoner,
		progress:     reporter,
		callTimeout:  callTimeout,
		staleAfter:   staleAfter,
		threshold:    threshold,
		logger:       logger,
	}
}

// gate checks that a triage run may start. There is no session row guarding
// the triage stage; the analyzed -> triaging transition is the lock, so a
// worker that crashes mid-triage leaves the dataset stuck in triaging. A
// dataset sitting there past the staleness window is parked in error, which
// puts it back on a restartable path instead of wedging it forever.
func (o *Orchestrator) gate(ds *models.Dataset) error {
	if ds.Status == models.StatusAnalyzed {
		return nil
	}
	if ds.Status == models.StatusTriaging && o.staleAfter > 0 && time.Since(ds.UpdatedAt) >= o.staleAfter {
		msg := "triage run abandoned past staleness window"
		o.logger.Warn("Parking abandoned triage run in error",
			zap.String("dataset_id", ds.ID),
			zap.Duration("stale_after", o.staleAfter))
		if err := o.datasets.SetError(ds.ID, msg); err != nil {
			o.logger.Error("Failed to move dataset to error state", zap.Error(err))
		}
		return fmt.Errorf("%w: dataset %s %s, restart analysis to retry",
			apperr.ErrInvalidState, ds.ID, msg)
	}
	return fmt.Errorf("%w: dataset %s is %s, triage starts from %s",
		apperr.ErrInvalidState, ds.ID, ds.Status, models.StatusAnalyzed)
}

// Precheck runs the synchronous triage preconditions without starting a run:
// the dataset must exist, be analyzed and have at least one anomaly.
func (o *Orchestrator) Precheck(datasetID string) error {
	ds, err := o.datasets.GetByID(datasetID)
	if err != nil {
		return err
	}
	if err := o.gate(ds); err != nil {
		return err
	}
	count, err := o.anomalies.CountByDataset(datasetID)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: dataset %s", apperr.ErrNoAnomalies, datasetID)
	}
	return nil
}

// Run executes one triage pass. Preconditions (NotFound, InvalidState,
// NoAnomalies) surface as errors and leave the dataset untouched; once the
// dataset is triaging, per-anomaly failures are recorded in the summary and
// never abort the batch. The dataset reaches completed only after every
// selected anomaly has been attempted; if all of them failed it lands in
// error instead.
func (o *Orchestrator) Run(ctx context.Context, datasetID string, maxAnomalies int, progressID string) (*Summary, error) {
	ds, err := o.datasets.GetByID(datasetID)
	if err != nil {
		return nil, err
	}
	if err := o.gate(ds); err != nil {
		return nil, err
	}

	ranked, err := o.anomalies.ListByDataset(datasetID)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: dataset %s", apperr.ErrNoAnomalies, datasetID)
	}

	// The state machine is the lock: only one run can win this transition.
	err = o.datasets.TransitionStatus(datasetID,
		[]models.DatasetStatus{models.StatusAnalyzed}, models.StatusTriaging)
	if err != nil {
		return nil, err
	}

	limit := ClampSelection(maxAnomalies)
	if limit > len(ranked) {
		limit = len(ranked)
	}
	selected := ranked[:limit]

	explained, err := o.explanations.ExplainedAnomalyIDs(datasetID)
	if err != nil {
		o.failDataset(datasetID, progressID, fmt.Sprintf("failed to load prior explanations: %v", err))
		return nil, err
	}

	info := o.reasoner.ModelInfo()
	provider, _ := info["provider"].(string)
	modelVersion, _ := info["model"].(string)

	summary := &Summary{
		TotalAnomaliesDetected: len(ranked),
		Note: fmt.Sprintf("selected %d of %d total anomalies for triage",
			len(selected), len(ranked)),
	}

	// Sequential on purpose: the external call is rate- and cost-limited,
	// and explanations persist in rank order.
	for i, anomaly := range selected {
		o.progress.Report(progressID, progress.StatusRunning,
			10+80*i/len(selected),
			fmt.Sprintf("triaging anomaly %d of %d", i+1, len(selected)))

		if explained[anomaly.ID] {
			summary.ExplanationsSkipped++
			continue
		}

		summary.AnomaliesAnalyzedByLLM++
		assessment, err := o.analyzeOne(ctx, ds, anomaly)
		if err != nil {
			summary.Errors = append(summary.Errors, ItemError{
				AnomalyID: anomaly.ID,
				Message:   err.Error(),
			})
			o.logger.Warn("Reasoning call failed for anomaly",
				zap.String("anomaly_id", anomaly.ID),
				zap.Error(err))
			continue
		}

		created, err := o.explanations.Create(&models.Explanation{
			ID:             uuid.New().String(),
			AnomalyID:      anomaly.ID,
			DatasetID:      datasetID,
			Severity:       assessment.Severity,
			Category:       assessment.Category,
			Recommendation: assessment.Recommendation,
			Provider:       provider,
			ModelVersion:   modelVersion,
		})
		if err != nil {
			summary.Errors = append(summary.Errors, ItemError{
				AnomalyID: anomaly.ID,
				Message:   fmt.Sprintf("failed to persist explanation: %v", err),
			})
			continue
		}
		if created {
			summary.ExplanationsCreated++
		} else {
			summary.ExplanationsSkipped++
		}
	}

	if summary.AnomaliesAnalyzedByLLM > 0 && len(summary.Errors) == summary.AnomaliesAnalyzedByLLM {
		msg := consolidateErrors(summary.Errors)
		o.failDataset(datasetID, progressID, msg)
		return summary, nil
	}

	err = o.datasets.TransitionStatus(datasetID,
		[]models.DatasetStatus{models.StatusTriaging}, models.StatusCompleted)
	if err != nil {
		o.failDataset(datasetID, progressID, fmt.Sprintf("failed to complete triage: %v", err))
		return summary, err
	}

	o.progress.Report(progressID, progress.StatusCompleted, 100, summary.Note)
	o.logger.Info("Triage run finished",
		zap.String("dataset_id", datasetID),
		zap.Int("analyzed", summary.AnomaliesAnalyzedByLLM),
		zap.Int("created", summary.ExplanationsCreated),
		zap.Int("skipped", summary.ExplanationsSkipped),
		zap.Int("errors", len(summary.Errors)))

	return summary, nil
}

// analyzeOne performs a single bounded reasoning call.
func (o *Orchestrator) analyzeOne(ctx context.Context, ds *models.Dataset, anomaly *models.Anomaly) (*models.Assessment, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	features := make([]models.FeatureEvidence, len(anomaly.AnomalousFeatures))
	for i, f := range anomaly.AnomalousFeatures {
		features[i] = models.FeatureEvidence{
			Name:                f.FeatureName,
			ActualValue:         f.ActualValue,
			ReconstructionError: f.ReconstructionError,
		}
	}

	return o.reasoner.Analyze(callCtx, models.Evidence{
		DatasetName:  ds.OriginalFilename,
		RowIndex:     anomaly.RowIndex,
		AnomalyScore: anomaly.AnomalyScore,
		Threshold:    o.threshold,
		Features:     features,
	})
}

func (o *Orchestrator) failDataset(datasetID, progressID, message string) {
	if err := o.datasets.SetError(datasetID, message); err != nil {
		o.logger.Error("Failed to move dataset to error state", zap.Error(err))
	}
	o.progress.Fail(progressID, message)
}

func consolidateErrors(errs []ItemError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%s: %s", e.AnomalyID, e.Message)
	}
	return "all selected anomalies failed triage: " + strings.Join(parts, "; ")
}
