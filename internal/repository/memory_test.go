package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/models"
)

func TestMemoryDatasetTransitionStatus(t *testing.T) {
	repo := NewMemoryDatasetRepository()
	require.NoError(t, repo.Create(&models.Dataset{ID: "d1", Status: models.StatusUploaded}))

	err := repo.TransitionStatus("d1", []models.DatasetStatus{models.StatusUploaded}, models.StatusParsing)
	require.NoError(t, err)

	ds, err := repo.GetByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsing, ds.Status)

	// Same transition again: the guard no longer matches.
	err = repo.TransitionStatus("d1", []models.DatasetStatus{models.StatusUploaded}, models.StatusParsing)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	err = repo.TransitionStatus("missing", []models.DatasetStatus{models.StatusUploaded}, models.StatusParsing)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryDatasetLeavingErrorClearsMessage(t *testing.T) {
	repo := NewMemoryDatasetRepository()
	require.NoError(t, repo.Create(&models.Dataset{ID: "d1", Status: models.StatusParsing}))

	require.NoError(t, repo.SetError("d1", "parse failed"))
	ds, _ := repo.GetByID("d1")
	require.NotNil(t, ds.ErrorMessage)
	assert.Equal(t, "parse failed", *ds.ErrorMessage)

	require.NoError(t, repo.TransitionStatus("d1", []models.DatasetStatus{models.StatusError}, models.StatusParsing))
	ds, _ = repo.GetByID("d1")
	assert.Nil(t, ds.ErrorMessage)
}

func TestMemoryDatasetSetErrorNeverTouchesCompleted(t *testing.T) {
	repo := NewMemoryDatasetRepository()
	require.NoError(t, repo.Create(&models.Dataset{ID: "d1", Status: models.StatusCompleted}))

	require.NoError(t, repo.SetError("d1", "too late"))
	ds, _ := repo.GetByID("d1")
	assert.Equal(t, models.StatusCompleted, ds.Status)
}

func TestMemoryAnomalyReplaceSupersedesPriorPass(t *testing.T) {
	explanations := NewMemoryExplanationRepository()
	repo := NewMemoryAnomalyRepository(explanations)

	first := []*models.Anomaly{
		{ID: "a1", DatasetID: "d1", RowIndex: 0, AnomalyScore: 5},
		{ID: "a2", DatasetID: "d1", RowIndex: 1, AnomalyScore: 3},
	}
	require.NoError(t, repo.ReplaceForDataset("d1", first))

	created, err := explanations.Create(&models.Explanation{ID: "e1", AnomalyID: "a1", DatasetID: "d1", Severity: "high"})
	require.NoError(t, err)
	require.True(t, created)

	// Second pass replaces the anomalies and drops the stale explanation.
	second := []*models.Anomaly{{ID: "a3", DatasetID: "d1", RowIndex: 2, AnomalyScore: 9}}
	require.NoError(t, repo.ReplaceForDataset("d1", second))

	listed, err := repo.ListByDataset("d1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "a3", listed[0].ID)

	remaining, err := explanations.ListByDataset("d1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestMemoryAnomalyListRankedByScoreThenRowIndex(t *testing.T) {
	repo := NewMemoryAnomalyRepository(nil)
	require.NoError(t, repo.ReplaceForDataset("d1", []*models.Anomaly{
		{ID: "a1", DatasetID: "d1", RowIndex: 7, AnomalyScore: 3},
		{ID: "a2", DatasetID: "d1", RowIndex: 2, AnomalyScore: 9},
		{ID: "a3", DatasetID: "d1", RowIndex: 1, AnomalyScore: 3},
	}))

	listed, err := repo.ListByDataset("d1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "a2", listed[0].ID)
	// Equal scores tie-break on row index ascending.
	assert.Equal(t, "a3", listed[1].ID)
	assert.Equal(t, "a1", listed[2].ID)
}

func TestMemoryExplanationCreateIsIdempotentPerAnomaly(t *testing.T) {
	repo := NewMemoryExplanationRepository()

	created, err := repo.Create(&models.Explanation{ID: "e1", AnomalyID: "a1", DatasetID: "d1", Severity: "low"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(&models.Explanation{ID: "e2", AnomalyID: "a1", DatasetID: "d1", Severity: "high"})
	require.NoError(t, err)
	assert.False(t, created, "second explanation for the same anomaly must be a no-op")

	listed, _ := repo.ListByDataset("d1")
	require.Len(t, listed, 1)
	assert.Equal(t, "e1", listed[0].ID)

	ids, _ := repo.ExplainedAnomalyIDs("d1")
	assert.True(t, ids["a1"])
}

func TestMemorySessionBeginProcessing(t *testing.T) {
	repo := NewMemorySessionRepository()

	s1, reused, err := repo.BeginProcessing("d1", time.Hour)
	require.NoError(t, err)
	assert.False(t, reused)

	s2, reused, err := repo.BeginProcessing("d1", time.Hour)
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, s1.ID, s2.ID)

	// Completing releases the dataset for a new run.
	require.NoError(t, repo.Complete(s1.ID, models.SessionCompleted, ""))
	s3, reused, err := repo.BeginProcessing("d1", time.Hour)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, s1.ID, s3.ID)
}

func TestMemorySessionStaleReclaim(t *testing.T) {
	repo := NewMemorySessionRepository()

	s1, _, err := repo.BeginProcessing("d1", time.Hour)
	require.NoError(t, err)

	// Negative staleness window: the session is immediately reclaimable.
	s2, reused, err := repo.BeginProcessing("d1", -time.Second)
	require.NoError(t, err)
	assert.False(t, reused, "stale session must not be reused")
	assert.NotEqual(t, s1.ID, s2.ID)

	old, err := repo.GetByID(s1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, old.Status)
}

func TestMemorySessionCompleteRequiresProcessing(t *testing.T) {
	repo := NewMemorySessionRepository()
	s, _, err := repo.BeginProcessing("d1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.Complete(s.ID, models.SessionError, "boom"))
	err = repo.Complete(s.ID, models.SessionCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
