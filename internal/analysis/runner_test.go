package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/autoencoder"
	"anomaly-backend/internal/feature"
	"anomaly-backend/internal/models"
	"anomaly-backend/internal/objectstore"
	"anomaly-backend/internal/progress"
	"anomaly-backend/internal/repository"
)

type runnerFixture struct {
	datasets  *repository.MemoryDatasetRepository
	anomalies *repository.MemoryAnomalyRepository
	store     *objectstore.LocalStore
	reporter  *progress.Reporter
	runner    *Runner
}

// testScorer wraps a network that reconstructs everything as zero, so a row's
// score is the mean of its squared encoded values.
func testScorer(t *testing.T, threshold float64) *autoencoder.Scorer {
	t.Helper()
	bundle := &autoencoder.Bundle{
		ModelName: "test",
		Threshold: threshold,
		Codec: feature.Codec{Features: []feature.Feature{
			{Name: "amount", Kind: feature.KindNumeric, Mean: 0, Std: 1},
		}},
		Encoder: []autoencoder.Layer{{
			Weights:    [][]float64{{0}},
			Biases:     []float64{0},
			Activation: autoencoder.ActivationLinear,
		}},
		Decoder: []autoencoder.Layer{{
			Weights:    [][]float64{{0}},
			Biases:     []float64{0},
			Activation: autoencoder.ActivationLinear,
		}},
	}
	require.NoError(t, bundle.Validate())
	return autoencoder.NewScorer(bundle, zap.NewNop())
}

func newRunnerFixture(t *testing.T, scorer *autoencoder.Scorer) *runnerFixture {
	t.Helper()
	store, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	datasets := repository.NewMemoryDatasetRepository()
	explanations := repository.NewMemoryExplanationRepository()
	anomalies := repository.NewMemoryAnomalyRepository(explanations)
	sessions := NewSessionManager(repository.NewMemorySessionRepository(), time.Hour, zap.NewNop())
	reporter := progress.NewReporter(time.Hour)

	return &runnerFixture{
		datasets:  datasets,
		anomalies: anomalies,
		store:     store,
		reporter:  reporter,
		runner:    NewRunner(datasets, anomalies, sessions, store, scorer, reporter, zap.NewNop()),
	}
}

func (f *runnerFixture) upload(t *testing.T, id string, csv string) {
	t.Helper()
	location, err := f.store.Put(id+".csv", []byte(csv))
	require.NoError(t, err)
	require.NoError(t, f.datasets.Create(&models.Dataset{
		ID:               id,
		OriginalFilename: id + ".csv",
		StorageLocation:  location,
		Status:           models.StatusUploaded,
	}))
}

// walkTo drives the dataset forward through the status machine, one legal
// transition at a time, until it reaches target.
func (f *runnerFixture) walkTo(t *testing.T, id string, target models.DatasetStatus) {
	t.Helper()
	path := []models.DatasetStatus{
		models.StatusUploaded, models.StatusParsing, models.StatusParsed,
		models.StatusAnalyzing, models.StatusAnalyzed, models.StatusTriaging,
		models.StatusCompleted,
	}
	if target == models.StatusUploaded {
		return
	}
	for i := 1; i < len(path); i++ {
		require.NoError(t, f.datasets.TransitionStatus(id,
			[]models.DatasetStatus{path[i-1]}, path[i]))
		if path[i] == target {
			return
		}
	}
	t.Fatalf("no forward path to %s", target)
}

func (f *runnerFixture) waitForStatus(t *testing.T, id string, want models.DatasetStatus) *models.Dataset {
	t.Helper()
	var ds *models.Dataset
	require.Eventually(t, func() bool {
		var err error
		ds, err = f.datasets.GetByID(id)
		return err == nil && ds.Status == want
	}, 2*time.Second, 5*time.Millisecond, "dataset %s never reached %s", id, want)
	return ds
}

func TestRunnerFullPass(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	f.upload(t, "d1", "amount\n1\n3\n2\n1\n")

	result, err := f.runner.Start("d1")
	require.NoError(t, err)
	assert.False(t, result.Reused)
	assert.Equal(t, result.Session.ID, result.ProgressID)

	ds := f.waitForStatus(t, "d1", models.StatusAnalyzed)
	assert.Equal(t, 2, ds.AnomalyCount)

	anomalies, err := f.anomalies.ListByDataset("d1")
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	// Row 1 (value 3, score 9) outranks row 2 (value 2, score 4).
	assert.Equal(t, 1, anomalies[0].RowIndex)
	assert.InDelta(t, 9.0, anomalies[0].AnomalyScore, 1e-9)
	assert.Equal(t, 2, anomalies[1].RowIndex)
	require.NotEmpty(t, anomalies[0].AnomalousFeatures)
	assert.Equal(t, "amount", anomalies[0].AnomalousFeatures[0].FeatureName)
	assert.Equal(t, "3", anomalies[0].AnomalousFeatures[0].ActualValue)

	rec, ok := f.reporter.Get(result.ProgressID)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
}

func TestRunnerRerunSupersedesPriorAnomalies(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	f.upload(t, "d1", "amount\n3\n")

	_, err := f.runner.Start("d1")
	require.NoError(t, err)
	f.waitForStatus(t, "d1", models.StatusAnalyzed)

	first, err := f.anomalies.ListByDataset("d1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Move back through error so the run is restartable, then re-run.
	require.NoError(t, f.datasets.SetError("d1", "operator reset"))
	_, err = f.runner.Start("d1")
	require.NoError(t, err)
	f.waitForStatus(t, "d1", models.StatusAnalyzed)

	second, err := f.anomalies.ListByDataset("d1")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID, "re-run must write fresh anomaly records")
}

func TestRunnerReusesInFlightSession(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	f.upload(t, "d1", "amount\n1\n")

	// Claim the session up front to simulate a run already in flight.
	sessions := repository.NewMemorySessionRepository()
	claimed, _, err := sessions.BeginProcessing("d1", time.Hour)
	require.NoError(t, err)

	manager := NewSessionManager(sessions, time.Hour, zap.NewNop())
	runner := NewRunner(f.datasets, f.anomalies, manager, f.store, testScorer(t, 4.0), f.reporter, zap.NewNop())

	result, err := runner.Start("d1")
	require.NoError(t, err)
	assert.True(t, result.Reused)
	assert.Equal(t, claimed.ID, result.Session.ID)

	// The dataset was not touched: no second pass started.
	ds, err := f.datasets.GetByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, ds.Status)
}

func TestRunnerWithoutModelFailsFast(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.upload(t, "d1", "amount\n1\n")

	_, err := f.runner.Start("d1")
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)

	ds, err := f.datasets.GetByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, ds.Status, "a missing model must not consume the dataset")
}

func TestRunnerRejectsNonRestartableStatus(t *testing.T) {
	for _, status := range []models.DatasetStatus{
		models.StatusAnalyzed,
		models.StatusTriaging,
		models.StatusCompleted,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newRunnerFixture(t, testScorer(t, 4.0))
			f.upload(t, "d1", "amount\n1\n")
			f.walkTo(t, "d1", status)

			_, err := f.runner.Start("d1")
			assert.ErrorIs(t, err, apperr.ErrInvalidState)

			ds, err := f.datasets.GetByID("d1")
			require.NoError(t, err)
			assert.Equal(t, status, ds.Status)
		})
	}
}

func TestRunnerRecoversFromCrashedWorker(t *testing.T) {
	// A worker claims the session, walks the dataset mid-stage and dies
	// without completing either. Once the session goes stale, a restart must
	// reclaim it and drive the dataset to analyzed instead of wedging it.
	for _, stuck := range []models.DatasetStatus{
		models.StatusParsing,
		models.StatusParsed,
		models.StatusAnalyzing,
	} {
		t.Run(string(stuck), func(t *testing.T) {
			f := newRunnerFixture(t, testScorer(t, 4.0))
			f.upload(t, "d1", "amount\n3\n")

			sessions := repository.NewMemorySessionRepository()
			dead, _, err := sessions.BeginProcessing("d1", time.Hour)
			require.NoError(t, err)
			f.walkTo(t, "d1", stuck)

			// The staleness window has already elapsed.
			manager := NewSessionManager(sessions, -time.Second, zap.NewNop())
			runner := NewRunner(f.datasets, f.anomalies, manager, f.store,
				testScorer(t, 4.0), f.reporter, zap.NewNop())

			result, err := runner.Start("d1")
			require.NoError(t, err)
			assert.False(t, result.Reused)
			assert.NotEqual(t, dead.ID, result.Session.ID, "stale session must not be reused")

			ds := f.waitForStatus(t, "d1", models.StatusAnalyzed)
			assert.Equal(t, 1, ds.AnomalyCount)
			assert.Nil(t, ds.ErrorMessage)

			old, err := sessions.GetByID(dead.ID)
			require.NoError(t, err)
			assert.Equal(t, models.SessionError, old.Status)
		})
	}
}

func TestRunnerMidStageDatasetWithLiveSessionIsReused(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	f.upload(t, "d1", "amount\n1\n")
	f.walkTo(t, "d1", models.StatusParsing)

	sessions := repository.NewMemorySessionRepository()
	live, _, err := sessions.BeginProcessing("d1", time.Hour)
	require.NoError(t, err)

	manager := NewSessionManager(sessions, time.Hour, zap.NewNop())
	runner := NewRunner(f.datasets, f.anomalies, manager, f.store,
		testScorer(t, 4.0), f.reporter, zap.NewNop())

	result, err := runner.Start("d1")
	require.NoError(t, err)
	assert.True(t, result.Reused)
	assert.Equal(t, live.ID, result.Session.ID)

	// The live run keeps the dataset; no recovery kicked in.
	ds, err := f.datasets.GetByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsing, ds.Status)
}

func TestRunnerUnknownDataset(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	_, err := f.runner.Start("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunnerSchemaMismatchMovesDatasetToError(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	f.upload(t, "d1", "wrong_column\n1\n")

	result, err := f.runner.Start("d1")
	require.NoError(t, err)

	ds := f.waitForStatus(t, "d1", models.StatusError)
	require.NotNil(t, ds.ErrorMessage)
	assert.Contains(t, *ds.ErrorMessage, "scoring failed")

	rec, ok := f.reporter.Get(result.ProgressID)
	require.True(t, ok)
	assert.Equal(t, progress.StatusError, rec.Status)
}

func TestRunnerUnparsableFileMovesDatasetToError(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	f.upload(t, "d1", "amount\n")

	_, err := f.runner.Start("d1")
	require.NoError(t, err)

	ds := f.waitForStatus(t, "d1", models.StatusError)
	require.NotNil(t, ds.ErrorMessage)
	assert.Contains(t, *ds.ErrorMessage, "failed to parse dataset")
}

func TestRunnerErrorStateIsRestartable(t *testing.T) {
	f := newRunnerFixture(t, testScorer(t, 4.0))
	f.upload(t, "d1", "amount\n3\n")
	require.NoError(t, f.datasets.SetError("d1", "previous failure"))

	_, err := f.runner.Start("d1")
	require.NoError(t, err)

	ds := f.waitForStatus(t, "d1", models.StatusAnalyzed)
	assert.Nil(t, ds.ErrorMessage, "restart must clear the stored error")
	assert.Equal(t, 1, ds.AnomalyCount)
}
