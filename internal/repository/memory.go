package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/models"
)

// In-memory repository implementations with the same semantics as the
// Postgres ones. Used by tests and by single-process deployments that do not
// need durability.

// MemoryDatasetRepository is an in-memory DatasetRepository.
type MemoryDatasetRepository struct {
	mu       sync.Mutex
	datasets map[string]*models.Dataset
}

// NewMemoryDatasetRepository creates an empty in-memory dataset repository.
func NewMemoryDatasetRepository() *MemoryDatasetRepository {
	return &MemoryDatasetRepository{datasets: make(map[string]*models.Dataset)}
}

func (r *MemoryDatasetRepository) Create(ds *models.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	ds.UploadedAt = now
	ds.UpdatedAt = now
	cp := *ds
	r.datasets[ds.ID] = &cp
	return nil
}

func (r *MemoryDatasetRepository) GetByID(id string) (*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s", apperr.ErrNotFound, id)
	}
	cp := *ds
	return &cp, nil
}

func (r *MemoryDatasetRepository) List() ([]*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Dataset, 0, len(r.datasets))
	for _, ds := range r.datasets {
		cp := *ds
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (r *MemoryDatasetRepository) TransitionStatus(id string, from []models.DatasetStatus, to models.DatasetStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasets[id]
	if !ok {
		return fmt.Errorf("%w: dataset %s", apperr.ErrNotFound, id)
	}
	for _, s := range from {
		if ds.Status == s {
			ds.Status = to
			ds.ErrorMessage = nil
			ds.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: dataset %s is %s, expected one of %v",
		apperr.ErrInvalidState, id, ds.Status, from)
}

func (r *MemoryDatasetRepository) SetError(id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasets[id]
	if !ok || ds.Status == models.StatusCompleted {
		return nil
	}
	ds.Status = models.StatusError
	msg := message
	ds.ErrorMessage = &msg
	ds.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryDatasetRepository) SetAnomalyCount(id string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds, ok := r.datasets[id]; ok {
		ds.AnomalyCount = count
		ds.UpdatedAt = time.Now()
	}
	return nil
}

// MemoryAnomalyRepository is an in-memory AnomalyRepository.
type MemoryAnomalyRepository struct {
	mu        sync.Mutex
	anomalies map[string]*models.Anomaly
	// explanations points at the paired explanation repository so a replace
	// pass can supersede stale explanations like the SQL transaction does.
	explanations *MemoryExplanationRepository
}

// NewMemoryAnomalyRepository creates an in-memory anomaly repository. The
// explanation repository may be nil when explanations are not under test.
func NewMemoryAnomalyRepository(explanations *MemoryExplanationRepository) *MemoryAnomalyRepository {
	return &MemoryAnomalyRepository{
		anomalies:    make(map[string]*models.Anomaly),
		explanations: explanations,
	}
}

func (r *MemoryAnomalyRepository) ReplaceForDataset(datasetID string, anomalies []*models.Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.explanations != nil {
		r.explanations.deleteByDataset(datasetID)
	}
	for id, a := range r.anomalies {
		if a.DatasetID == datasetID {
			delete(r.anomalies, id)
		}
	}
	for _, a := range anomalies {
		cp := *a
		r.anomalies[a.ID] = &cp
	}
	return nil
}

func (r *MemoryAnomalyRepository) ListByDataset(datasetID string) ([]*models.Anomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Anomaly
	for _, a := range r.anomalies {
		if a.DatasetID == datasetID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnomalyScore != out[j].AnomalyScore {
			return out[i].AnomalyScore > out[j].AnomalyScore
		}
		return out[i].RowIndex < out[j].RowIndex
	})
	return out, nil
}

func (r *MemoryAnomalyRepository) GetByID(id string) (*models.Anomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.anomalies[id]
	if !ok {
		return nil, fmt.Errorf("%w: anomaly %s", apperr.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryAnomalyRepository) UpdateStatus(id string, status models.AnomalyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.anomalies[id]
	if !ok {
		return fmt.Errorf("%w: anomaly %s", apperr.ErrNotFound, id)
	}
	a.Status = status
	return nil
}

func (r *MemoryAnomalyRepository) CountByDataset(datasetID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.anomalies {
		if a.DatasetID == datasetID {
			count++
		}
	}
	return count, nil
}

// MemorySessionRepository is an in-memory SessionRepository. BeginProcessing
// performs the whole check-and-claim under one lock, mirroring the atomic
// conditional insert of the Postgres implementation.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.AnalysisSession
}

// NewMemorySessionRepository creates an empty in-memory session repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*models.AnalysisSession)}
}

func (r *MemorySessionRepository) BeginProcessing(datasetID string, staleAfter time.Duration) (*models.AnalysisSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	for _, s := range r.sessions {
		if s.DatasetID != datasetID || s.Status != models.SessionProcessing {
			continue
		}
		if s.CreatedAt.Before(cutoff) {
			now := time.Now()
			msg := "session abandoned past staleness window"
			s.Status = models.SessionError
			s.CompletedAt = &now
			s.ErrorMessage = &msg
			continue
		}
		cp := *s
		return &cp, true, nil
	}

	session := &models.AnalysisSession{
		ID:        uuid.New().String(),
		DatasetID: datasetID,
		Status:    models.SessionProcessing,
		CreatedAt: time.Now(),
	}
	r.sessions[session.ID] = session
	cp := *session
	return &cp, false, nil
}

func (r *MemorySessionRepository) Complete(sessionID string, status models.SessionStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != models.SessionProcessing {
		return fmt.Errorf("%w: processing session %s", apperr.ErrNotFound, sessionID)
	}
	now := time.Now()
	s.Status = status
	s.CompletedAt = &now
	if message != "" {
		msg := message
		s.ErrorMessage = &msg
	}
	return nil
}

func (r *MemorySessionRepository) GetByID(sessionID string) (*models.AnalysisSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, sessionID)
	}
	cp := *s
	return &cp, nil
}

// MemoryExplanationRepository is an in-memory ExplanationRepository.
type MemoryExplanationRepository struct {
	mu           sync.Mutex
	byAnomaly    map[string]*models.Explanation
	creationSeq  int
	creationByID map[string]int
}

// NewMemoryExplanationRepository creates an empty in-memory explanation repository.
func NewMemoryExplanationRepository() *MemoryExplanationRepository {
	return &MemoryExplanationRepository{
		byAnomaly:    make(map[string]*models.Explanation),
		creationByID: make(map[string]int),
	}
}

func (r *MemoryExplanationRepository) Create(e *models.Explanation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAnomaly[e.AnomalyID]; exists {
		return false, nil
	}
	cp := *e
	cp.CreatedAt = time.Now()
	r.byAnomaly[e.AnomalyID] = &cp
	r.creationSeq++
	r.creationByID[e.AnomalyID] = r.creationSeq
	return true, nil
}

func (r *MemoryExplanationRepository) ListByDataset(datasetID string) ([]*models.Explanation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Explanation
	for _, e := range r.byAnomaly {
		if e.DatasetID == datasetID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.creationByID[out[i].AnomalyID] < r.creationByID[out[j].AnomalyID]
	})
	return out, nil
}

func (r *MemoryExplanationRepository) ExplainedAnomalyIDs(datasetID string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[string]bool)
	for _, e := range r.byAnomaly {
		if e.DatasetID == datasetID {
			ids[e.AnomalyID] = true
		}
	}
	return ids, nil
}

func (r *MemoryExplanationRepository) deleteByDataset(datasetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for anomalyID, e := range r.byAnomaly {
		if e.DatasetID == datasetID {
			delete(r.byAnomaly, anomalyID)
			delete(r.creationByID, anomalyID)
		}
	}
}
