// Package progress implements a pollable progress record for callers that
// cannot hold a long-lived connection. Single writer, multiple readers,
// eventual consistency between polls; records are ephemeral and evicted a
// while after reaching a terminal status.
package progress

import (
	"sync"
	"time"
)

// Status of a progress record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether consumers may stop polling.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Record is one pollable progress entry.
type Record struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reporter is an in-memory progress board.
type Reporter struct {
	mu        sync.RWMutex
	records   map[string]*Record
	retention time.Duration
}

// NewReporter creates a reporter that evicts terminal records after the
// retention period.
func NewReporter(retention time.Duration) *Reporter {
	return &Reporter{
		records:   make(map[string]*Record),
		retention: retention,
	}
}

// Report overwrites the record for id. Percentages are clamped to [0, 100].
func (r *Reporter) Report(id string, status Status, pct int, message string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = &Record{
		ID:        id,
		Status:    status,
		Progress:  pct,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	r.evictLocked()
}

// Fail marks the record terminal with an error message.
func (r *Reporter) Fail(id string, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = &Record{
		ID:        id,
		Status:    StatusError,
		Progress:  100,
		Error:     message,
		UpdatedAt: time.Now(),
	}
	r.evictLocked()
}

// Get returns a copy of the record, if present.
func (r *Reporter) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// evictLocked drops terminal records older than the retention period.
// Callers hold the write lock.
func (r *Reporter) evictLocked() {
	cutoff := time.Now().Add(-r.retention)
	for id, rec := range r.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(r.records, id)
		}
	}
}
