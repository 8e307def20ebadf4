// Package jobstore holds in-flight analysis jobs.
package jobstore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/bloodcell/internal/domain"
)

// Store is the job-store abstraction injected into the orchestrator.
// Reads return snapshots; writers go through Update so that a job is mutated
// by one transition at a time.
type Store interface {
	Create(job *domain.AnalysisJob) error
	Get(id string) (domain.AnalysisJob, bool)
	Update(id string, fn func(job *domain.AnalysisJob) error) (domain.AnalysisJob, error)
	Delete(id string) bool
	Sweep(cutoff time.Time) int
	Len() int
}

type entry struct {
	mu  sync.RWMutex
	job *domain.AnalysisJob
}

// MemoryStore is a Store backed by a sync.Map with one lock per job,
// so work on different jobs never contends.
type MemoryStore struct {
	jobs  sync.Map // map[string]*entry
	count atomic.Int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Create inserts a new job.
// Parameters:
//   - job: job to insert; the store keeps its own copy.
//
// Returns:
//   - error: non-nil if a job with the same id exists.
func (s *MemoryStore) Create(job *domain.AnalysisJob) error {
	cp := job.Snapshot()
	if _, loaded := s.jobs.LoadOrStore(job.ID, &entry{job: &cp}); loaded {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.count.Add(1)
	return nil
}

// Get returns a snapshot of the job.
func (s *MemoryStore) Get(id string) (domain.AnalysisJob, bool) {
	e, ok := s.load(id)
	if !ok {
		return domain.AnalysisJob{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Snapshot(), true
}

// Update applies fn to a working copy of the job and commits it only if fn succeeds.
// Parameters:
//   - id: job id.
//   - fn: mutation; returning an error discards every change it made.
//
// Returns:
//   - domain.AnalysisJob: snapshot after the update (or the unchanged job on error).
//   - error: domain.ErrNotFound for unknown ids, otherwise fn's error.
func (s *MemoryStore) Update(id string, fn func(job *domain.AnalysisJob) error) (domain.AnalysisJob, error) {
	e, ok := s.load(id)
	if !ok {
		return domain.AnalysisJob{}, domain.NotFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.job.Snapshot()
	if err := fn(&work); err != nil {
		return e.job.Snapshot(), err
	}
	e.job = &work
	return work.Snapshot(), nil
}

// Delete removes the job. It reports whether the job existed.
func (s *MemoryStore) Delete(id string) bool {
	if _, loaded := s.jobs.LoadAndDelete(id); loaded {
		s.count.Add(-1)
		return true
	}
	return false
}

// Sweep evicts terminal jobs last updated before cutoff and returns how many were removed.
// Jobs still in flight are never evicted.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	removed := 0
	s.jobs.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.RLock()
		expired := e.job.Stage.IsTerminal() && e.job.UpdatedAt.Before(cutoff)
		e.mu.RUnlock()
		if expired && s.jobs.CompareAndDelete(key, value) {
			s.count.Add(-1)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	return int(s.count.Load())
}

func (s *MemoryStore) load(id string) (*entry, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
