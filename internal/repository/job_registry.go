package repository

import (
	"sync"

	"github.com/digitalrelab/star-export/internal/domain"
)

// JobRegistry is the in-memory registry of export jobs. Jobs are keyed
// by id; an insertion-order list preserves the order history queries
// see. Records survive only as long as the process.
type JobRegistry struct {
	mu    sync.RWMutex
	jobs  map[domain.JobID]*domain.Job
	order []domain.JobID
}

// NewJobRegistry creates an empty job registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		jobs: make(map[domain.JobID]*domain.Job),
	}
}

// Create registers a new job.
func (r *JobRegistry) Create(job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
}

// Get returns a snapshot of the job with the given id.
func (r *JobRegistry) Get(id domain.JobID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	snapshot := *job
	return &snapshot, nil
}

// Update applies a mutation to the stored job under the registry lock.
// All job state changes flow through here; last writer wins.
func (r *JobRegistry) Update(id domain.JobID, apply func(*domain.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}

	apply(job)
	return nil
}

// ListByUser returns snapshots of all jobs owned by the user, in
// insertion order.
func (r *JobRegistry) ListByUser(userID string) []*domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Job
	for _, id := range r.order {
		job, ok := r.jobs[id]
		if !ok || job.UserID != userID {
			continue
		}
		snapshot := *job
		result = append(result, &snapshot)
	}

	return result
}

// Len returns the number of registered jobs.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.jobs)
}
