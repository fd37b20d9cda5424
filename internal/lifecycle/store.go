package lifecycle

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// JobStore persists jobs. UpdateStatus is a compare-and-set on the stored
// status and returns domain.ErrStatusConflict when it no longer matches from.
type JobStore interface {
	NextJobID(ctx context.Context) (int64, error)
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	ListStartedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Job, error)
	UpdateStatus(ctx context.Context, job *domain.Job, from domain.JobStatus) error
}

// MemoryStore is an in-process JobStore.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[int64]*domain.Job
	nextID atomic.Int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int64]*domain.Job)}
}

// NextJobID returns 1, 2, 3, ...
func (s *MemoryStore) NextJobID(_ context.Context) (int64, error) {
	return s.nextID.Add(1), nil
}

// Create stores a copy of job.
func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %d already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the stored job.
func (s *MemoryStore) Get(_ context.Context, id int64) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// List returns copies of matching jobs ordered by id.
func (s *MemoryStore) List(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	s.mu.RLock()
	matched := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Matches(job.Status) {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, byID)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.Job{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// ListStartedBefore returns STARTED jobs whose start time is before cutoff.
func (s *MemoryStore) ListStartedBefore(_ context.Context, cutoff time.Time) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.StatusStarted && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			stale = append(stale, job.Clone())
		}
	}
	slices.SortFunc(stale, byID)
	return stale, nil
}

// UpdateStatus replaces the stored job with a copy of job if the stored
// status is still from.
func (s *MemoryStore) UpdateStatus(_ context.Context, job *domain.Job, from domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrJobNotFound, job.ID)
	}
	if current.Status != from {
		return fmt.Errorf("%w: job %d is %s, not %s", domain.ErrStatusConflict, job.ID, current.Status, from)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func byID(a, b *domain.Job) int {
	return cmp.Compare(a.ID, b.ID)
}
