package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/hueshift/internal/domain"
)

type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status, errMessage string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.Error = errMessage
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	s.usage = append(s.usage, usage)
	return nil
}

// Usage returns the usage rows recorded for jobID in insertion order.
func (s *MemoryJobStore) Usage(jobID string) []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.UsageLog
	for _, u := range s.usage {
		if u.JobID == jobID {
			out = append(out, u)
		}
	}
	return out
}

func (s *MemoryJobStore) Close() error {
	return nil
}
