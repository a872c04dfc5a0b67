// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// JobStore keeps scrape jobs in a map and applies the same transition rules
// as the Postgres store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scrape.Job)}
}

// CreateJob stores a new PENDING job.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	job.Status = scrape.JobStatusPending
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job
	return nil
}

// Put stores job as-is, for seeding tests.
func (s *JobStore) Put(job scrape.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	return job, nil
}

// MarkProcessing claims a PENDING job.
func (s *JobStore) MarkProcessing(_ context.Context, jobID string, startedAt time.Time) error {
	return s.transition(jobID, []scrape.JobStatus{scrape.JobStatusPending}, func(job *scrape.Job) {
		job.Status = scrape.JobStatusProcessing
		job.StartedAt = pointerTime(startedAt)
		job.UpdatedAt = startedAt
	})
}

// SetTotalRecords stores the advertised total.
func (s *JobStore) SetTotalRecords(_ context.Context, jobID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	job.TotalRecords = &total
	s.jobs[jobID] = job
	return nil
}

// CompleteJob moves a PROCESSING job to COMPLETED.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, completedAt time.Time, note string) error {
	return s.transition(jobID, []scrape.JobStatus{scrape.JobStatusProcessing}, func(job *scrape.Job) {
		job.Status = scrape.JobStatusCompleted
		job.CompletedAt = pointerTime(completedAt)
		job.UpdatedAt = completedAt
		job.Error = note
	})
}

// FailJob moves a non-terminal job to FAILED.
func (s *JobStore) FailJob(_ context.Context, jobID string, completedAt time.Time, reason string) error {
	allowed := []scrape.JobStatus{scrape.JobStatusPending, scrape.JobStatusProcessing}
	return s.transition(jobID, allowed, func(job *scrape.Job) {
		job.Status = scrape.JobStatusFailed
		job.CompletedAt = pointerTime(completedAt)
		job.UpdatedAt = completedAt
		job.Error = reason
	})
}

// FailStuckJobs fails PROCESSING jobs started before startedBefore.
func (s *JobStore) FailStuckJobs(_ context.Context, startedBefore, now time.Time, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, job := range s.jobs {
		if job.Status != scrape.JobStatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(startedBefore) {
			continue
		}
		job.Status = scrape.JobStatusFailed
		job.Error = reason
		job.CompletedAt = pointerTime(now)
		job.UpdatedAt = now
		s.jobs[id] = job
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *JobStore) transition(jobID string, from []scrape.JobStatus, apply func(*scrape.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	for _, st := range from {
		if job.Status == st {
			apply(&job)
			s.jobs[jobID] = job
			return nil
		}
	}
	return fmt.Errorf("job %s is %s: %w", jobID, job.Status, scrape.ErrJobStateConflict)
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
