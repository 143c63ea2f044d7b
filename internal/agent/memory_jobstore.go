package agent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryJobStore is a JobRecorder/JobUpdater backed by a map. It pairs
// with MemoryQueue in development when no DynamoDB table is configured.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

var _ JobRecorder = (*MemoryJobStore)(nil)
var _ JobUpdater = (*MemoryJobStore)(nil)

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*JobRecord)}
}

// PutPending inserts a new pending job record.
func (s *MemoryJobStore) PutPending(_ context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("agent: job cannot be nil")
	}
	if job.JobID == "" {
		return errors.New("agent: jobID required")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return errors.New("agent: job already exists")
	}
	stored := *job
	s.jobs[job.JobID] = &stored
	return nil
}

// MarkCompleted updates a job with the final reply.
func (s *MemoryJobStore) MarkCompleted(_ context.Context, jobID string, reply *ChatReply) error {
	if jobID == "" {
		return errors.New("agent: jobID required")
	}
	if reply == nil {
		reply = &ChatReply{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = JobStatusCompleted
	job.Reply = reply
	job.SessionID = reply.SessionID
	job.ErrorMessage = ""
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

// MarkFailed updates a job to the failed state.
func (s *MemoryJobStore) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	if jobID == "" {
		return errors.New("agent: jobID required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = JobStatusFailed
	job.Reply = nil
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

// GetJob fetches a job by ID.
func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("agent: jobID required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}
