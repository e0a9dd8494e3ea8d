package analyses

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/duvallglobal/listapp-sub000/internal/credits"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]Job
	byOwner map[string][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]Job),
		byOwner: make(map[string][]string),
	}
}

// Create stores the job.
func (r *MemoryRepo) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[job.ID] = job
	r.byOwner[job.OwnerID] = append(r.byOwner[job.OwnerID], job.ID)
	return nil
}

// GetByID returns a job by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// MarkAnalyzing moves a pending job to analyzing.
func (r *MemoryRepo) MarkAnalyzing(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != StatusPending {
		return false, nil
	}
	job.Status = StatusAnalyzing
	if job.StartedAt == nil {
		job.StartedAt = &startedAt
	}
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return true, nil
}

// SetRawResponse stores the provider's raw payload.
func (r *MemoryRepo) SetRawResponse(ctx context.Context, jobID string, raw json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	job.RawResponse = append(json.RawMessage(nil), raw...)
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return nil
}

// Complete moves an analyzing job to completed with its result.
func (r *MemoryRepo) Complete(ctx context.Context, jobID string, result *Result, provider, model string, completedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != StatusAnalyzing {
		return false, nil
	}
	job.Status = StatusCompleted
	job.Result = result
	job.Provider = provider
	job.Model = model
	job.CompletedAt = &completedAt
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return true, nil
}

// Fail moves a non-terminal job to failed with error details.
func (r *MemoryRepo) Fail(ctx context.Context, jobID, errorCode, errorMessage string, retryable bool, completedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return false, ErrNotFound
	}
	if job.Terminal() {
		return false, nil
	}
	job.Status = StatusFailed
	job.ErrorCode = errorCode
	job.ErrorMessage = &errorMessage
	job.ErrorRetryable = retryable
	job.CompletedAt = &completedAt
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return true, nil
}

// ListByOwner returns the owner's jobs, newest first, with limit/offset.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	ids := r.byOwner[ownerID]
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, r.byID[id])
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if offset >= len(jobs) {
		return []Job{}, nil
	}
	end := len(jobs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return jobs[offset:end], nil
}

// CountByOwner returns the owner's job counts.
func (r *MemoryRepo) CountByOwner(ctx context.Context, ownerID string) (credits.JobCounts, error) {
	if err := ctx.Err(); err != nil {
		return credits.JobCounts{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var counts credits.JobCounts
	for _, id := range r.byOwner[ownerID] {
		counts.Total++
		switch r.byID[id].Status {
		case StatusCompleted:
			counts.Completed++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

var _ Repo = (*MemoryRepo)(nil)
