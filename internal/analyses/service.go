package analyses

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duvallglobal/listapp-sub000/internal/cache"
	"github.com/duvallglobal/listapp-sub000/internal/credits"
	"github.com/duvallglobal/listapp-sub000/internal/inference"
	"github.com/duvallglobal/listapp-sub000/internal/marketplace"
	"github.com/duvallglobal/listapp-sub000/internal/queue"
	"github.com/duvallglobal/listapp-sub000/internal/shared/metrics"
	"github.com/duvallglobal/listapp-sub000/internal/shared/storage/object"
	"github.com/duvallglobal/listapp-sub000/internal/shared/telemetry"
)

// Service contains business logic for analysis jobs.
type Service struct {
	Repo             Repo
	Credits          *credits.Service
	Store            object.ObjectStore
	Inference        inference.Client
	JobQueue         queue.Client
	Cache            cache.StatusCache
	Fees             marketplace.FeeSchedule
	Provider         string
	Model            string
	MaxArtifactBytes int64
}

// SubmitRequest carries one item photo and the seller's context for it.
type SubmitRequest struct {
	FileName      string
	Image         io.Reader
	Condition     string
	EstimatedCost *float64
	Notes         string
}

// Submit validates a submission, reserves a credit, uploads the artifact and
// creates the pending job. The heavy work happens off the request path:
// through the queue when one is configured, otherwise on a goroutine.
func (s *Service) Submit(ctx context.Context, ownerID string, req SubmitRequest) (Job, error) {
	if ownerID == "" {
		return Job{}, errValidation("ownerID is required")
	}
	if strings.TrimSpace(req.Condition) == "" {
		return Job{}, errValidation("condition is required")
	}
	condition := NormalizeCondition(req.Condition)
	if condition == "" {
		return Job{}, errValidation("condition is not recognized")
	}
	if req.EstimatedCost != nil && *req.EstimatedCost < 0 {
		return Job{}, errValidation("estimated_cost must not be negative")
	}
	if req.Image == nil {
		return Job{}, errValidation("image is required")
	}
	data, mimeType, err := readArtifact(req.Image, s.MaxArtifactBytes)
	if err != nil {
		return Job{}, err
	}

	if s.Credits != nil {
		if _, err := s.Credits.Reserve(ctx, ownerID, 1); err != nil {
			return Job{}, err
		}
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "photo"
	}
	key, size, _, err := s.Store.Save(ctx, ownerID, fileName, bytes.NewReader(data))
	if err != nil {
		s.releaseReservation(ctx, ownerID)
		return Job{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Status:        StatusPending,
		Condition:     condition,
		EstimatedCost: req.EstimatedCost,
		Notes:         strings.TrimSpace(req.Notes),
		ArtifactKey:   key,
		ArtifactMime:  mimeType,
		ArtifactSize:  size,
		RequestID:     requestIDFromContext(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.Create(ctx, job); err != nil {
		// The uploaded artifact is orphaned; a cleanup sweep can reap it later.
		s.releaseReservation(ctx, ownerID)
		return Job{}, err
	}

	metrics.IncAnalysisSubmitted()
	s.cacheStatus(ctx, job)
	telemetry.Info("analysis.submitted", map[string]any{
		"request_id": job.RequestID,
		"owner_id":   ownerID,
		"job_id":     job.ID,
		"mime_type":  mimeType,
		"size_bytes": size,
	})

	if s.JobQueue != nil {
		msg := queue.Message{
			JobID:      job.ID,
			RequestID:  job.RequestID,
			EnqueuedAt: now.Format(time.RFC3339),
			Version:    1,
		}
		if err := s.JobQueue.Send(ctx, msg); err != nil {
			s.failJob(ctx, job, fmt.Errorf("enqueue job: %w", err), nil)
			return Job{}, fmt.Errorf("enqueue job: %w", err)
		}
		return job, nil
	}

	go s.processAsync(backgroundWithRequestID(ctx), job.ID)

	return job, nil
}

// Get returns a job by ID scoped to its owner.
func (s *Service) Get(ctx context.Context, ownerID, jobID string) (Job, error) {
	if ownerID == "" || jobID == "" {
		return Job{}, errValidation("ownerID and jobID are required")
	}
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.OwnerID != ownerID {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// List returns an owner's jobs ordered newest-first.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]Job, error) {
	if ownerID == "" {
		return nil, errValidation("ownerID is required")
	}
	return s.Repo.ListByOwner(ctx, ownerID, limit, offset)
}

func (s *Service) processAsync(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			if job, err := s.Repo.GetByID(ctx, jobID); err == nil && !job.Terminal() {
				s.failJob(ctx, job, fmt.Errorf("panic: %v", r), job.StartedAt)
			}
		}
	}()
	if err := s.Process(ctx, jobID); err != nil {
		telemetry.Error("analysis.process.failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     jobID,
			"err":        err.Error(),
		})
	}
}

func (s *Service) releaseReservation(ctx context.Context, ownerID string) {
	if s.Credits == nil {
		return
	}
	if err := s.Credits.Release(ctx, ownerID, 1); err != nil {
		telemetry.Error("analysis.release.failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"owner_id":   ownerID,
			"err":        err.Error(),
		})
	}
}
