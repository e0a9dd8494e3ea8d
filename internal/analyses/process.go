package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/duvallglobal/listapp-sub000/internal/inference"
	"github.com/duvallglobal/listapp-sub000/internal/marketplace"
	"github.com/duvallglobal/listapp-sub000/internal/shared/metrics"
	"github.com/duvallglobal/listapp-sub000/internal/shared/telemetry"
)

// Process runs inference for one job and settles its credit. Safe to invoke
// more than once per job: terminal jobs are left untouched except to repair a
// missing debit, so queue redeliveries converge instead of double-charging.
func (s *Service) Process(ctx context.Context, jobID string) error {
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job lookup: %w", err)
	}

	switch job.Status {
	case StatusCompleted:
		// Crash window between completion and debit. CommitDebit is
		// idempotent, so re-committing is a no-op when the debit landed.
		return s.commitDebit(ctx, job)
	case StatusFailed:
		return nil
	}

	startedAt := time.Now().UTC()
	if job.Status == StatusPending {
		applied, err := s.Repo.MarkAnalyzing(ctx, job.ID, startedAt)
		if err != nil {
			s.failJob(ctx, job, fmt.Errorf("set analyzing failed: %w", err), &startedAt)
			return nil
		}
		if !applied {
			// Another worker holds the job.
			return nil
		}
		job.Status = StatusAnalyzing
		job.StartedAt = &startedAt
		metrics.IncAnalysisStarted()
		s.cacheStatus(ctx, job)
		telemetry.Info("analysis.status", map[string]any{
			"request_id":        requestIDFromContext(ctx),
			"owner_id":          job.OwnerID,
			"job_id":            job.ID,
			"status":            StatusAnalyzing,
			"status_transition": "pending->analyzing",
		})
	} else if job.StartedAt != nil {
		// Redelivered mid-run; keep the original start time.
		startedAt = *job.StartedAt
	}

	if s.Store == nil || s.Inference == nil {
		s.failJob(ctx, job, errors.New("missing inference dependencies"), &startedAt)
		return nil
	}

	image, err := s.loadArtifact(ctx, job.ArtifactKey)
	if err != nil {
		s.failJob(ctx, job, fmt.Errorf("artifact %s: %w", job.ArtifactKey, err), &startedAt)
		return nil
	}

	estimatedCost := 0.0
	if job.EstimatedCost != nil {
		estimatedCost = *job.EstimatedCost
	}
	raw, err := s.Inference.AnalyzeItem(ctx, inference.Request{
		JobID:         job.ID,
		ImageData:     image,
		MimeType:      job.ArtifactMime,
		Condition:     job.Condition,
		EstimatedCost: estimatedCost,
		Notes:         job.Notes,
	})
	if err != nil {
		s.failJob(ctx, job, errInference{cause: err}, &startedAt)
		return nil
	}

	if err := s.Repo.SetRawResponse(ctx, job.ID, raw); err != nil {
		s.failJob(ctx, job, fmt.Errorf("set raw response failed: %w", err), &startedAt)
		return nil
	}
	s.archiveRaw(ctx, job.ID, raw)

	fees := s.Fees
	if fees == nil {
		fees = marketplace.DefaultFeeSchedule()
	}
	result, err := ParseResult(raw, fees, estimatedCost)
	if err != nil {
		s.failJob(ctx, job, fmt.Errorf("inference output invalid: %w", err), &startedAt)
		return nil
	}

	completedAt := time.Now().UTC()
	applied, err := s.Repo.Complete(ctx, job.ID, result, s.Provider, s.Model, completedAt)
	if err != nil {
		s.failJob(ctx, job, fmt.Errorf("set result failed: %w", err), &startedAt)
		return nil
	}
	if !applied {
		// Someone else settled the job while we were working.
		return nil
	}
	job.Status = StatusCompleted
	job.Result = result
	job.CompletedAt = &completedAt
	s.cacheStatus(ctx, job)
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(durationMs(&startedAt, &completedAt))
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"owner_id":          job.OwnerID,
		"job_id":            job.ID,
		"status":            StatusCompleted,
		"status_transition": "analyzing->completed",
		"duration_ms":       durationMs(&startedAt, &completedAt),
	})

	return s.commitDebit(ctx, job)
}

// commitDebit converts the owner's reservation into a spent credit. Errors
// propagate so queue consumers leave the message for redelivery; the job
// itself stays completed.
func (s *Service) commitDebit(ctx context.Context, job Job) error {
	if s.Credits == nil {
		return nil
	}
	if _, err := s.Credits.CommitDebit(ctx, job.OwnerID, job.ID, 1); err != nil {
		telemetry.Error("analysis.debit.failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"owner_id":   job.OwnerID,
			"job_id":     job.ID,
			"err":        err.Error(),
		})
		return fmt.Errorf("commit debit: %w", err)
	}
	return nil
}

func (s *Service) failJob(ctx context.Context, job Job, cause error, startedAt *time.Time) {
	from := job.Status
	code, retryable := classifyFailure(cause)
	msg := sanitizeError(cause)
	var infErr errInference
	if errors.As(cause, &infErr) {
		// Persist the provider's message as-is; the prefix stays in logs.
		msg = sanitizeError(infErr.cause)
	}
	completedAt := time.Now().UTC()
	applied, err := s.Repo.Fail(context.Background(), job.ID, code, msg, retryable, completedAt)
	if err != nil {
		telemetry.Error("analysis.fail.update", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     job.ID,
			"err":        err.Error(),
			"cause":      msg,
		})
		return
	}
	if !applied {
		// Already terminal; the reservation was settled by whoever got there.
		return
	}
	if s.Credits != nil {
		if err := s.Credits.Release(context.Background(), job.OwnerID, 1); err != nil {
			telemetry.Error("analysis.release.failed", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"owner_id":   job.OwnerID,
				"job_id":     job.ID,
				"err":        err.Error(),
			})
		}
	}
	job.Status = StatusFailed
	job.ErrorCode = code
	job.ErrorMessage = &msg
	job.ErrorRetryable = retryable
	job.CompletedAt = &completedAt
	s.cacheStatus(ctx, job)
	metrics.IncAnalysisFailed()
	if startedAt != nil {
		metrics.ObserveAnalysisDurationMs(durationMs(startedAt, &completedAt))
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"owner_id":          job.OwnerID,
		"job_id":            job.ID,
		"status":            StatusFailed,
		"status_transition": from + "->failed",
		"error":             sanitizeError(cause),
		"error_code":        code,
		"retryable":         retryable,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

func (s *Service) loadArtifact(ctx context.Context, key string) ([]byte, error) {
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// archiveRaw keeps a copy of the provider payload next to the artifacts for
// offline inspection. Failures only log; the row already holds the raw body.
func (s *Service) archiveRaw(ctx context.Context, jobID string, raw json.RawMessage) {
	type rawSaver interface {
		SaveWithKey(ctx context.Context, storageKey, contentType string, r io.Reader) (int64, error)
	}
	saver, ok := s.Store.(rawSaver)
	if !ok || len(raw) == 0 {
		return
	}
	key := path.Join("analyses", jobID, "raw.json")
	if _, err := saver.SaveWithKey(ctx, key, "application/json", bytes.NewReader(raw)); err != nil {
		telemetry.Warn("analysis.raw.archive", map[string]any{
			"job_id": jobID,
			"key":    key,
			"err":    err.Error(),
		})
	}
}

func (s *Service) cacheStatus(ctx context.Context, job Job) {
	if s.Cache == nil {
		return
	}
	payload, err := json.Marshal(NewStatusDoc(job))
	if err != nil {
		return
	}
	if job.Terminal() {
		// Drop any stale non-terminal snapshot before writing the final one.
		if err := s.Cache.Invalidate(ctx, job.ID); err != nil {
			telemetry.Warn("analysis.cache.invalidate", map[string]any{
				"job_id": job.ID,
				"err":    err.Error(),
			})
		}
	}
	if err := s.Cache.Set(ctx, job.ID, payload); err != nil {
		telemetry.Warn("analysis.cache.set", map[string]any{
			"job_id": job.ID,
			"err":    err.Error(),
		})
	}
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func classifyFailure(err error) (string, bool) {
	if err == nil {
		return ErrorCodeInternal, false
	}
	var ve errValidation
	if errors.As(err, &ve) {
		return ErrorCodeValidation, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeInferenceTimeout, true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "client.timeout") {
		return ErrorCodeInferenceTimeout, true
	}
	if strings.Contains(msg, "timeout") && strings.Contains(msg, "inference") {
		return ErrorCodeInferenceTimeout, true
	}
	if strings.Contains(msg, "inference output invalid") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "schema") {
		return ErrorCodeInferenceSchemaMismatch, false
	}
	if strings.Contains(msg, "inference analyze") {
		return ErrorCodeInference, true
	}
	if strings.Contains(msg, "artifact") || strings.Contains(msg, "storage") || strings.Contains(msg, "raw response") || strings.Contains(msg, "set result") || strings.Contains(msg, "set analyzing") {
		return ErrorCodeStorage, true
	}
	if strings.Contains(msg, "debit") || strings.Contains(msg, "ledger") {
		return ErrorCodeLedger, true
	}
	return ErrorCodeInternal, false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
