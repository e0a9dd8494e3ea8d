package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/duvallglobal/listapp-sub000/internal/credits"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const jobColumns = `
	id, owner_id, status, condition, estimated_cost, notes,
	artifact_key, artifact_mime, artifact_size,
	result, raw_response, provider, model,
	error_code, error_message, error_retryable, request_id,
	started_at, completed_at, created_at, updated_at`

// Create inserts a new job in its submitted state.
func (r *PGRepo) Create(ctx context.Context, job Job) error {
	const query = `
INSERT INTO analysis_jobs (
	id, owner_id, status, condition, estimated_cost, notes,
	artifact_key, artifact_mime, artifact_size, request_id, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.DB.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.Status,
		job.Condition,
		job.EstimatedCost,
		job.Notes,
		job.ArtifactKey,
		job.ArtifactMime,
		job.ArtifactSize,
		job.RequestID,
		job.CreatedAt,
		job.CreatedAt,
	)
	return err
}

// GetByID returns a job by ID.
func (r *PGRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	const query = `
SELECT` + jobColumns + `
FROM analysis_jobs
WHERE id = $1
LIMIT 1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return job, nil
}

// MarkAnalyzing moves a pending job to analyzing. started_at is kept from an
// earlier attempt when the row already carries one.
func (r *PGRepo) MarkAnalyzing(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	const query = `
UPDATE analysis_jobs
SET status = 'analyzing',
    started_at = COALESCE(started_at, $2::timestamptz),
    updated_at = now()
WHERE id = $1::uuid AND status = 'pending'`
	res, err := r.DB.ExecContext(ctx, query, jobID, startedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetRawResponse records the provider's raw payload before parsing.
func (r *PGRepo) SetRawResponse(ctx context.Context, jobID string, raw json.RawMessage) error {
	const query = `
UPDATE analysis_jobs
SET raw_response = $2::jsonb,
    updated_at = now()
WHERE id = $1::uuid`
	var payload any
	if len(raw) > 0 {
		payload = []byte(raw)
	}
	res, err := r.DB.ExecContext(ctx, query, jobID, payload)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete moves an analyzing job to completed with its parsed result.
func (r *PGRepo) Complete(ctx context.Context, jobID string, result *Result, provider, model string, completedAt time.Time) (bool, error) {
	const query = `
UPDATE analysis_jobs
SET status = 'completed',
    result = $2::jsonb,
    provider = NULLIF($3::text, ''),
    model = NULLIF($4::text, ''),
    completed_at = $5::timestamptz,
    updated_at = now()
WHERE id = $1::uuid AND status = 'analyzing'`
	payload, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, query, jobID, payload, provider, model, completedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Fail moves a non-terminal job to failed with its sanitized error.
func (r *PGRepo) Fail(ctx context.Context, jobID, errorCode, errorMessage string, retryable bool, completedAt time.Time) (bool, error) {
	const query = `
UPDATE analysis_jobs
SET status = 'failed',
    error_code = $2,
    error_message = $3,
    error_retryable = $4,
    completed_at = $5::timestamptz,
    updated_at = now()
WHERE id = $1::uuid AND status IN ('pending', 'analyzing')`
	res, err := r.DB.ExecContext(ctx, query, jobID, errorCode, errorMessage, retryable, completedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByOwner lists jobs for an owner ordered newest-first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	const query = `
SELECT` + jobColumns + `
FROM analysis_jobs
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CountByOwner tallies an owner's jobs by terminal outcome.
func (r *PGRepo) CountByOwner(ctx context.Context, ownerID string) (credits.JobCounts, error) {
	const query = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'completed'),
       COUNT(*) FILTER (WHERE status = 'failed')
FROM analysis_jobs
WHERE owner_id = $1`
	var c credits.JobCounts
	if err := r.DB.QueryRowContext(ctx, query, ownerID).Scan(&c.Total, &c.Completed, &c.Failed); err != nil {
		return credits.JobCounts{}, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var estimatedCost sql.NullFloat64
	var result sql.NullString
	var rawResponse sql.NullString
	var provider sql.NullString
	var model sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	err := row.Scan(
		&j.ID,
		&j.OwnerID,
		&j.Status,
		&j.Condition,
		&estimatedCost,
		&j.Notes,
		&j.ArtifactKey,
		&j.ArtifactMime,
		&j.ArtifactSize,
		&result,
		&rawResponse,
		&provider,
		&model,
		&errorCode,
		&errorMessage,
		&j.ErrorRetryable,
		&j.RequestID,
		&startedAt,
		&completedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if estimatedCost.Valid {
		j.EstimatedCost = &estimatedCost.Float64
	}
	if result.Valid {
		j.Result = &Result{}
		if err := json.Unmarshal([]byte(result.String), j.Result); err != nil {
			// keep nil
			j.Result = nil
		}
	}
	if rawResponse.Valid {
		j.RawResponse = json.RawMessage(rawResponse.String)
	}
	if provider.Valid {
		j.Provider = provider.String
	}
	if model.Valid {
		j.Model = model.String
	}
	if errorCode.Valid {
		j.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		j.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

var _ Repo = (*PGRepo)(nil)
