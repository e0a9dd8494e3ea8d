package analyses

import (
	"context"
	"encoding/json"
	"time"

	"github.com/duvallglobal/listapp-sub000/internal/credits"
)

// Repo defines persistence operations for analysis jobs. The transition
// methods return false, without touching the row, when the job is not in the
// expected source state; callers treat that as "someone else already moved
// it" and re-read.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	// MarkAnalyzing moves a pending job to analyzing.
	MarkAnalyzing(ctx context.Context, jobID string, startedAt time.Time) (bool, error)
	// SetRawResponse stores the provider's raw payload on the job row.
	SetRawResponse(ctx context.Context, jobID string, raw json.RawMessage) error
	// Complete moves an analyzing job to completed with its result.
	Complete(ctx context.Context, jobID string, result *Result, provider, model string, completedAt time.Time) (bool, error)
	// Fail moves a non-terminal job to failed with error details.
	Fail(ctx context.Context, jobID, errorCode, errorMessage string, retryable bool, completedAt time.Time) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Job, error)
	CountByOwner(ctx context.Context, ownerID string) (credits.JobCounts, error)
}
