package analyses

import (
	"encoding/json"
	"strings"
	"time"
)

// Job statuses. Transitions only move forward:
// pending -> analyzing -> {completed | failed}.
const (
	StatusPending   = "pending"
	StatusAnalyzing = "analyzing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Item conditions accepted on submission.
const (
	ConditionNew       = "new"
	ConditionLikeNew   = "like_new"
	ConditionExcellent = "excellent"
	ConditionGood      = "good"
	ConditionFair      = "fair"
	ConditionPoor      = "poor"
)

// Job is one product analysis request and its lifecycle state.
type Job struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"ownerId"`
	Status        string   `json:"status"`
	Condition     string   `json:"condition"`
	EstimatedCost *float64 `json:"estimatedCost,omitempty"`
	Notes         string   `json:"notes,omitempty"`

	ArtifactKey  string `json:"artifactKey"`
	ArtifactMime string `json:"artifactMime"`
	ArtifactSize int64  `json:"artifactSize"`

	Result      *Result         `json:"result,omitempty"`
	RawResponse json.RawMessage `json:"-"`
	Provider    string          `json:"provider,omitempty"`
	Model       string          `json:"model,omitempty"`

	ErrorCode      string  `json:"errorCode,omitempty"`
	ErrorMessage   *string `json:"error,omitempty"`
	ErrorRetryable bool    `json:"errorRetryable,omitempty"`

	RequestID   string     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// StatusDoc is the small view served to status pollers and mirrored to the
// status cache.
type StatusDoc struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Status      string     `json:"status"`
	ErrorCode   string     `json:"errorCode,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewStatusDoc trims a job down to its poller view.
func NewStatusDoc(job Job) StatusDoc {
	return StatusDoc{
		ID:          job.ID,
		OwnerID:     job.OwnerID,
		Status:      job.Status,
		ErrorCode:   job.ErrorCode,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}

// NormalizeCondition maps free-form condition input to its canonical form.
// Unknown values return "".
func NormalizeCondition(s string) string {
	c := strings.ToLower(strings.TrimSpace(s))
	c = strings.ReplaceAll(c, " ", "_")
	c = strings.ReplaceAll(c, "-", "_")
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return c
	}
	return ""
}
