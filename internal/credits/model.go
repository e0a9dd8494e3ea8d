package credits

import (
	"time"

	"github.com/duvallglobal/listapp-sub000/internal/tiers"
)

// Ledger entry reasons.
const (
	ReasonAnalysisDebit     = "analysis_debit"
	ReasonSubscriptionReset = "subscription_reset"
	ReasonAdminCredit       = "admin_credit"
)

// Account is the denormalized balance row for one owner. Balance always equals
// the sum of the owner's ledger entry deltas.
type Account struct {
	OwnerID     string    `json:"ownerId"`
	TierID      string    `json:"tierId"`
	Balance     int64     `json:"balance"`
	Reserved    int64     `json:"reserved"`
	PeriodStart time.Time `json:"periodStart"`
	ResetsAt    time.Time `json:"resetsAt"`
}

// Entry is one append-only ledger record.
type Entry struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	JobID     string    `json:"jobId,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobCounts summarizes an owner's analysis jobs.
type JobCounts struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stats is the owner-facing usage snapshot. Remaining is -1 for unlimited
// tiers.
type Stats struct {
	Tier        tiers.Tier `json:"tier"`
	Balance     int64      `json:"balance"`
	Reserved    int64      `json:"reserved"`
	PeriodUsage int64      `json:"periodUsage"`
	Remaining   int64      `json:"remaining"`
	PeriodStart time.Time  `json:"periodStart"`
	ResetsAt    time.Time  `json:"resetsAt"`
	Jobs        JobCounts  `json:"jobs"`
}
