package credits

import "context"

// Store persists credit accounts and their append-only ledger. All mutations
// keep the account balance equal to the sum of entry deltas, with period
// resets applied lazily on first touch after the window elapses.
type Store interface {
	// Get returns the account for owner, creating it on first touch.
	Get(ctx context.Context, ownerID string) (Account, error)
	// Reserve holds n credits against the balance, or ErrQuotaExceeded.
	// Unlimited tiers always succeed.
	Reserve(ctx context.Context, ownerID string, n int64) (Account, error)
	// Release returns n reserved credits without writing a ledger entry.
	Release(ctx context.Context, ownerID string, n int64) error
	// CommitDebit converts a reservation into a debit entry for jobID.
	// It reports false when the job already has a debit entry.
	CommitDebit(ctx context.Context, ownerID, jobID string, n int64) (bool, error)
	// Grant appends a positive entry and raises the balance.
	Grant(ctx context.Context, ownerID string, n int64, reason, actor string) (Account, error)
	// SetTier switches the account's tier for subsequent admission checks.
	SetTier(ctx context.Context, ownerID, tierID string) (Account, error)
	// ResetPeriod forces the periodic reset regardless of the window.
	ResetPeriod(ctx context.Context, ownerID string) (Account, error)
	// Owners lists all known account owners.
	Owners(ctx context.Context) ([]string, error)
	// PeriodUsage returns credits debited since the current period start.
	PeriodUsage(ctx context.Context, ownerID string) (int64, error)
	// Entries returns the owner's most recent ledger entries.
	Entries(ctx context.Context, ownerID string, limit int) ([]Entry, error)
}
