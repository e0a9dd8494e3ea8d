package credits

import (
	"context"

	"github.com/duvallglobal/listapp-sub000/internal/shared/metrics"
	"github.com/duvallglobal/listapp-sub000/internal/tiers"
)

// JobCounter reports per-owner job counts for usage stats.
type JobCounter interface {
	CountByOwner(ctx context.Context, ownerID string) (JobCounts, error)
}

// Service manages credit accounts via an underlying store.
type Service struct {
	store   Store
	catalog *tiers.Catalog
	jobs    JobCounter
}

// NewService constructs a Service with an in-memory store.
func NewService(catalog *tiers.Catalog) *Service {
	return &Service{store: newMemoryStore(catalog), catalog: catalog}
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(store Store, catalog *tiers.Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

// SetJobCounter wires per-owner job counts into Stats.
func (s *Service) SetJobCounter(jc JobCounter) {
	s.jobs = jc
}

// Account returns the owner's account, creating it on first touch.
func (s *Service) Account(ctx context.Context, ownerID string) (Account, error) {
	return s.store.Get(ctx, ownerID)
}

// CanConsume reports whether the owner could reserve n credits right now.
func (s *Service) CanConsume(ctx context.Context, ownerID string, n int64) (bool, Account, error) {
	a, err := s.store.Get(ctx, ownerID)
	if err != nil {
		return false, Account{}, err
	}
	if n <= 0 {
		return true, a, nil
	}
	tier := s.catalog.Resolve(a.TierID)
	if tier.Unlimited() {
		return true, a, nil
	}
	return a.Balance-a.Reserved >= n, a, nil
}

// Reserve holds n credits for an analysis about to be dispatched.
func (s *Service) Reserve(ctx context.Context, ownerID string, n int64) (Account, error) {
	return s.store.Reserve(ctx, ownerID, n)
}

// Release returns reserved credits after a failed dispatch.
func (s *Service) Release(ctx context.Context, ownerID string, n int64) error {
	return s.store.Release(ctx, ownerID, n)
}

// CommitDebit converts the job's reservation into a ledger debit. Calling it
// again for the same job is a no-op.
func (s *Service) CommitDebit(ctx context.Context, ownerID, jobID string, n int64) (bool, error) {
	appended, err := s.store.CommitDebit(ctx, ownerID, jobID, n)
	if err != nil {
		return false, err
	}
	if appended {
		metrics.IncCreditDebit()
	}
	return appended, nil
}

// Grant credits n to the owner with an audit reason and actor.
func (s *Service) Grant(ctx context.Context, ownerID string, n int64, reason, actor string) (Account, error) {
	if reason == "" {
		reason = ReasonAdminCredit
	}
	if reason != ReasonAdminCredit {
		return Account{}, ErrInvalidReason
	}
	a, err := s.store.Grant(ctx, ownerID, n, reason, actor)
	if err != nil {
		return Account{}, err
	}
	metrics.IncCreditGrant()
	return a, nil
}

// SetTier switches the owner's tier. The balance is untouched until the next
// period reset; admission checks use the new tier immediately.
func (s *Service) SetTier(ctx context.Context, ownerID, tierID string) (Account, error) {
	if _, ok := s.catalog.Lookup(tierID); !ok {
		return Account{}, ErrUnknownTier
	}
	return s.store.SetTier(ctx, ownerID, tierID)
}

// ResetPeriod starts a fresh period for one owner.
func (s *Service) ResetPeriod(ctx context.Context, ownerID string) (Account, error) {
	return s.store.ResetPeriod(ctx, ownerID)
}

// ResetAllPeriods starts a fresh period for every known account and returns
// how many were reset.
func (s *Service) ResetAllPeriods(ctx context.Context) (int, error) {
	owners, err := s.store.Owners(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, owner := range owners {
		if _, err := s.store.ResetPeriod(ctx, owner); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Stats returns the owner-facing usage snapshot.
func (s *Service) Stats(ctx context.Context, ownerID string) (Stats, error) {
	a, err := s.store.Get(ctx, ownerID)
	if err != nil {
		return Stats{}, err
	}
	used, err := s.store.PeriodUsage(ctx, ownerID)
	if err != nil {
		return Stats{}, err
	}

	tier := s.catalog.Resolve(a.TierID)
	st := Stats{
		Tier:        tier,
		Balance:     a.Balance,
		Reserved:    a.Reserved,
		PeriodUsage: used,
		PeriodStart: a.PeriodStart,
		ResetsAt:    a.ResetsAt,
	}
	if tier.Unlimited() {
		st.Remaining = -1
	} else {
		st.Remaining = a.Balance - a.Reserved
		if st.Remaining < 0 {
			st.Remaining = 0
		}
	}
	if s.jobs != nil {
		counts, err := s.jobs.CountByOwner(ctx, ownerID)
		if err != nil {
			return Stats{}, err
		}
		st.Jobs = counts
	}
	return st, nil
}

// Entries returns the owner's most recent ledger entries.
func (s *Service) Entries(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	return s.store.Entries(ctx, ownerID, limit)
}

// Catalog exposes the tier catalog for handlers.
func (s *Service) Catalog() *tiers.Catalog {
	return s.catalog
}
