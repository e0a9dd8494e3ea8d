package credits

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/duvallglobal/listapp-sub000/internal/tiers"
)

type memoryStore struct {
	mu       sync.Mutex
	catalog  *tiers.Catalog
	accounts map[string]Account
	entries  []Entry
	nextID   int64
}

func newMemoryStore(catalog *tiers.Catalog) *memoryStore {
	return &memoryStore{
		catalog:  catalog,
		accounts: make(map[string]Account),
		nextID:   1,
	}
}

func (s *memoryStore) Get(ctx context.Context, ownerID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ownerID), nil
}

func (s *memoryStore) Reserve(ctx context.Context, ownerID string, n int64) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.ensureLocked(ownerID)
	if n <= 0 {
		return a, nil
	}
	tier := s.catalog.Resolve(a.TierID)
	if !tier.Unlimited() && a.Balance-a.Reserved < n {
		return Account{}, ErrQuotaExceeded
	}
	a.Reserved += n
	s.accounts[ownerID] = a
	return a, nil
}

func (s *memoryStore) Release(ctx context.Context, ownerID string, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[ownerID]
	if !ok {
		return nil
	}
	a.Reserved -= n
	if a.Reserved < 0 {
		a.Reserved = 0
	}
	s.accounts[ownerID] = a
	return nil
}

func (s *memoryStore) CommitDebit(ctx context.Context, ownerID, jobID string, n int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if n <= 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.ensureLocked(ownerID)
	for _, e := range s.entries {
		if e.JobID == jobID && e.Reason == ReasonAnalysisDebit {
			return false, nil
		}
	}
	s.appendLocked(Entry{OwnerID: ownerID, Delta: -n, Reason: ReasonAnalysisDebit, JobID: jobID})
	a.Balance -= n
	a.Reserved -= n
	if a.Reserved < 0 {
		a.Reserved = 0
	}
	s.accounts[ownerID] = a
	return true, nil
}

func (s *memoryStore) Grant(ctx context.Context, ownerID string, n int64, reason, actor string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.ensureLocked(ownerID)
	s.appendLocked(Entry{OwnerID: ownerID, Delta: n, Reason: reason, Actor: actor})
	a.Balance += n
	s.accounts[ownerID] = a
	return a, nil
}

func (s *memoryStore) SetTier(ctx context.Context, ownerID, tierID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.ensureLocked(ownerID)
	a.TierID = tierID
	s.accounts[ownerID] = a
	return a, nil
}

func (s *memoryStore) ResetPeriod(ctx context.Context, ownerID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.ensureLocked(ownerID)
	s.resetLocked(&a)
	s.accounts[ownerID] = a
	return a, nil
}

func (s *memoryStore) Owners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.accounts))
	for owner := range s.accounts {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) PeriodUsage(ctx context.Context, ownerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[ownerID]
	if !ok {
		return 0, nil
	}
	var used int64
	for _, e := range s.entries {
		if e.OwnerID == ownerID && e.Reason == ReasonAnalysisDebit && !e.CreatedAt.Before(a.PeriodStart) {
			used += -e.Delta
		}
	}
	return used, nil
}

func (s *memoryStore) Entries(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].OwnerID == ownerID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memoryStore) ensureLocked(ownerID string) Account {
	now := time.Now().UTC()
	a, ok := s.accounts[ownerID]
	if !ok {
		tier := s.catalog.DefaultTier()
		a = Account{
			OwnerID:     ownerID,
			TierID:      tier.ID,
			PeriodStart: now,
			ResetsAt:    now.AddDate(0, 1, 0),
		}
		if !tier.Unlimited() {
			a.Balance = tier.MonthlyLimit
			s.appendLocked(Entry{OwnerID: ownerID, Delta: a.Balance, Reason: ReasonSubscriptionReset})
		}
		s.accounts[ownerID] = a
		return a
	}
	if now.After(a.ResetsAt) || now.Equal(a.ResetsAt) {
		s.resetLocked(&a)
		s.accounts[ownerID] = a
	}
	return a
}

func (s *memoryStore) resetLocked(a *Account) {
	tier := s.catalog.Resolve(a.TierID)
	var target int64
	if !tier.Unlimited() {
		target = tier.MonthlyLimit
	}
	if delta := target - a.Balance; delta != 0 {
		s.appendLocked(Entry{OwnerID: a.OwnerID, Delta: delta, Reason: ReasonSubscriptionReset})
	}
	now := time.Now().UTC()
	a.Balance = target
	a.Reserved = 0
	a.PeriodStart = now
	a.ResetsAt = now.AddDate(0, 1, 0)
}

func (s *memoryStore) appendLocked(e Entry) {
	e.ID = s.nextID
	s.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
}

var _ Store = (*memoryStore)(nil)
