package credits

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/duvallglobal/listapp-sub000/internal/tiers"
)

type pgStore struct {
	DB      *sql.DB
	Catalog *tiers.Catalog
}

// NewPGStore constructs a Postgres-backed credit store.
func NewPGStore(db *sql.DB, catalog *tiers.Catalog) *pgStore {
	return &pgStore{DB: db, Catalog: catalog}
}

func (s *pgStore) Get(ctx context.Context, ownerID string) (Account, error) {
	return s.ensure(ctx, ownerID)
}

func (s *pgStore) Reserve(ctx context.Context, ownerID string, n int64) (Account, error) {
	if n <= 0 {
		return s.ensure(ctx, ownerID)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	a, err := s.lockAndEnsure(ctx, tx, ownerID)
	if err != nil {
		return Account{}, err
	}

	tier := s.Catalog.Resolve(a.TierID)
	if !tier.Unlimited() && a.Balance-a.Reserved < n {
		err = ErrQuotaExceeded
		return Account{}, err
	}
	a.Reserved += n
	if _, err = tx.ExecContext(ctx, `
UPDATE credit_accounts SET reserved = $1, updated_at = now() WHERE owner_id = $2`, a.Reserved, ownerID); err != nil {
		return Account{}, err
	}
	if err = tx.Commit(); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *pgStore) Release(ctx context.Context, ownerID string, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE credit_accounts SET reserved = GREATEST(reserved - $1, 0), updated_at = now() WHERE owner_id = $2`, n, ownerID)
	return err
}

func (s *pgStore) CommitDebit(ctx context.Context, ownerID, jobID string, n int64) (bool, error) {
	if n <= 0 {
		return false, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = s.lockAndEnsure(ctx, tx, ownerID); err != nil {
		return false, err
	}

	var existing int64
	scanErr := tx.QueryRowContext(ctx, `
SELECT id FROM credit_ledger_entries WHERE job_id = $1 AND reason = $2`, jobID, ReasonAnalysisDebit).Scan(&existing)
	if scanErr == nil {
		// Already debited for this job; re-invocation is a no-op.
		if err = tx.Commit(); err != nil {
			return false, err
		}
		return false, nil
	}
	if !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return false, err
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO credit_ledger_entries (owner_id, delta, reason, job_id) VALUES ($1, $2, $3, $4)`,
		ownerID, -n, ReasonAnalysisDebit, jobID); err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE credit_accounts SET balance = balance - $1, reserved = GREATEST(reserved - $1, 0), updated_at = now()
WHERE owner_id = $2`, n, ownerID); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *pgStore) Grant(ctx context.Context, ownerID string, n int64, reason, actor string) (Account, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	a, err := s.lockAndEnsure(ctx, tx, ownerID)
	if err != nil {
		return Account{}, err
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO credit_ledger_entries (owner_id, delta, reason, actor) VALUES ($1, $2, $3, NULLIF($4, ''))`,
		ownerID, n, reason, actor); err != nil {
		return Account{}, err
	}
	a.Balance += n
	if _, err = tx.ExecContext(ctx, `
UPDATE credit_accounts SET balance = $1, updated_at = now() WHERE owner_id = $2`, a.Balance, ownerID); err != nil {
		return Account{}, err
	}
	if err = tx.Commit(); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *pgStore) SetTier(ctx context.Context, ownerID, tierID string) (Account, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	a, err := s.lockAndEnsure(ctx, tx, ownerID)
	if err != nil {
		return Account{}, err
	}

	a.TierID = tierID
	if _, err = tx.ExecContext(ctx, `
UPDATE credit_accounts SET tier_id = $1, updated_at = now() WHERE owner_id = $2`, tierID, ownerID); err != nil {
		return Account{}, err
	}
	if err = tx.Commit(); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *pgStore) ResetPeriod(ctx context.Context, ownerID string) (Account, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	a, err := s.lockAndEnsure(ctx, tx, ownerID)
	if err != nil {
		return Account{}, err
	}
	if err = s.applyReset(ctx, tx, &a); err != nil {
		return Account{}, err
	}
	if err = tx.Commit(); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *pgStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT owner_id FROM credit_accounts ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

func (s *pgStore) PeriodUsage(ctx context.Context, ownerID string) (int64, error) {
	var used int64
	err := s.DB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(-delta), 0) FROM credit_ledger_entries
WHERE owner_id = $1 AND reason = $2
  AND created_at >= (SELECT period_start FROM credit_accounts WHERE owner_id = $1)`,
		ownerID, ReasonAnalysisDebit).Scan(&used)
	if err != nil {
		return 0, err
	}
	return used, nil
}

func (s *pgStore) Entries(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, owner_id, delta, reason, COALESCE(job_id::text, ''), COALESCE(actor, ''), created_at
FROM credit_ledger_entries
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Delta, &e.Reason, &e.JobID, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgStore) ensure(ctx context.Context, ownerID string) (Account, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	a, err := s.lockAndEnsure(ctx, tx, ownerID)
	if err != nil {
		return Account{}, err
	}
	if err = tx.Commit(); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *pgStore) lockAndEnsure(ctx context.Context, tx *sql.Tx, ownerID string) (Account, error) {
	a := Account{OwnerID: ownerID}
	row := tx.QueryRowContext(ctx, `
SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts WHERE owner_id = $1 FOR UPDATE`, ownerID)
	err := row.Scan(&a.TierID, &a.Balance, &a.Reserved, &a.PeriodStart, &a.ResetsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			tier := s.Catalog.DefaultTier()
			now := time.Now().UTC()
			a.TierID = tier.ID
			a.PeriodStart = now
			a.ResetsAt = now.AddDate(0, 1, 0)
			if !tier.Unlimited() {
				a.Balance = tier.MonthlyLimit
			}
			// FOR UPDATE takes no lock on an absent row, so two first
			// touches can race here; the loser defers to the winner's row.
			res, execErr := tx.ExecContext(ctx, `
INSERT INTO credit_accounts (owner_id, tier_id, balance, reserved, period_start, resets_at) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (owner_id) DO NOTHING`,
				ownerID, a.TierID, a.Balance, a.Reserved, a.PeriodStart, a.ResetsAt)
			if execErr != nil {
				return Account{}, execErr
			}
			inserted, execErr := res.RowsAffected()
			if execErr != nil {
				return Account{}, execErr
			}
			if inserted == 0 {
				return s.lockAndEnsure(ctx, tx, ownerID)
			}
			if a.Balance != 0 {
				if _, err = tx.ExecContext(ctx, `
INSERT INTO credit_ledger_entries (owner_id, delta, reason) VALUES ($1, $2, $3)`,
					ownerID, a.Balance, ReasonSubscriptionReset); err != nil {
					return Account{}, err
				}
			}
			return a, nil
		}
		return Account{}, err
	}

	now := time.Now().UTC()
	if now.After(a.ResetsAt) || now.Equal(a.ResetsAt) {
		if err := s.applyReset(ctx, tx, &a); err != nil {
			return Account{}, err
		}
	}
	return a, nil
}

// applyReset brings the locked account to the start of a fresh period: balance
// set to the tier allowance, reservations cleared, window advanced. The balance
// correction lands in the ledger so entry deltas still sum to the balance.
func (s *pgStore) applyReset(ctx context.Context, tx *sql.Tx, a *Account) error {
	tier := s.Catalog.Resolve(a.TierID)
	var target int64
	if !tier.Unlimited() {
		target = tier.MonthlyLimit
	}
	delta := target - a.Balance

	now := time.Now().UTC()
	a.Balance = target
	a.Reserved = 0
	a.PeriodStart = now
	a.ResetsAt = now.AddDate(0, 1, 0)

	if _, err := tx.ExecContext(ctx, `
UPDATE credit_accounts SET balance = $1, reserved = 0, period_start = $2, resets_at = $3, updated_at = now()
WHERE owner_id = $4`, a.Balance, a.PeriodStart, a.ResetsAt, a.OwnerID); err != nil {
		return err
	}
	if delta != 0 {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_ledger_entries (owner_id, delta, reason) VALUES ($1, $2, $3)`,
			a.OwnerID, delta, ReasonSubscriptionReset); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*pgStore)(nil)
