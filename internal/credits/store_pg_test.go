package credits

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/duvallglobal/listapp-sub000/internal/tiers"
)

func newMockStore(t *testing.T) (*pgStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(db, tiers.Default()), mock
}

func accountRow(tierID string, balance, reserved int64, resetsAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"tier_id", "balance", "reserved", "period_start", "resets_at"}).
		AddRow(tierID, balance, reserved, time.Now().UTC().Add(-time.Hour), resetsAt)
}

func TestPGStoreReserveSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	future := time.Now().UTC().Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("free_trial", 2, 0, future))
	mock.ExpectExec("UPDATE credit_accounts SET reserved").
		WithArgs(int64(1), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, err := store.Reserve(context.Background(), "user-1", 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if a.Reserved != 1 {
		t.Fatalf("expected reserved 1, got %d", a.Reserved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreReserveInsufficient(t *testing.T) {
	store, mock := newMockStore(t)
	future := time.Now().UTC().Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("free_trial", 2, 2, future))
	mock.ExpectRollback()

	if _, err := store.Reserve(context.Background(), "user-1", 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreFirstTouchCreatesAccount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs("user-1", "free_trial", int64(2), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger_entries").
		WithArgs("user-1", int64(2), ReasonSubscriptionReset).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	a, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.TierID != "free_trial" || a.Balance != 2 {
		t.Fatalf("unexpected account: %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreFirstTouchLosesInsertRace(t *testing.T) {
	store, mock := newMockStore(t)
	future := time.Now().UTC().Add(24 * time.Hour)

	// A concurrent first submission provisions the row between our empty
	// select and the insert; ON CONFLICT reports zero rows and we reload
	// the winner's account under the lock instead of erroring.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs("user-1", "free_trial", int64(2), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("free_trial", 2, 1, future))
	mock.ExpectExec("UPDATE credit_accounts SET reserved").
		WithArgs(int64(2), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, err := store.Reserve(context.Background(), "user-1", 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if a.Reserved != 2 {
		t.Fatalf("expected reserved 2 on the winner's row, got %d", a.Reserved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCommitDebitAppends(t *testing.T) {
	store, mock := newMockStore(t)
	future := time.Now().UTC().Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("free_trial", 2, 1, future))
	mock.ExpectQuery("SELECT id FROM credit_ledger_entries").
		WithArgs("job-1", ReasonAnalysisDebit).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credit_ledger_entries").
		WithArgs("user-1", int64(-1), ReasonAnalysisDebit, "job-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE credit_accounts SET balance").
		WithArgs(int64(1), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	appended, err := store.CommitDebit(context.Background(), "user-1", "job-1", 1)
	if err != nil {
		t.Fatalf("CommitDebit: %v", err)
	}
	if !appended {
		t.Fatalf("expected debit appended")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCommitDebitIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	future := time.Now().UTC().Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("free_trial", 1, 0, future))
	mock.ExpectQuery("SELECT id FROM credit_ledger_entries").
		WithArgs("job-1", ReasonAnalysisDebit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectCommit()

	appended, err := store.CommitDebit(context.Background(), "user-1", "job-1", 1)
	if err != nil {
		t.Fatalf("CommitDebit: %v", err)
	}
	if appended {
		t.Fatalf("expected repeat commit to be a no-op")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreLazyResetOnTouch(t *testing.T) {
	store, mock := newMockStore(t)
	past := time.Now().UTC().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier_id, balance, reserved, period_start, resets_at FROM credit_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("free_trial", 0, 1, past))
	mock.ExpectExec("UPDATE credit_accounts SET balance").
		WithArgs(int64(2), sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger_entries").
		WithArgs("user-1", int64(2), ReasonSubscriptionReset).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	a, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Balance != 2 || a.Reserved != 0 {
		t.Fatalf("expected reset allowance, got %+v", a)
	}
	if a.ResetsAt.Before(time.Now().UTC()) {
		t.Fatalf("expected window advanced, got %v", a.ResetsAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreReleaseGuardsUnderflow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE credit_accounts SET reserved = GREATEST").
		WithArgs(int64(3), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Release(context.Background(), "user-1", 3); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
