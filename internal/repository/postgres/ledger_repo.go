package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/yourorg/coinwatch/internal/domain"
)

type LedgerRepo struct {
	db *sqlx.DB
}

func NewLedgerRepo(db *sqlx.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Append records one balance event and updates the balance projection in
// the same transaction. The entry id is the idempotency key: a replay
// returns ErrDuplicateEntry and changes nothing. An entry that would drive
// the balance negative returns ErrInsufficientBalance and is not recorded.
func (r *LedgerRepo) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The balance row serializes concurrent appends per user.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, balance) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING`, entry.UserID); err != nil {
		return fmt.Errorf("ensure balance row: %w", err)
	}

	var balance decimal.Decimal
	if err := tx.GetContext(ctx, &balance, `
		SELECT balance FROM balances WHERE user_id = $1 FOR UPDATE`,
		entry.UserID); err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, amount, kind)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.UserID, entry.Amount, entry.Kind)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrDuplicateEntry
	}

	newBalance := balance.Add(entry.Amount)
	if newBalance.IsNegative() {
		return domain.ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE balances SET balance = $1, updated_at = NOW() WHERE user_id = $2`,
		newBalance, entry.UserID); err != nil {
		return fmt.Errorf("update balance projection: %w", err)
	}

	if err := tx.GetContext(ctx, &entry.RecordedAt, `
		SELECT recorded_at FROM ledger_entries WHERE id = $1`, entry.ID); err != nil {
		return fmt.Errorf("read recorded_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger append: %w", err)
	}
	return nil
}

// Balance reads the projection. A user with no entries has balance zero.
func (r *LedgerRepo) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance,
		`SELECT balance FROM balances WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepo) Entries(ctx context.Context, userID int64) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries WHERE user_id = $1 ORDER BY recorded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// Rebuild recomputes the projection from the entry log. The log is ground
// truth; this is the recovery path if the projection is ever suspect.
func (r *LedgerRepo) Rebuild(ctx context.Context, userID int64) (decimal.Decimal, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total decimal.Decimal
	if err := tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`,
		userID); err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`,
		userID, total); err != nil {
		return decimal.Zero, fmt.Errorf("rewrite balance projection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit rebuild: %w", err)
	}
	return total, nil
}
