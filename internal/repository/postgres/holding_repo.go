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

type HoldingRepo struct {
	db *sqlx.DB
}

func NewHoldingRepo(db *sqlx.DB) *HoldingRepo {
	return &HoldingRepo{db: db}
}

// Add merges quantity into an existing holding for the same user and asset,
// creating the row if absent.
func (r *HoldingRepo) Add(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error) {
	var h domain.Holding
	err := r.db.GetContext(ctx, &h, `
		INSERT INTO holdings (user_id, asset_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, asset_id) DO UPDATE SET
			quantity   = holdings.quantity + EXCLUDED.quantity,
			updated_at = NOW()
		RETURNING *`,
		userID, asset, qty)
	if err != nil {
		return nil, fmt.Errorf("add holding: %w", err)
	}
	return &h, nil
}

// Reduce removes quantity from a holding. Reducing below zero fails with
// ErrInsufficientHolding; reducing exactly to zero deletes the row, since
// quantity zero is equivalent to absence.
func (r *HoldingRepo) Reduce(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var h domain.Holding
	err = tx.GetContext(ctx, &h, `
		SELECT * FROM holdings WHERE user_id = $1 AND asset_id = $2 FOR UPDATE`,
		userID, asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInsufficientHolding
		}
		return nil, fmt.Errorf("lock holding: %w", err)
	}

	remaining := h.Quantity.Sub(qty)
	if remaining.IsNegative() {
		return nil, domain.ErrInsufficientHolding
	}

	if remaining.IsZero() {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM holdings WHERE user_id = $1 AND asset_id = $2`,
			userID, asset); err != nil {
			return nil, fmt.Errorf("delete holding: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE holdings SET quantity = $1, updated_at = NOW()
			WHERE user_id = $2 AND asset_id = $3`,
			remaining, userID, asset); err != nil {
			return nil, fmt.Errorf("update holding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reduce: %w", err)
	}
	h.Quantity = remaining
	return &h, nil
}

func (r *HoldingRepo) List(ctx context.Context, userID int64) ([]domain.Holding, error) {
	var holdings []domain.Holding
	err := r.db.SelectContext(ctx, &holdings, `
		SELECT * FROM holdings WHERE user_id = $1 ORDER BY asset_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	return holdings, nil
}

func (r *HoldingRepo) HeldAssets(ctx context.Context) ([]domain.AssetID, error) {
	var assets []domain.AssetID
	err := r.db.SelectContext(ctx, &assets, `
		SELECT DISTINCT asset_id FROM holdings WHERE quantity > 0 ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("held assets: %w", err)
	}
	return assets, nil
}
