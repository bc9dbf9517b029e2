package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yourorg/coinwatch/internal/domain"
)

type FavoriteRepo struct {
	db *sqlx.DB
}

func NewFavoriteRepo(db *sqlx.DB) *FavoriteRepo {
	return &FavoriteRepo{db: db}
}

// Add is idempotent: marking an asset that is already a favorite changes
// nothing.
func (r *FavoriteRepo) Add(ctx context.Context, userID int64, asset domain.AssetID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, asset_id) VALUES ($1, $2)
		ON CONFLICT (user_id, asset_id) DO NOTHING`,
		userID, asset)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (r *FavoriteRepo) Remove(ctx context.Context, userID int64, asset domain.AssetID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM favorites WHERE user_id = $1 AND asset_id = $2`,
		userID, asset)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrFavoriteNotFound
	}
	return nil
}

func (r *FavoriteRepo) List(ctx context.Context, userID int64) ([]domain.AssetID, error) {
	var assets []domain.AssetID
	err := r.db.SelectContext(ctx, &assets, `
		SELECT asset_id FROM favorites WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return assets, nil
}
