package favorites

import (
	"context"
	"fmt"

	"github.com/yourorg/coinwatch/internal/domain"
)

// Store holds the per-user watchlist. Add is an idempotent merge; Remove
// of an absent asset fails with domain.ErrFavoriteNotFound.
type Store interface {
	Add(ctx context.Context, userID int64, asset domain.AssetID) error
	Remove(ctx context.Context, userID int64, asset domain.AssetID) error
	List(ctx context.Context, userID int64) ([]domain.AssetID, error)
}

type Prices interface {
	Get(asset domain.AssetID) (*domain.PriceSnapshot, bool)
}

// Quote pairs a favorited asset with its cached snapshot, if one is
// currently fresh.
type Quote struct {
	Asset    domain.AssetID        `json:"asset"`
	Snapshot *domain.PriceSnapshot `json:"snapshot,omitempty"`
}

type Service struct {
	store  Store
	prices Prices
}

func NewService(store Store, prices Prices) *Service {
	return &Service{store: store, prices: prices}
}

func (s *Service) AddFavorite(ctx context.Context, userID int64, asset domain.AssetID) error {
	if asset == "" {
		return fmt.Errorf("asset is required")
	}
	return s.store.Add(ctx, userID, asset)
}

func (s *Service) RemoveFavorite(ctx context.Context, userID int64, asset domain.AssetID) error {
	if asset == "" {
		return fmt.Errorf("asset is required")
	}
	return s.store.Remove(ctx, userID, asset)
}

// Quotes lists the user's favorites with whatever snapshots the cache
// holds. Like valuation, it never waits on a live fetch; an asset the
// cache has no snapshot for comes back with Snapshot nil.
func (s *Service) Quotes(ctx context.Context, userID int64) ([]Quote, error) {
	assets, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	quotes := make([]Quote, 0, len(assets))
	for _, a := range assets {
		q := Quote{Asset: a}
		if snap, ok := s.prices.Get(a); ok {
			q.Snapshot = snap
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}
