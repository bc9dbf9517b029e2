package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/coinwatch/internal/domain"
)

// Store holds durable per-user positions. Add merges quantities for the
// same user and asset; Reduce fails on insufficient quantity and removes
// the row at zero.
type Store interface {
	Add(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error)
	Reduce(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error)
	List(ctx context.Context, userID int64) ([]domain.Holding, error)
	HeldAssets(ctx context.Context) ([]domain.AssetID, error)
}

type Prices interface {
	Get(asset domain.AssetID) (*domain.PriceSnapshot, bool)
}

type Service struct {
	store    Store
	prices   Prices
	currency string
	now      func() time.Time
}

func NewService(store Store, prices Prices, currency string) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{store: store, prices: prices, currency: currency, now: time.Now}
}

func (s *Service) AddHolding(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error) {
	if asset == "" {
		return nil, fmt.Errorf("asset is required")
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("quantity must be greater than zero")
	}
	return s.store.Add(ctx, userID, asset, qty)
}

func (s *Service) ReduceHolding(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error) {
	if asset == "" {
		return nil, fmt.Errorf("asset is required")
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("quantity must be greater than zero")
	}
	return s.store.Reduce(ctx, userID, asset, qty)
}

func (s *Service) ListHoldings(ctx context.Context, userID int64) ([]domain.Holding, error) {
	return s.store.List(ctx, userID)
}

// Valuation computes the portfolio's worth from whatever snapshots the
// cache currently holds. Assets without a usable snapshot are reported in
// Missing and excluded from the total; the valuation never waits on a
// live fetch.
func (s *Service) Valuation(ctx context.Context, userID int64) (*domain.PortfolioValuation, error) {
	holdings, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}

	v := &domain.PortfolioValuation{
		UserID:   userID,
		Currency: s.currency,
		Total:    decimal.Zero,
		AsOf:     s.now().UTC(),
	}
	for _, h := range holdings {
		if h.Quantity.IsZero() {
			continue
		}
		snap, ok := s.prices.Get(h.Asset)
		if !ok {
			v.Missing = append(v.Missing, h.Asset)
			continue
		}
		value := h.Quantity.Mul(snap.Price)
		v.Assets = append(v.Assets, domain.AssetValue{
			Asset:    h.Asset,
			Quantity: h.Quantity,
			Price:    snap.Price,
			Value:    value,
		})
		v.Total = v.Total.Add(value)
	}
	return v, nil
}
