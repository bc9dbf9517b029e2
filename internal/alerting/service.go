package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/coinwatch/internal/domain"
)

// Store is the durable alert collection. TryFire must be a
// compare-and-swap: exactly one caller over a rule's lifetime gets true.
type Store interface {
	Create(ctx context.Context, a *domain.AlertRule) error
	Cancel(ctx context.Context, id uuid.UUID, userID int64) error
	TryFire(ctx context.Context, id uuid.UUID, price decimal.Decimal, at time.Time) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AlertRule, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.AlertRule, error)
	ListActiveByAsset(ctx context.Context, asset domain.AssetID) ([]domain.AlertRule, error)
	ActiveAssets(ctx context.Context) ([]domain.AssetID, error)
}

// Prices reads the current snapshot for an asset, if any.
type Prices interface {
	Get(asset domain.AssetID) (*domain.PriceSnapshot, bool)
}

// Sink receives fired-alert notifications. Delivery is fire-and-forget
// from the engine's side.
type Sink interface {
	PublishAlert(ctx context.Context, n domain.Notification) error
}

type Service struct {
	store  Store
	prices Prices
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, prices Prices, sink Sink, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		prices: prices,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) CreateAlert(ctx context.Context, userID int64, asset domain.AssetID, direction domain.AlertDirection, target decimal.Decimal) (*domain.AlertRule, error) {
	if asset == "" {
		return nil, fmt.Errorf("asset is required")
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid direction: %s", direction)
	}
	if !target.IsPositive() {
		return nil, fmt.Errorf("target price must be greater than zero")
	}
	rule := &domain.AlertRule{
		UserID:      userID,
		Asset:       asset,
		Direction:   direction,
		TargetPrice: target,
	}
	if err := s.store.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	return rule, nil
}

func (s *Service) CancelAlert(ctx context.Context, userID int64, id uuid.UUID) error {
	return s.store.Cancel(ctx, id, userID)
}

func (s *Service) ListAlerts(ctx context.Context, userID int64) ([]domain.AlertRule, error) {
	return s.store.ListByUser(ctx, userID)
}

// GetAlert fetches one rule. Another user's rule reads as not found rather
// than forbidden, so ids cannot be enumerated across users.
func (s *Service) GetAlert(ctx context.Context, userID int64, id uuid.UUID) (*domain.AlertRule, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.UserID != userID {
		return nil, domain.ErrAlertNotFound
	}
	return rule, nil
}

// Result summarizes one evaluation pass.
type Result struct {
	Evaluated int
	Fired     int
	// Skipped lists assets with no usable snapshot this tick.
	Skipped []domain.AssetID
	// Errors counts per-rule failures that were isolated, not propagated.
	Errors int
}

// Evaluate runs all active rules for the given assets against the cached
// snapshots. Failures are isolated per asset and per rule; one bad rule or
// one missing price never stops the rest of the pass.
func (s *Service) Evaluate(ctx context.Context, assets []domain.AssetID) Result {
	var res Result
	for _, asset := range assets {
		snap, ok := s.prices.Get(asset)
		if !ok {
			res.Skipped = append(res.Skipped, asset)
			continue
		}
		rules, err := s.store.ListActiveByAsset(ctx, asset)
		if err != nil {
			s.logger.Error("listing active alerts failed", "asset", asset, "err", err)
			res.Errors++
			continue
		}
		for _, rule := range rules {
			res.Evaluated++
			if !rule.Direction.Crossed(snap.Price, rule.TargetPrice) {
				continue
			}
			if s.fire(ctx, rule, snap) {
				res.Fired++
			}
		}
	}
	return res
}

// fire attempts the one-shot transition and, on winning the CAS, emits the
// notification. A sink failure leaves the rule fired with no resend.
func (s *Service) fire(ctx context.Context, rule domain.AlertRule, snap *domain.PriceSnapshot) bool {
	firedAt := s.now().UTC()
	won, err := s.store.TryFire(ctx, rule.ID, snap.Price, firedAt)
	if err != nil {
		s.logger.Error("alert fire transition failed", "rule", rule.ID, "err", err)
		return false
	}
	if !won {
		// A concurrent evaluation or cancellation got there first.
		return false
	}
	n := domain.Notification{
		RuleID:      rule.ID,
		UserID:      rule.UserID,
		Asset:       rule.Asset,
		Direction:   rule.Direction,
		TargetPrice: rule.TargetPrice,
		ActualPrice: snap.Price,
		FiredAt:     firedAt,
	}
	if err := s.sink.PublishAlert(ctx, n); err != nil {
		s.logger.Error("alert notification delivery failed",
			"rule", rule.ID, "user", rule.UserID, "err", err)
	}
	return true
}
