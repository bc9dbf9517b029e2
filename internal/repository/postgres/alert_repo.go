package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/yourorg/coinwatch/internal/domain"
)

type AlertRepo struct {
	db *sqlx.DB
}

func NewAlertRepo(db *sqlx.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

func (r *AlertRepo) Create(ctx context.Context, a *domain.AlertRule) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.State = domain.AlertActive
	query := `
		INSERT INTO alerts (id, user_id, asset_id, direction, target_price, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	return r.db.QueryRowContext(ctx, query,
		a.ID, a.UserID, a.Asset, a.Direction, a.TargetPrice, a.State).
		Scan(&a.CreatedAt)
}

// Cancel moves a rule from active to cancelled. Losing the race against a
// concurrent fire (or a repeated cancel) yields ErrAlertNotActive; a rule
// the user never owned yields ErrAlertNotFound.
func (r *AlertRepo) Cancel(ctx context.Context, id uuid.UUID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET state = $1
		WHERE id = $2 AND user_id = $3 AND state = $4`,
		domain.AlertCancelled, id, userID, domain.AlertActive)
	if err != nil {
		return fmt.Errorf("cancel alert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	var exists bool
	err = r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1 AND user_id = $2)`, id, userID)
	if err != nil {
		return fmt.Errorf("check alert exists: %w", err)
	}
	if !exists {
		return domain.ErrAlertNotFound
	}
	return domain.ErrAlertNotActive
}

// TryFire is the compare-and-swap on rule state: it succeeds for exactly one
// caller over the rule's lifetime, no matter how many evaluations overlap.
func (r *AlertRepo) TryFire(ctx context.Context, id uuid.UUID, price decimal.Decimal, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts
		SET state = $1, fired_at = $2, fired_price = $3
		WHERE id = $4 AND state = $5`,
		domain.AlertFired, at, price, id, domain.AlertActive)
	if err != nil {
		return false, fmt.Errorf("fire alert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *AlertRepo) ListByUser(ctx context.Context, userID int64) ([]domain.AlertRule, error) {
	var alerts []domain.AlertRule
	err := r.db.SelectContext(ctx, &alerts, `
		SELECT * FROM alerts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

func (r *AlertRepo) ListActiveByAsset(ctx context.Context, asset domain.AssetID) ([]domain.AlertRule, error) {
	var alerts []domain.AlertRule
	err := r.db.SelectContext(ctx, &alerts, `
		SELECT * FROM alerts WHERE asset_id = $1 AND state = $2 ORDER BY created_at`,
		asset, domain.AlertActive)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return alerts, nil
}

func (r *AlertRepo) ActiveAssets(ctx context.Context) ([]domain.AssetID, error) {
	var assets []domain.AssetID
	err := r.db.SelectContext(ctx, &assets, `
		SELECT DISTINCT asset_id FROM alerts WHERE state = $1 ORDER BY asset_id`,
		domain.AlertActive)
	if err != nil {
		return nil, fmt.Errorf("active alert assets: %w", err)
	}
	return assets, nil
}

func (r *AlertRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.AlertRule, error) {
	var a domain.AlertRule
	err := r.db.GetContext(ctx, &a, `SELECT * FROM alerts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}
