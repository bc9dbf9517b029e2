package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AssetID is the provider-level coin identifier (e.g. "bitcoin"),
// always stored lowercased.
type AssetID string

func NormalizeAsset(s string) AssetID {
	return AssetID(strings.ToLower(strings.TrimSpace(s)))
}

// PriceSnapshot is an immutable point-in-time price for one asset.
// Snapshots are replaced, never mutated.
type PriceSnapshot struct {
	Asset     AssetID         `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type AlertDirection string

const (
	DirectionAbove AlertDirection = "above"
	DirectionBelow AlertDirection = "below"
)

func (d AlertDirection) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Crossed reports whether price satisfies the threshold, boundary
// inclusive: an ABOVE alert at 100 fires at exactly 100.00.
func (d AlertDirection) Crossed(price, target decimal.Decimal) bool {
	switch d {
	case DirectionAbove:
		return price.GreaterThanOrEqual(target)
	case DirectionBelow:
		return price.LessThanOrEqual(target)
	}
	return false
}

type AlertState string

const (
	AlertActive    AlertState = "active"
	AlertFired     AlertState = "fired"
	AlertCancelled AlertState = "cancelled"
)

// AlertRule transitions active->fired exactly once, or active->cancelled.
// Both terminal states are retained for history rather than deleted.
type AlertRule struct {
	ID          uuid.UUID           `db:"id"           json:"id"`
	UserID      int64               `db:"user_id"      json:"user_id"`
	Asset       AssetID             `db:"asset_id"     json:"asset"`
	Direction   AlertDirection      `db:"direction"    json:"direction"`
	TargetPrice decimal.Decimal     `db:"target_price" json:"target_price"`
	State       AlertState          `db:"state"        json:"state"`
	CreatedAt   time.Time           `db:"created_at"   json:"created_at"`
	FiredAt     *time.Time          `db:"fired_at"     json:"fired_at,omitempty"`
	FiredPrice  decimal.NullDecimal `db:"fired_price"  json:"fired_price,omitempty"`
}

type EntryKind string

const (
	EntryDeposit EntryKind = "deposit"
	EntryDebit   EntryKind = "debit"
	EntryRefund  EntryKind = "refund"
)

// LedgerEntry is one append-only balance event. ID is the caller-supplied
// idempotency key; replaying the same ID is a no-op.
type LedgerEntry struct {
	ID         string          `db:"id"          json:"id"`
	UserID     int64           `db:"user_id"     json:"user_id"`
	Amount     decimal.Decimal `db:"amount"      json:"amount"`
	Kind       EntryKind       `db:"kind"        json:"kind"`
	RecordedAt time.Time       `db:"recorded_at" json:"recorded_at"`
}

type Holding struct {
	UserID    int64           `db:"user_id"    json:"user_id"`
	Asset     AssetID         `db:"asset_id"   json:"asset"`
	Quantity  decimal.Decimal `db:"quantity"   json:"quantity"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Notification is the payload pushed to the bot front-end when a rule fires.
type Notification struct {
	RuleID      uuid.UUID       `json:"rule_id"`
	UserID      int64           `json:"user_id"`
	Asset       AssetID         `json:"asset"`
	Direction   AlertDirection  `json:"direction"`
	TargetPrice decimal.Decimal `json:"target_price"`
	ActualPrice decimal.Decimal `json:"actual_price"`
	FiredAt     time.Time       `json:"fired_at"`
}

type AssetValue struct {
	Asset    AssetID         `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

// PortfolioValuation is derived on demand from holdings and whatever
// snapshots the cache currently holds; it never waits on a live fetch.
// Assets with no usable snapshot are listed in Missing.
type PortfolioValuation struct {
	UserID   int64           `json:"user_id"`
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Assets   []AssetValue    `json:"assets"`
	Missing  []AssetID       `json:"missing,omitempty"`
	AsOf     time.Time       `json:"as_of"`
}
