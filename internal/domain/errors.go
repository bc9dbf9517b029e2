package domain

import "errors"

var (
	// ErrRateLimited is returned by the price source adapter when the
	// provider throttles us; the scheduler extends its next tick instead
	// of retrying.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrDuplicateEntry marks a ledger append whose idempotency key was
	// already recorded. Callers treat it as a successful no-op.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientHolding = errors.New("insufficient holding quantity")

	// ErrPriceUnavailable means no fresh snapshot exists for an asset;
	// alerts and valuations skip the asset for the current tick.
	ErrPriceUnavailable = errors.New("price unavailable")

	ErrAlertNotFound = errors.New("alert not found")

	ErrFavoriteNotFound = errors.New("favorite not found")

	// ErrAlertNotActive is returned when a cancel or fire loses the race
	// against a concurrent transition out of the active state.
	ErrAlertNotActive = errors.New("alert is not active")
)
