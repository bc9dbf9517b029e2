package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/coinwatch/internal/domain"
)

// Store is the append-only ledger. Append must reject duplicate entry ids
// with domain.ErrDuplicateEntry and refuse entries that would drive the
// balance negative with domain.ErrInsufficientBalance, atomically.
type Store interface {
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Entries(ctx context.Context, userID int64) ([]domain.LedgerEntry, error)
	Rebuild(ctx context.Context, userID int64) (decimal.Decimal, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Deposit credits a user's balance. It is the landing point for payment
// gateway webhooks, which retry: a replayed entry id is a silent no-op.
func (s *Service) Deposit(ctx context.Context, entryID string, userID int64, amount decimal.Decimal) error {
	return s.credit(ctx, entryID, userID, amount, domain.EntryDeposit)
}

// Refund credits a previously debited amount under its own entry id.
func (s *Service) Refund(ctx context.Context, entryID string, userID int64, amount decimal.Decimal) error {
	return s.credit(ctx, entryID, userID, amount, domain.EntryRefund)
}

func (s *Service) credit(ctx context.Context, entryID string, userID int64, amount decimal.Decimal, kind domain.EntryKind) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%s amount must be positive", kind)
	}
	entry := &domain.LedgerEntry{
		ID:     orGenerated(entryID),
		UserID: userID,
		Amount: amount,
		Kind:   kind,
	}
	err := s.store.Append(ctx, entry)
	if errors.Is(err, domain.ErrDuplicateEntry) {
		s.logger.Info("ledger entry replayed, ignoring",
			"entry", entry.ID, "user", userID, "kind", kind)
		return nil
	}
	if err != nil {
		return fmt.Errorf("append %s: %w", kind, err)
	}
	return nil
}

// Debit charges a user's balance. Insufficient balance surfaces to the
// caller and records nothing; a replayed entry id is a no-op.
func (s *Service) Debit(ctx context.Context, entryID string, userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit amount must be positive")
	}
	entry := &domain.LedgerEntry{
		ID:     orGenerated(entryID),
		UserID: userID,
		Amount: amount.Neg(),
		Kind:   domain.EntryDebit,
	}
	err := s.store.Append(ctx, entry)
	switch {
	case errors.Is(err, domain.ErrDuplicateEntry):
		s.logger.Info("ledger entry replayed, ignoring", "entry", entry.ID, "user", userID)
		return nil
	case errors.Is(err, domain.ErrInsufficientBalance):
		return err
	case err != nil:
		return fmt.Errorf("append debit: %w", err)
	}
	return nil
}

func (s *Service) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.store.Balance(ctx, userID)
}

func (s *Service) Entries(ctx context.Context, userID int64) ([]domain.LedgerEntry, error) {
	return s.store.Entries(ctx, userID)
}

// ReconcileBalance recomputes the balance projection from the entry log
// and returns the recomputed value. The log is ground truth; this is the
// operator's recovery path when the projection is suspect.
func (s *Service) ReconcileBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	balance, err := s.store.Rebuild(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rebuild balance: %w", err)
	}
	s.logger.Info("balance projection rebuilt", "user", userID, "balance", balance)
	return balance, nil
}

func orGenerated(entryID string) string {
	if entryID != "" {
		return entryID
	}
	return uuid.NewString()
}
