package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

var (
	ErrInvalidAmount    = errors.New("amount must be a positive number")
	ErrInvalidAccount   = errors.New("invalid ledger account")
	ErrInvalidReference = errors.New("reference id is required")
)

type LedgerStore interface {
	RecordTransaction(ctx context.Context, txn storage.LedgerTransaction) (uuid.UUID, []storage.LedgerEntry, error)
	ListEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error)
	GetEntriesByReference(ctx context.Context, referenceID string) ([]storage.LedgerEntry, error)
	FinanceSummary(ctx context.Context) (*storage.FinanceSummary, error)
}

// LedgerService is the sole writer of financial history. Every movement of
// money becomes exactly one balanced debit/credit pair.
type LedgerService struct {
	store    LedgerStore
	logger   *slog.Logger
	metrics  *Metrics
	currency string
}

func NewLedgerService(store LedgerStore, logger *slog.Logger, metrics *Metrics, currency string) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "INR"
	}
	return &LedgerService{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		currency: currency,
	}
}

type RecordInput struct {
	Description    string
	Amount         decimal.Decimal
	Currency       string
	ReferenceID    string
	DebitAccount   storage.Account
	CreditAccount  storage.Account
	DebitHolderID  *uuid.UUID
	CreditHolderID *uuid.UUID
	Metadata       map[string]any
}

// Record validates the posting and commits the entry pair atomically.
// A failure means nothing was written; there is no partial state to clean up.
func (s *LedgerService) Record(ctx context.Context, input RecordInput) (uuid.UUID, error) {
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return uuid.Nil, ErrInvalidAmount
	}
	if !input.DebitAccount.Valid() || !input.CreditAccount.Valid() || input.DebitAccount == input.CreditAccount {
		return uuid.Nil, ErrInvalidAccount
	}
	if strings.TrimSpace(input.ReferenceID) == "" {
		return uuid.Nil, ErrInvalidReference
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}

	txnID, _, err := s.store.RecordTransaction(ctx, storage.LedgerTransaction{
		Description:    input.Description,
		Amount:         input.Amount,
		Currency:       currency,
		ReferenceID:    input.ReferenceID,
		DebitAccount:   input.DebitAccount,
		CreditAccount:  input.CreditAccount,
		DebitHolderID:  input.DebitHolderID,
		CreditHolderID: input.CreditHolderID,
		Metadata:       input.Metadata,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.LedgerWritesTotal.WithLabelValues("error").Inc()
		}
		s.logger.Error("ledger record failed", "reference_id", input.ReferenceID, "error", err)
		return uuid.Nil, err
	}

	if s.metrics != nil {
		s.metrics.LedgerWritesTotal.WithLabelValues("success").Inc()
	}
	return txnID, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error) {
	return s.store.ListEntries(ctx, limit)
}

func (s *LedgerService) EntriesByReference(ctx context.Context, referenceID string) ([]storage.LedgerEntry, error) {
	if strings.TrimSpace(referenceID) == "" {
		return nil, ErrInvalidReference
	}
	return s.store.GetEntriesByReference(ctx, referenceID)
}

func (s *LedgerService) FinanceSummary(ctx context.Context) (*storage.FinanceSummary, error) {
	return s.store.FinanceSummary(ctx)
}
