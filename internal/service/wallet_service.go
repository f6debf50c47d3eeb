package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/swiftride/fincore/internal/events"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

const (
	DirectionRecharge = "recharge"
	DirectionDeduct   = "deduct"

	ledgerRecordedEventType = "ledger.recorded"
)

var (
	ErrInvalidDirection  = errors.New("direction must be recharge or deduct")
	ErrInvalidHolderKind = errors.New("invalid holder kind")
	ErrMissingActor      = errors.New("acting admin id is required")
)

// System identities used when the platform itself, not an operator, moves
// money or changes state.
var (
	SettlementActor = Actor{ID: "system_settlement", Email: "settlement@system.local"}
	AutomationActor = Actor{ID: "system_automation", Email: "automation@system.local"}
)

type Actor struct {
	ID    string
	Email string
}

type WalletStore interface {
	AdjustWallet(ctx context.Context, req storage.AdjustWalletRequest) (*storage.WalletAdjustmentResult, error)
	GetHolder(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*storage.WalletHolder, error)
	WalletLedgerNet(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (decimal.Decimal, error)
}

type AuditRecorder interface {
	Append(ctx context.Context, action storage.AuditAction)
}

// WalletService coordinates the balance write, the ledger pair, and the
// audit record for every wallet mutation. Balance and ledger commit in one
// transaction; the audit append runs after and is best-effort.
type WalletService struct {
	store             WalletStore
	audit             AuditRecorder
	publisher         events.Publisher
	ledgerTopic       string
	logger            *slog.Logger
	metrics           *Metrics
	currency          string
	commissionPercent decimal.Decimal
}

func NewWalletService(store WalletStore, audit AuditRecorder, publisher events.Publisher, ledgerTopic string, logger *slog.Logger, metrics *Metrics, currency string, commissionPercent decimal.Decimal) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "INR"
	}
	return &WalletService{
		store:             store,
		audit:             audit,
		publisher:         publisher,
		ledgerTopic:       ledgerTopic,
		logger:            logger,
		metrics:           metrics,
		currency:          currency,
		commissionPercent: commissionPercent,
	}
}

type AdjustmentInput struct {
	HolderID uuid.UUID
	Kind     storage.HolderKind
	Amount   decimal.Decimal
	// Direction is recharge or deduct. Deduction may take the balance
	// negative: dues are collected even when the wallet cannot cover them.
	Direction string
	Actor     Actor
	Reason    string
}

type AdjustmentResult struct {
	TransactionID uuid.UUID
	NewBalance    decimal.Decimal
}

func (s *WalletService) Adjust(ctx context.Context, input AdjustmentInput) (*AdjustmentResult, error) {
	direction := strings.ToLower(strings.TrimSpace(input.Direction))
	if direction != DirectionRecharge && direction != DirectionDeduct {
		return nil, ErrInvalidDirection
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHolderKind, input.Kind)
	}
	if strings.TrimSpace(input.Actor.ID) == "" {
		return nil, ErrMissingActor
	}

	start := time.Now()
	holder, err := s.store.GetHolder(ctx, input.Kind, input.HolderID)
	if err != nil {
		return nil, err
	}

	walletAccount := input.Kind.WalletAccount()
	holderID := holder.ID
	// The reference id is the holder, so the holder's full ledger history
	// is one lookup. The acting admin lives in the metadata and audit row.
	txn := storage.LedgerTransaction{
		Amount:      input.Amount,
		Currency:    s.currency,
		ReferenceID: holderID.String(),
		Metadata: map[string]any{
			"amount":   input.Amount.InexactFloat64(),
			"type":     direction,
			"admin_id": input.Actor.ID,
		},
	}
	delta := input.Amount
	if direction == DirectionRecharge {
		txn.Description = fmt.Sprintf("Admin recharge: %s", input.Amount.StringFixed(2))
		txn.DebitAccount = storage.AccountPlatformRevenue
		txn.CreditAccount = walletAccount
		txn.CreditHolderID = &holderID
	} else {
		txn.Description = fmt.Sprintf("Admin deduction: %s", input.Amount.StringFixed(2))
		txn.DebitAccount = walletAccount
		txn.DebitHolderID = &holderID
		txn.CreditAccount = storage.AccountPlatformRevenue
		delta = delta.Neg()
	}

	result, err := s.store.AdjustWallet(ctx, storage.AdjustWalletRequest{
		HolderID: holder.ID,
		Kind:     input.Kind,
		Delta:    delta,
		Txn:      txn,
	})
	if s.metrics != nil {
		s.metrics.AdjustmentDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.WalletAdjustmentsTotal.WithLabelValues(direction, "error").Inc()
		}
		return nil, err
	}

	if s.audit != nil {
		s.audit.Append(ctx, storage.AuditAction{
			AdminID:    input.Actor.ID,
			AdminEmail: input.Actor.Email,
			Action:     storage.ActionWalletAdjustment,
			TargetType: string(input.Kind),
			TargetID:   holder.ID.String(),
			TargetName: holder.Name,
			Reason:     input.Reason,
			Metadata: map[string]any{
				"amount":         input.Amount.InexactFloat64(),
				"type":           direction,
				"transaction_id": result.TransactionID.String(),
			},
		})
	}
	s.publishEntries(ctx, result.TransactionID, result.Entries)

	if s.metrics != nil {
		s.metrics.WalletAdjustmentsTotal.WithLabelValues(direction, "success").Inc()
	}
	s.logger.Info("wallet adjusted",
		"holder_id", holder.ID.String(),
		"kind", string(input.Kind),
		"direction", direction,
		"amount", input.Amount.String(),
		"new_balance", result.NewBalance.String(),
		"admin_id", input.Actor.ID,
	)
	return &AdjustmentResult{
		TransactionID: result.TransactionID,
		NewBalance:    result.NewBalance,
	}, nil
}

type RideSettlementInput struct {
	RideID   string
	DriverID uuid.UUID
	Fare     decimal.Decimal
	EventID  string
}

type RideSettlementResult struct {
	TransactionID    uuid.UUID
	Commission       decimal.Decimal
	NewBalance       decimal.Decimal
	AlreadyProcessed bool
}

// SettleRide collects the platform commission for a completed ride out of
// the driver wallet. The commission rate comes from configuration only; per
// event or per call-site overrides do not exist.
func (s *WalletService) SettleRide(ctx context.Context, input RideSettlementInput) (*RideSettlementResult, error) {
	if strings.TrimSpace(input.RideID) == "" {
		return nil, ErrInvalidReference
	}
	if input.Fare.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	commission := input.Fare.Mul(s.commissionPercent).Div(decimal.NewFromInt(100)).Round(2)
	if commission.LessThanOrEqual(decimal.Zero) {
		return &RideSettlementResult{Commission: decimal.Zero}, nil
	}

	eventID := input.EventID
	if eventID == "" {
		eventID = events.DeterministicEventID("ride", input.RideID)
	}

	driverID := input.DriverID
	result, err := s.store.AdjustWallet(ctx, storage.AdjustWalletRequest{
		HolderID: driverID,
		Kind:     storage.HolderDriver,
		Delta:    commission.Neg(),
		EventID:  eventID,
		Txn: storage.LedgerTransaction{
			Description:   fmt.Sprintf("Ride commission: %s", input.RideID),
			Amount:        commission,
			Currency:      s.currency,
			ReferenceID:   input.RideID,
			DebitAccount:  storage.AccountDriverWallet,
			DebitHolderID: &driverID,
			CreditAccount: storage.AccountPlatformRevenue,
			Metadata: map[string]any{
				"fare":    input.Fare.InexactFloat64(),
				"percent": s.commissionPercent.InexactFloat64(),
				"type":    "commission",
			},
		},
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RideSettlementsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if result.AlreadyProcessed {
		if s.metrics != nil {
			s.metrics.RideSettlementsTotal.WithLabelValues("duplicate").Inc()
		}
		return &RideSettlementResult{AlreadyProcessed: true}, nil
	}

	if s.audit != nil {
		s.audit.Append(ctx, storage.AuditAction{
			AdminID:    SettlementActor.ID,
			AdminEmail: SettlementActor.Email,
			Action:     storage.ActionWalletAdjustment,
			TargetType: string(storage.HolderDriver),
			TargetID:   input.DriverID.String(),
			Metadata: map[string]any{
				"amount":  commission.InexactFloat64(),
				"type":    DirectionDeduct,
				"ride_id": input.RideID,
			},
		})
	}
	s.publishEntries(ctx, result.TransactionID, result.Entries)

	if s.metrics != nil {
		s.metrics.RideSettlementsTotal.WithLabelValues("success").Inc()
	}
	return &RideSettlementResult{
		TransactionID: result.TransactionID,
		Commission:    commission,
		NewBalance:    result.NewBalance,
	}, nil
}

func (s *WalletService) Balance(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*storage.WalletHolder, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHolderKind, kind)
	}
	return s.store.GetHolder(ctx, kind, holderID)
}

type ReconciliationReport struct {
	HolderID      uuid.UUID
	Kind          storage.HolderKind
	WalletBalance decimal.Decimal
	LedgerNet     decimal.Decimal
	Drift         decimal.Decimal
	Consistent    bool
}

// Reconcile compares the denormalized balance against a fold over the
// holder's ledger entries. Any drift means a mutation bypassed the ledger.
func (s *WalletService) Reconcile(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*ReconciliationReport, error) {
	holder, err := s.store.GetHolder(ctx, kind, holderID)
	if err != nil {
		return nil, err
	}
	net, err := s.store.WalletLedgerNet(ctx, kind, holderID)
	if err != nil {
		return nil, err
	}

	drift := holder.WalletBalance.Sub(net)
	consistent := drift.IsZero()
	if s.metrics != nil {
		result := "consistent"
		if !consistent {
			result = "drift"
		}
		s.metrics.ReconciliationsTotal.WithLabelValues(result).Inc()
	}
	if !consistent {
		s.logger.Warn("wallet balance drifted from ledger",
			"holder_id", holderID.String(),
			"kind", string(kind),
			"balance", holder.WalletBalance.String(),
			"ledger_net", net.String(),
			"drift", drift.String(),
		)
	}
	return &ReconciliationReport{
		HolderID:      holderID,
		Kind:          kind,
		WalletBalance: holder.WalletBalance,
		LedgerNet:     net,
		Drift:         drift,
		Consistent:    consistent,
	}, nil
}

type ledgerRecordedEvent struct {
	events.Envelope
	TransactionID string             `json:"transaction_id"`
	Entries       []ledgerEntryEvent `json:"entries"`
}

type ledgerEntryEvent struct {
	EntryID     string `json:"entry_id"`
	Account     string `json:"account"`
	EntryType   string `json:"entry_type"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	ReferenceID string `json:"reference_id"`
	CreatedAt   string `json:"created_at"`
}

func (s *WalletService) publishEntries(ctx context.Context, txnID uuid.UUID, entries []storage.LedgerEntry) {
	if s.publisher == nil || s.ledgerTopic == "" || len(entries) == 0 {
		return
	}
	envelope, err := events.NewEnvelope(ledgerRecordedEventType, 1, txnID.String())
	if err != nil {
		s.logger.Error("build ledger event envelope failed", "error", err)
		return
	}
	event := ledgerRecordedEvent{
		Envelope:      envelope,
		TransactionID: txnID.String(),
	}
	for _, entry := range entries {
		event.Entries = append(event.Entries, ledgerEntryEvent{
			EntryID:     entry.ID.String(),
			Account:     string(entry.Account),
			EntryType:   entry.EntryType,
			Amount:      entry.Amount.String(),
			Currency:    entry.Currency,
			ReferenceID: entry.ReferenceID,
			CreatedAt:   entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.ledgerTopic, txnID.String(), event); err != nil {
		s.logger.Error("publish ledger event failed", "transaction_id", txnID.String(), "error", err)
	}
}
