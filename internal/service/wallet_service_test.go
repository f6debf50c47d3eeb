package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/swiftride/fincore/internal/events"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

type fakeWalletStore struct {
	holder       *storage.WalletHolder
	holderErr    error
	balance      decimal.Decimal
	ledgerNet    decimal.Decimal
	lastReq      storage.AdjustWalletRequest
	adjustCalls  int
	adjustErr    error
	processedIDs map[string]bool
	getCalls     int
}

func (f *fakeWalletStore) AdjustWallet(ctx context.Context, req storage.AdjustWalletRequest) (*storage.WalletAdjustmentResult, error) {
	f.lastReq = req
	f.adjustCalls++
	if f.adjustErr != nil {
		return nil, f.adjustErr
	}
	if req.EventID != "" && f.processedIDs[req.EventID] {
		return &storage.WalletAdjustmentResult{AlreadyProcessed: true}, nil
	}
	if req.EventID != "" {
		if f.processedIDs == nil {
			f.processedIDs = map[string]bool{}
		}
		f.processedIDs[req.EventID] = true
	}
	f.balance = f.balance.Add(req.Delta)
	txnID := uuid.New()
	return &storage.WalletAdjustmentResult{
		TransactionID: txnID,
		NewBalance:    f.balance,
		Entries: []storage.LedgerEntry{
			{ID: uuid.New(), TransactionID: txnID, Account: req.Txn.DebitAccount, EntryType: storage.EntryDebit, Amount: req.Txn.Amount, Currency: req.Txn.Currency, ReferenceID: req.Txn.ReferenceID},
			{ID: uuid.New(), TransactionID: txnID, Account: req.Txn.CreditAccount, EntryType: storage.EntryCredit, Amount: req.Txn.Amount, Currency: req.Txn.Currency, ReferenceID: req.Txn.ReferenceID},
		},
	}, nil
}

func (f *fakeWalletStore) GetHolder(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*storage.WalletHolder, error) {
	f.getCalls++
	if f.holderErr != nil {
		return nil, f.holderErr
	}
	holder := *f.holder
	holder.WalletBalance = f.balance
	return &holder, nil
}

func (f *fakeWalletStore) WalletLedgerNet(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (decimal.Decimal, error) {
	return f.ledgerNet, nil
}

type fakeAudit struct {
	actions []storage.AuditAction
}

func (f *fakeAudit) Append(ctx context.Context, action storage.AuditAction) {
	f.actions = append(f.actions, action)
}

type fakePublisher struct {
	topics []string
	keys   []string
	err    error
}

func (f *fakePublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.topics = append(f.topics, topic)
	f.keys = append(f.keys, key)
	return 0, 0, nil
}

func (f *fakePublisher) Close() error { return nil }

func newWalletFixture(balance decimal.Decimal) (*fakeWalletStore, *fakeAudit, *fakePublisher, *WalletService) {
	driverID := uuid.New()
	store := &fakeWalletStore{
		holder: &storage.WalletHolder{
			ID:     driverID,
			Kind:   storage.HolderDriver,
			Name:   "Ravi Kumar",
			Status: "active",
		},
		balance: balance,
	}
	audit := &fakeAudit{}
	publisher := &fakePublisher{}
	svc := NewWalletService(store, audit, publisher, "ledger.recorded", slog.Default(), nil, "INR", decimal.NewFromInt(20))
	return store, audit, publisher, svc
}

func TestAdjustRejectsNonPositiveAmountBeforeIO(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.NewFromInt(100))

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-50)} {
		_, err := svc.Adjust(context.Background(), AdjustmentInput{
			HolderID:  store.holder.ID,
			Kind:      storage.HolderDriver,
			Amount:    amount,
			Direction: DirectionRecharge,
			Actor:     Actor{ID: "admin-1"},
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if store.getCalls != 0 || store.adjustCalls != 0 {
		t.Fatal("validation must happen before any store call")
	}
}

func TestAdjustRejectsUnknownDirection(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.NewFromInt(100))
	_, err := svc.Adjust(context.Background(), AdjustmentInput{
		HolderID:  store.holder.ID,
		Kind:      storage.HolderDriver,
		Amount:    decimal.NewFromInt(10),
		Direction: "withdraw",
		Actor:     Actor{ID: "admin-1"},
	})
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestAdjustRequiresActor(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.NewFromInt(100))
	_, err := svc.Adjust(context.Background(), AdjustmentInput{
		HolderID:  store.holder.ID,
		Kind:      storage.HolderDriver,
		Amount:    decimal.NewFromInt(10),
		Direction: DirectionRecharge,
	})
	if !errors.Is(err, ErrMissingActor) {
		t.Fatalf("expected ErrMissingActor, got %v", err)
	}
}

func TestAdjustRechargePostsPlatformToWallet(t *testing.T) {
	store, audit, publisher, svc := newWalletFixture(decimal.NewFromInt(100))

	result, err := svc.Adjust(context.Background(), AdjustmentInput{
		HolderID:  store.holder.ID,
		Kind:      storage.HolderDriver,
		Amount:    decimal.NewFromFloat(50.25),
		Direction: DirectionRecharge,
		Actor:     Actor{ID: "admin-1", Email: "ops@swiftride.in"},
		Reason:    "goodwill credit",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.NewBalance.Equal(decimal.NewFromFloat(150.25)) {
		t.Fatalf("expected balance 150.25, got %s", result.NewBalance)
	}

	req := store.lastReq
	if !req.Delta.Equal(decimal.NewFromFloat(50.25)) {
		t.Fatalf("expected positive delta, got %s", req.Delta)
	}
	if req.Txn.DebitAccount != storage.AccountPlatformRevenue || req.Txn.CreditAccount != storage.AccountDriverWallet {
		t.Fatalf("unexpected accounts %s -> %s", req.Txn.DebitAccount, req.Txn.CreditAccount)
	}
	if req.Txn.CreditHolderID == nil || *req.Txn.CreditHolderID != store.holder.ID {
		t.Fatal("credit entry must carry the holder id")
	}
	if req.Txn.DebitHolderID != nil {
		t.Fatal("platform side must not carry a holder id")
	}
	if req.Txn.ReferenceID != store.holder.ID.String() {
		t.Fatalf("ledger referenceId = %q, want holder id %q", req.Txn.ReferenceID, store.holder.ID)
	}
	if req.Txn.Metadata["admin_id"] != "admin-1" {
		t.Fatalf("expected admin id in transaction metadata, got %v", req.Txn.Metadata["admin_id"])
	}

	if len(audit.actions) != 1 {
		t.Fatalf("expected one audit action, got %d", len(audit.actions))
	}
	action := audit.actions[0]
	if action.Action != storage.ActionWalletAdjustment {
		t.Fatalf("unexpected audit action %s", action.Action)
	}
	if action.Metadata["type"] != DirectionRecharge {
		t.Fatalf("unexpected audit metadata type %v", action.Metadata["type"])
	}
	if len(publisher.topics) != 1 || publisher.topics[0] != "ledger.recorded" {
		t.Fatalf("expected one ledger.recorded publish, got %v", publisher.topics)
	}
}

func TestAdjustDeductReversesAccountsAndAllowsNegativeBalance(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.NewFromInt(30))

	result, err := svc.Adjust(context.Background(), AdjustmentInput{
		HolderID:  store.holder.ID,
		Kind:      storage.HolderDriver,
		Amount:    decimal.NewFromInt(100),
		Direction: DirectionDeduct,
		Actor:     Actor{ID: "admin-1"},
		Reason:    "pending dues",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.NewBalance.Equal(decimal.NewFromInt(-70)) {
		t.Fatalf("expected balance -70, got %s", result.NewBalance)
	}

	req := store.lastReq
	if !req.Delta.Equal(decimal.NewFromInt(-100)) {
		t.Fatalf("expected negative delta, got %s", req.Delta)
	}
	if req.Txn.DebitAccount != storage.AccountDriverWallet || req.Txn.CreditAccount != storage.AccountPlatformRevenue {
		t.Fatalf("unexpected accounts %s -> %s", req.Txn.DebitAccount, req.Txn.CreditAccount)
	}
	if req.Txn.DebitHolderID == nil || *req.Txn.DebitHolderID != store.holder.ID {
		t.Fatal("debit entry must carry the holder id")
	}
}

func TestAdjustSequentialSum(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.Zero)

	amounts := []int64{10, 25, 5}
	for _, amount := range amounts {
		if _, err := svc.Adjust(context.Background(), AdjustmentInput{
			HolderID:  store.holder.ID,
			Kind:      storage.HolderDriver,
			Amount:    decimal.NewFromInt(amount),
			Direction: DirectionRecharge,
			Actor:     Actor{ID: "admin-1"},
		}); err != nil {
			t.Fatalf("adjust %d failed: %v", amount, err)
		}
	}
	if _, err := svc.Adjust(context.Background(), AdjustmentInput{
		HolderID:  store.holder.ID,
		Kind:      storage.HolderDriver,
		Amount:    decimal.NewFromInt(15),
		Direction: DirectionDeduct,
		Actor:     Actor{ID: "admin-1"},
	}); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}

	if !store.balance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected final balance 25, got %s", store.balance)
	}
}

func TestAdjustHolderNotFound(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.Zero)
	store.holderErr = storage.ErrHolderNotFound

	_, err := svc.Adjust(context.Background(), AdjustmentInput{
		HolderID:  uuid.New(),
		Kind:      storage.HolderUser,
		Amount:    decimal.NewFromInt(10),
		Direction: DirectionRecharge,
		Actor:     Actor{ID: "admin-1"},
	})
	if !errors.Is(err, storage.ErrHolderNotFound) {
		t.Fatalf("expected ErrHolderNotFound, got %v", err)
	}
	if store.adjustCalls != 0 {
		t.Fatal("no adjustment should be attempted for a missing holder")
	}
}

func TestSettleRideCommission(t *testing.T) {
	store, audit, _, svc := newWalletFixture(decimal.NewFromInt(500))
	driverID := store.holder.ID

	result, err := svc.SettleRide(context.Background(), RideSettlementInput{
		RideID:   "ride-9001",
		DriverID: driverID,
		Fare:     decimal.NewFromFloat(123.45),
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.Commission.Equal(decimal.NewFromFloat(24.69)) {
		t.Fatalf("expected commission 24.69, got %s", result.Commission)
	}
	if !result.NewBalance.Equal(decimal.NewFromFloat(475.31)) {
		t.Fatalf("expected balance 475.31, got %s", result.NewBalance)
	}

	req := store.lastReq
	if req.EventID == "" {
		t.Fatal("settlement must carry a deterministic event id")
	}
	if req.Txn.ReferenceID != "ride-9001" {
		t.Fatalf("expected ride id reference, got %s", req.Txn.ReferenceID)
	}
	if req.Txn.DebitAccount != storage.AccountDriverWallet || req.Txn.CreditAccount != storage.AccountPlatformRevenue {
		t.Fatalf("unexpected accounts %s -> %s", req.Txn.DebitAccount, req.Txn.CreditAccount)
	}

	if len(audit.actions) != 1 || audit.actions[0].AdminID != SettlementActor.ID {
		t.Fatal("settlement must be audited under the settlement identity")
	}
}

func TestSettleRideReplayIsNoOp(t *testing.T) {
	store, _, publisher, svc := newWalletFixture(decimal.NewFromInt(500))
	input := RideSettlementInput{
		RideID:   "ride-9001",
		DriverID: store.holder.ID,
		Fare:     decimal.NewFromInt(100),
	}

	if _, err := svc.SettleRide(context.Background(), input); err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}
	result, err := svc.SettleRide(context.Background(), input)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatal("replay must report already processed")
	}
	if !store.balance.Equal(decimal.NewFromInt(480)) {
		t.Fatalf("balance must only move once, got %s", store.balance)
	}
	if len(publisher.topics) != 1 {
		t.Fatalf("replay must not publish again, got %d publishes", len(publisher.topics))
	}
}

func TestSettleRideRejectsNonPositiveFare(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.Zero)
	_, err := svc.SettleRide(context.Background(), RideSettlementInput{
		RideID:   "ride-1",
		DriverID: store.holder.ID,
		Fare:     decimal.Zero,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSettleRideZeroCommissionSkipsLedger(t *testing.T) {
	store := &fakeWalletStore{
		holder:  &storage.WalletHolder{ID: uuid.New(), Kind: storage.HolderDriver, Name: "x"},
		balance: decimal.NewFromInt(100),
	}
	svc := NewWalletService(store, nil, nil, "", slog.Default(), nil, "INR", decimal.Zero)

	result, err := svc.SettleRide(context.Background(), RideSettlementInput{
		RideID:   "ride-1",
		DriverID: store.holder.ID,
		Fare:     decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.Commission.IsZero() {
		t.Fatalf("expected zero commission, got %s", result.Commission)
	}
	if store.adjustCalls != 0 {
		t.Fatal("zero commission must not touch the ledger")
	}
}

func TestReconcileReportsDrift(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.NewFromInt(100))
	store.ledgerNet = decimal.NewFromInt(80)

	report, err := svc.Reconcile(context.Background(), storage.HolderDriver, store.holder.ID)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if report.Consistent {
		t.Fatal("expected a drift report")
	}
	if !report.Drift.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected drift 20, got %s", report.Drift)
	}
}

func TestReconcileConsistent(t *testing.T) {
	store, _, _, svc := newWalletFixture(decimal.NewFromInt(100))
	store.ledgerNet = decimal.NewFromInt(100)

	report, err := svc.Reconcile(context.Background(), storage.HolderDriver, store.holder.ID)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !report.Consistent || !report.Drift.IsZero() {
		t.Fatalf("expected a clean report, got drift %s", report.Drift)
	}
}

var _ events.Publisher = (*fakePublisher)(nil)
