package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

type fakeModerationStore struct {
	profile       *storage.DriverProfile
	profileErr    error
	holder        *storage.WalletHolder
	driverStatus  string
	driverReason  string
	userBlocked   *bool
	blockReason   string
	blockedBy     string
	documentCalls []string
}

func (f *fakeModerationStore) GetHolder(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*storage.WalletHolder, error) {
	if f.holder == nil {
		return nil, storage.ErrHolderNotFound
	}
	return f.holder, nil
}

func (f *fakeModerationStore) GetDriverProfile(ctx context.Context, driverID uuid.UUID) (*storage.DriverProfile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeModerationStore) SetDriverStatus(ctx context.Context, driverID uuid.UUID, status, reason string) error {
	f.driverStatus = status
	f.driverReason = reason
	return nil
}

func (f *fakeModerationStore) SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool, reason, blockedBy string) error {
	f.userBlocked = &blocked
	f.blockReason = reason
	f.blockedBy = blockedBy
	return nil
}

func (f *fakeModerationStore) SetDocumentStatus(ctx context.Context, driverID uuid.UUID, document, status, reason string) error {
	f.documentCalls = append(f.documentCalls, document+":"+status)
	return nil
}

func newModerationFixture(driverStatus string) (*fakeModerationStore, *fakeAudit, *fakePublisher, *ModerationService) {
	store := &fakeModerationStore{
		profile: &storage.DriverProfile{
			ID:     uuid.New(),
			Name:   "Ravi Kumar",
			Status: driverStatus,
		},
		holder: &storage.WalletHolder{
			ID:   uuid.New(),
			Kind: storage.HolderUser,
			Name: "Asha Patel",
		},
	}
	audit := &fakeAudit{}
	publisher := &fakePublisher{}
	svc := NewModerationService(store, audit, publisher, "drivers.suspended", slog.Default())
	return store, audit, publisher, svc
}

func TestSuspendDriverWritesAuditAndPublishes(t *testing.T) {
	store, audit, publisher, svc := newModerationFixture(DriverStatusActive)
	actor := Actor{ID: "admin-1", Email: "ops@swiftride.in"}

	if err := svc.SuspendDriver(context.Background(), actor, store.profile.ID, "fraud reports"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if store.driverStatus != DriverStatusSuspended || store.driverReason != "fraud reports" {
		t.Fatalf("unexpected stored status %s/%s", store.driverStatus, store.driverReason)
	}
	if len(audit.actions) != 1 || audit.actions[0].Action != storage.ActionSuspendDriver {
		t.Fatal("suspension must be audited")
	}
	if len(publisher.topics) != 1 || publisher.topics[0] != "drivers.suspended" {
		t.Fatalf("expected drivers.suspended publish, got %v", publisher.topics)
	}
}

func TestSuspendDriverRequiresReason(t *testing.T) {
	store, _, _, svc := newModerationFixture(DriverStatusActive)
	err := svc.SuspendDriver(context.Background(), Actor{ID: "admin-1"}, store.profile.ID, "  ")
	if !errors.Is(err, ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
}

func TestSuspendAlreadySuspendedIsNoOp(t *testing.T) {
	store, audit, publisher, svc := newModerationFixture(DriverStatusSuspended)

	if err := svc.SuspendDriver(context.Background(), Actor{ID: "admin-1"}, store.profile.ID, "dup"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if store.driverStatus != "" {
		t.Fatal("no second status write for an already suspended driver")
	}
	if len(audit.actions) != 0 || len(publisher.topics) != 0 {
		t.Fatal("no audit or event for a no-op suspension")
	}
}

func TestAutoSuspendUsesAutomationIdentity(t *testing.T) {
	store, audit, _, svc := newModerationFixture(DriverStatusActive)

	if err := svc.AutoSuspendDriver(context.Background(), store.profile.ID, "Automated: Auto-Suspend High Risk"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(audit.actions) != 1 || audit.actions[0].AdminID != AutomationActor.ID {
		t.Fatal("automated suspension must be attributed to the automation identity")
	}
}

func TestApproveDriverRestoresActive(t *testing.T) {
	store, audit, _, svc := newModerationFixture(DriverStatusSuspended)

	if err := svc.ApproveDriver(context.Background(), Actor{ID: "admin-1"}, store.profile.ID, "appeal accepted"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if store.driverStatus != DriverStatusActive {
		t.Fatalf("expected active, got %s", store.driverStatus)
	}
	if store.driverReason != "" {
		t.Fatal("approval must clear the suspension reason")
	}
	if len(audit.actions) != 1 || audit.actions[0].Action != storage.ActionApproveDriver {
		t.Fatal("approval must be audited")
	}
}

func TestBlockUserRequiresReason(t *testing.T) {
	store, _, _, svc := newModerationFixture(DriverStatusActive)
	err := svc.BlockUser(context.Background(), Actor{ID: "admin-1"}, store.holder.ID, "")
	if !errors.Is(err, ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
}

func TestBlockAndUnblockUser(t *testing.T) {
	store, audit, _, svc := newModerationFixture(DriverStatusActive)
	actor := Actor{ID: "admin-1"}

	if err := svc.BlockUser(context.Background(), actor, store.holder.ID, "chargeback abuse"); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if store.userBlocked == nil || !*store.userBlocked {
		t.Fatal("user must be blocked")
	}
	if store.blockReason != "chargeback abuse" || store.blockedBy != "admin-1" {
		t.Fatalf("unexpected block provenance %q/%q", store.blockReason, store.blockedBy)
	}
	if err := svc.UnblockUser(context.Background(), actor, store.holder.ID, "resolved"); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}
	if *store.userBlocked {
		t.Fatal("user must be unblocked")
	}
	if store.blockReason != "" || store.blockedBy != "" {
		t.Fatalf("unblock must clear block provenance, got %q/%q", store.blockReason, store.blockedBy)
	}
	if len(audit.actions) != 2 {
		t.Fatalf("expected two audit actions, got %d", len(audit.actions))
	}
	if audit.actions[0].Action != storage.ActionBlockUser || audit.actions[1].Action != storage.ActionUnblockUser {
		t.Fatalf("unexpected audit kinds %s, %s", audit.actions[0].Action, audit.actions[1].Action)
	}
}

func TestDecideDocumentVerify(t *testing.T) {
	store, audit, _, svc := newModerationFixture(DriverStatusActive)

	if err := svc.DecideDocument(context.Background(), Actor{ID: "admin-1"}, store.profile.ID, "license", true, ""); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(store.documentCalls) != 1 || store.documentCalls[0] != "license:verified" {
		t.Fatalf("unexpected document writes %v", store.documentCalls)
	}
	if audit.actions[0].Action != storage.ActionDocumentVerify {
		t.Fatalf("unexpected audit kind %s", audit.actions[0].Action)
	}
}

func TestDecideDocumentRejectRequiresReason(t *testing.T) {
	store, _, _, svc := newModerationFixture(DriverStatusActive)
	err := svc.DecideDocument(context.Background(), Actor{ID: "admin-1"}, store.profile.ID, "rc", false, "")
	if !errors.Is(err, ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
}

func TestDecideDocumentUnknownKind(t *testing.T) {
	store, _, _, svc := newModerationFixture(DriverStatusActive)
	err := svc.DecideDocument(context.Background(), Actor{ID: "admin-1"}, store.profile.ID, "passport", true, "")
	if !errors.Is(err, storage.ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}
}
