package service

import (
	"context"
	"errors"
	"testing"

	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

type fakeAuditStore struct {
	inserted  []storage.AuditAction
	insertErr error
}

func (f *fakeAuditStore) InsertAuditAction(ctx context.Context, action storage.AuditAction) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, action)
	return nil
}

func (f *fakeAuditStore) ListAuditActions(ctx context.Context, limit int) ([]storage.AuditAction, error) {
	return f.inserted, nil
}

func TestAuditAppendSuccess(t *testing.T) {
	store := &fakeAuditStore{}
	log := NewAuditLog(store, slog.Default(), nil)

	log.Append(context.Background(), storage.AuditAction{
		AdminID: "admin-1",
		Action:  storage.ActionSuspendDriver,
	})
	if len(store.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(store.inserted))
	}
}

func TestAuditAppendSwallowsStoreFailure(t *testing.T) {
	store := &fakeAuditStore{insertErr: errors.New("connection refused")}
	log := NewAuditLog(store, slog.Default(), nil)

	// Must not panic and must not propagate: the mutation it documents
	// already committed.
	log.Append(context.Background(), storage.AuditAction{
		AdminID: "admin-1",
		Action:  storage.ActionBlockUser,
	})
}

func TestAuditAppendDropsInvalidKind(t *testing.T) {
	store := &fakeAuditStore{}
	log := NewAuditLog(store, slog.Default(), nil)

	log.Append(context.Background(), storage.AuditAction{
		AdminID: "admin-1",
		Action:  storage.ActionKind("format_disk"),
	})
	if len(store.inserted) != 0 {
		t.Fatal("unknown action kinds must not reach the store")
	}
}

func TestAuditAppendDropsMissingActor(t *testing.T) {
	store := &fakeAuditStore{}
	log := NewAuditLog(store, slog.Default(), nil)

	log.Append(context.Background(), storage.AuditAction{
		Action: storage.ActionBlockUser,
	})
	if len(store.inserted) != 0 {
		t.Fatal("actions without an actor must not reach the store")
	}
}
