package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/swiftride/fincore/internal/events"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

const (
	DriverStatusActive    = "active"
	DriverStatusSuspended = "suspended"

	DocumentLicense = "license"
	DocumentRC      = "rc"

	DocumentStatusVerified = "verified"
	DocumentStatusRejected = "rejected"

	driverSuspendedEventType = "driver.suspended"
)

var ErrMissingReason = fmt.Errorf("a reason is required for this action")

type ModerationStore interface {
	GetHolder(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*storage.WalletHolder, error)
	GetDriverProfile(ctx context.Context, driverID uuid.UUID) (*storage.DriverProfile, error)
	SetDriverStatus(ctx context.Context, driverID uuid.UUID, status, reason string) error
	SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool, reason, blockedBy string) error
	SetDocumentStatus(ctx context.Context, driverID uuid.UUID, document, status, reason string) error
}

// ModerationService applies status mutations to users and drivers. Every
// mutation writes an audit record; driver suspensions additionally publish
// an event so downstream systems can cancel assignments.
type ModerationService struct {
	store          ModerationStore
	audit          AuditRecorder
	publisher      events.Publisher
	suspendedTopic string
	logger         *slog.Logger
}

func NewModerationService(store ModerationStore, audit AuditRecorder, publisher events.Publisher, suspendedTopic string, logger *slog.Logger) *ModerationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModerationService{
		store:          store,
		audit:          audit,
		publisher:      publisher,
		suspendedTopic: suspendedTopic,
		logger:         logger,
	}
}

func (s *ModerationService) BlockUser(ctx context.Context, actor Actor, userID uuid.UUID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrMissingReason
	}
	holder, err := s.store.GetHolder(ctx, storage.HolderUser, userID)
	if err != nil {
		return err
	}
	if err := s.store.SetUserBlocked(ctx, userID, true, reason, actor.ID); err != nil {
		return err
	}
	s.appendAudit(ctx, actor, storage.ActionBlockUser, storage.HolderUser, userID, holder.Name, reason, nil)
	return nil
}

func (s *ModerationService) UnblockUser(ctx context.Context, actor Actor, userID uuid.UUID, reason string) error {
	holder, err := s.store.GetHolder(ctx, storage.HolderUser, userID)
	if err != nil {
		return err
	}
	if err := s.store.SetUserBlocked(ctx, userID, false, "", ""); err != nil {
		return err
	}
	s.appendAudit(ctx, actor, storage.ActionUnblockUser, storage.HolderUser, userID, holder.Name, reason, nil)
	return nil
}

func (s *ModerationService) SuspendDriver(ctx context.Context, actor Actor, driverID uuid.UUID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrMissingReason
	}
	profile, err := s.store.GetDriverProfile(ctx, driverID)
	if err != nil {
		return err
	}
	if profile.Status == DriverStatusSuspended {
		// Already suspended: no state change, no duplicate audit row.
		return nil
	}
	if err := s.store.SetDriverStatus(ctx, driverID, DriverStatusSuspended, reason); err != nil {
		return err
	}
	s.appendAudit(ctx, actor, storage.ActionSuspendDriver, storage.HolderDriver, driverID, profile.Name, reason, nil)
	s.publishSuspension(ctx, driverID, actor, reason)
	s.logger.Info("driver suspended",
		"driver_id", driverID.String(),
		"admin_id", actor.ID,
		"reason", reason,
	)
	return nil
}

func (s *ModerationService) ApproveDriver(ctx context.Context, actor Actor, driverID uuid.UUID, reason string) error {
	profile, err := s.store.GetDriverProfile(ctx, driverID)
	if err != nil {
		return err
	}
	if err := s.store.SetDriverStatus(ctx, driverID, DriverStatusActive, ""); err != nil {
		return err
	}
	s.appendAudit(ctx, actor, storage.ActionApproveDriver, storage.HolderDriver, driverID, profile.Name, reason, nil)
	return nil
}

// AutoSuspendDriver is the entry point for automated enforcement. The actor
// is the automation identity so audit queries can tell machine actions from
// operator actions.
func (s *ModerationService) AutoSuspendDriver(ctx context.Context, driverID uuid.UUID, reason string) error {
	return s.SuspendDriver(ctx, AutomationActor, driverID, reason)
}

func (s *ModerationService) DecideDocument(ctx context.Context, actor Actor, driverID uuid.UUID, document string, approve bool, reason string) error {
	document = strings.ToLower(strings.TrimSpace(document))
	if document != DocumentLicense && document != DocumentRC {
		return storage.ErrUnknownDocument
	}
	if !approve && strings.TrimSpace(reason) == "" {
		return ErrMissingReason
	}
	profile, err := s.store.GetDriverProfile(ctx, driverID)
	if err != nil {
		return err
	}

	status := DocumentStatusVerified
	action := storage.ActionDocumentVerify
	if !approve {
		status = DocumentStatusRejected
		action = storage.ActionDocumentReject
	}
	if err := s.store.SetDocumentStatus(ctx, driverID, document, status, reason); err != nil {
		return err
	}
	s.appendAudit(ctx, actor, action, storage.HolderDriver, driverID, profile.Name, reason, map[string]any{
		"document": document,
	})
	return nil
}

func (s *ModerationService) appendAudit(ctx context.Context, actor Actor, action storage.ActionKind, kind storage.HolderKind, targetID uuid.UUID, targetName, reason string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Append(ctx, storage.AuditAction{
		AdminID:    actor.ID,
		AdminEmail: actor.Email,
		Action:     action,
		TargetType: string(kind),
		TargetID:   targetID.String(),
		TargetName: targetName,
		Reason:     reason,
		Metadata:   metadata,
	})
}

type driverSuspendedEvent struct {
	events.Envelope
	DriverID string `json:"driver_id"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actor_id"`
}

func (s *ModerationService) publishSuspension(ctx context.Context, driverID uuid.UUID, actor Actor, reason string) {
	if s.publisher == nil || s.suspendedTopic == "" {
		return
	}
	envelope, err := events.NewEnvelope(driverSuspendedEventType, 1, driverID.String())
	if err != nil {
		s.logger.Error("build suspension event envelope failed", "error", err)
		return
	}
	event := driverSuspendedEvent{
		Envelope: envelope,
		DriverID: driverID.String(),
		Reason:   reason,
		ActorID:  actor.ID,
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.suspendedTopic, driverID.String(), event); err != nil {
		s.logger.Error("publish suspension event failed", "driver_id", driverID.String(), "error", err)
	}
}
