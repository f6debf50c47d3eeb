package service

import (
	"context"
	"strings"

	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

type AuditStore interface {
	InsertAuditAction(ctx context.Context, action storage.AuditAction) error
	ListAuditActions(ctx context.Context, limit int) ([]storage.AuditAction, error)
}

// AuditLog records privileged actions best-effort: a failed append is logged
// locally and swallowed so it can never abort the action it documents.
type AuditLog struct {
	store   AuditStore
	logger  *slog.Logger
	metrics *Metrics
}

func NewAuditLog(store AuditStore, logger *slog.Logger, metrics *Metrics) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

func (a *AuditLog) Append(ctx context.Context, action storage.AuditAction) {
	if !action.Action.Valid() {
		a.logger.Error("audit append dropped: unknown action kind", "action", string(action.Action))
		if a.metrics != nil {
			a.metrics.AuditWritesTotal.WithLabelValues("dropped").Inc()
		}
		return
	}
	if strings.TrimSpace(action.AdminID) == "" {
		a.logger.Error("audit append dropped: missing actor", "action", string(action.Action), "target_id", action.TargetID)
		if a.metrics != nil {
			a.metrics.AuditWritesTotal.WithLabelValues("dropped").Inc()
		}
		return
	}

	if err := a.store.InsertAuditAction(ctx, action); err != nil {
		// Deliberate: audit failures never propagate to the caller.
		a.logger.Error("audit append failed", "action", string(action.Action), "target_id", action.TargetID, "error", err)
		if a.metrics != nil {
			a.metrics.AuditWritesTotal.WithLabelValues("error").Inc()
		}
		return
	}
	if a.metrics != nil {
		a.metrics.AuditWritesTotal.WithLabelValues("success").Inc()
	}
}

func (a *AuditLog) List(ctx context.Context, limit int) ([]storage.AuditAction, error) {
	return a.store.ListAuditActions(ctx, limit)
}
