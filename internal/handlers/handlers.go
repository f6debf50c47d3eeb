package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/swiftride/fincore/internal/auth"
	"github.com/swiftride/fincore/internal/risk"
	"github.com/swiftride/fincore/internal/service"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

type WalletService interface {
	Adjust(ctx context.Context, input service.AdjustmentInput) (*service.AdjustmentResult, error)
	Balance(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*storage.WalletHolder, error)
	Reconcile(ctx context.Context, kind storage.HolderKind, holderID uuid.UUID) (*service.ReconciliationReport, error)
}

type LedgerService interface {
	ListEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error)
	EntriesByReference(ctx context.Context, referenceID string) ([]storage.LedgerEntry, error)
	FinanceSummary(ctx context.Context) (*storage.FinanceSummary, error)
}

type AuditService interface {
	List(ctx context.Context, limit int) ([]storage.AuditAction, error)
}

type ModerationService interface {
	BlockUser(ctx context.Context, actor service.Actor, userID uuid.UUID, reason string) error
	UnblockUser(ctx context.Context, actor service.Actor, userID uuid.UUID, reason string) error
	SuspendDriver(ctx context.Context, actor service.Actor, driverID uuid.UUID, reason string) error
	ApproveDriver(ctx context.Context, actor service.Actor, driverID uuid.UUID, reason string) error
	DecideDocument(ctx context.Context, actor service.Actor, driverID uuid.UUID, document string, approve bool, reason string) error
}

type RiskService interface {
	Score(ctx context.Context, driverID uuid.UUID) (*risk.Analysis, error)
	Evaluate(ctx context.Context, driverID uuid.UUID) (*service.EvaluationResult, error)
}

type Handler struct {
	Wallets    WalletService
	Ledger     LedgerService
	Audit      AuditService
	Moderation ModerationService
	Risk       RiskService
	Logger     *slog.Logger
}

func New(wallets WalletService, ledger LedgerService, audit AuditService, moderation ModerationService, riskSvc RiskService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Wallets:    wallets,
		Ledger:     ledger,
		Audit:      audit,
		Moderation: moderation,
		Risk:       riskSvc,
		Logger:     logger,
	}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/", auth.Middleware(jwtSecret))
	group.POST("/wallets/:kind/:id/adjust", h.AdjustWallet)
	group.GET("/wallets/:kind/:id", h.GetWallet)
	group.GET("/wallets/:kind/:id/reconcile", h.ReconcileWallet)
	group.GET("/ledger/entries", h.ListEntries)
	group.GET("/ledger/entries/:reference", h.EntriesByReference)
	group.GET("/finance/summary", h.FinanceSummary)
	group.GET("/audit/actions", h.ListAuditActions)
	group.POST("/drivers/:id/status", h.SetDriverStatus)
	group.POST("/users/:id/status", h.SetUserStatus)
	group.POST("/drivers/:id/documents/:doc/decision", h.DecideDocument)
	group.GET("/drivers/:id/risk", h.DriverRisk)
	group.POST("/drivers/:id/risk/evaluate", h.EvaluateDriverRisk)
}

type adjustWalletRequest struct {
	Amount string `json:"amount"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type adjustWalletResponse struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    string `json:"new_balance"`
}

type walletResponse struct {
	HolderID string `json:"holder_id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Balance  string `json:"balance"`
}

type reconcileResponse struct {
	HolderID      string `json:"holder_id"`
	Kind          string `json:"kind"`
	WalletBalance string `json:"wallet_balance"`
	LedgerNet     string `json:"ledger_net"`
	Drift         string `json:"drift"`
	Consistent    bool   `json:"consistent"`
}

type entryItem struct {
	EntryID       string         `json:"entry_id"`
	TransactionID string         `json:"transaction_id"`
	Account       string         `json:"account"`
	HolderID      *string        `json:"holder_id,omitempty"`
	EntryType     string         `json:"entry_type"`
	Amount        string         `json:"amount"`
	Currency      string         `json:"currency"`
	Description   string         `json:"description,omitempty"`
	ReferenceID   string         `json:"reference_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

type auditItem struct {
	ID         string         `json:"id"`
	AdminID    string         `json:"admin_id"`
	AdminEmail string         `json:"admin_email,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	TargetName string         `json:"target_name,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) AdjustWallet(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing admin")
		return
	}
	kind, holderID, ok := holderParams(c)
	if !ok {
		return
	}

	var req adjustWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount")
		return
	}

	result, err := h.Wallets.Adjust(c.Request.Context(), service.AdjustmentInput{
		HolderID:  holderID,
		Kind:      kind,
		Amount:    amount,
		Direction: req.Type,
		Actor:     actor,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeWalletError(c, err, "adjust wallet failed")
		return
	}

	c.JSON(http.StatusOK, adjustWalletResponse{
		TransactionID: result.TransactionID.String(),
		NewBalance:    result.NewBalance.StringFixed(2),
	})
}

func (h *Handler) GetWallet(c *gin.Context) {
	kind, holderID, ok := holderParams(c)
	if !ok {
		return
	}

	holder, err := h.Wallets.Balance(c.Request.Context(), kind, holderID)
	if err != nil {
		h.writeWalletError(c, err, "get wallet failed")
		return
	}

	c.JSON(http.StatusOK, walletResponse{
		HolderID: holder.ID.String(),
		Kind:     string(holder.Kind),
		Name:     holder.Name,
		Status:   holder.Status,
		Balance:  holder.WalletBalance.StringFixed(2),
	})
}

func (h *Handler) ReconcileWallet(c *gin.Context) {
	kind, holderID, ok := holderParams(c)
	if !ok {
		return
	}

	report, err := h.Wallets.Reconcile(c.Request.Context(), kind, holderID)
	if err != nil {
		h.writeWalletError(c, err, "reconcile wallet failed")
		return
	}

	c.JSON(http.StatusOK, reconcileResponse{
		HolderID:      report.HolderID.String(),
		Kind:          string(report.Kind),
		WalletBalance: report.WalletBalance.StringFixed(2),
		LedgerNet:     report.LedgerNet.StringFixed(2),
		Drift:         report.Drift.StringFixed(2),
		Consistent:    report.Consistent,
	})
}

func (h *Handler) ListEntries(c *gin.Context) {
	limit, ok := limitQuery(c)
	if !ok {
		return
	}

	entries, err := h.Ledger.ListEntries(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("list ledger entries failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]entryItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entryToItem(entry))
	}
	c.JSON(http.StatusOK, gin.H{"entries": items})
}

func (h *Handler) EntriesByReference(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))

	entries, err := h.Ledger.EntriesByReference(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, service.ErrInvalidReference) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "reference id is required")
			return
		}
		h.Logger.Error("get entries by reference failed", "reference_id", reference, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]entryItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entryToItem(entry))
	}
	c.JSON(http.StatusOK, gin.H{"entries": items})
}

func (h *Handler) FinanceSummary(c *gin.Context) {
	summary, err := h.Ledger.FinanceSummary(c.Request.Context())
	if err != nil {
		h.Logger.Error("finance summary failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gross_fares":      summary.GrossFares.StringFixed(2),
		"commission":       summary.Commission.StringFixed(2),
		"settlement_count": summary.SettlementCount,
	})
}

func (h *Handler) ListAuditActions(c *gin.Context) {
	limit, ok := limitQuery(c)
	if !ok {
		return
	}

	actions, err := h.Audit.List(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("list audit actions failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]auditItem, 0, len(actions))
	for _, action := range actions {
		items = append(items, auditItem{
			ID:         action.ID.String(),
			AdminID:    action.AdminID,
			AdminEmail: action.AdminEmail,
			Action:     string(action.Action),
			TargetType: action.TargetType,
			TargetID:   action.TargetID,
			TargetName: action.TargetName,
			Reason:     action.Reason,
			Metadata:   action.Metadata,
			CreatedAt:  action.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"actions": items})
}

func (h *Handler) SetDriverStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing admin")
		return
	}
	driverID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid driver id")
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case service.DriverStatusSuspended:
		err = h.Moderation.SuspendDriver(c.Request.Context(), actor, driverID, strings.TrimSpace(req.Reason))
	case service.DriverStatusActive:
		err = h.Moderation.ApproveDriver(c.Request.Context(), actor, driverID, strings.TrimSpace(req.Reason))
	default:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "status must be active or suspended")
		return
	}
	if err != nil {
		h.writeModerationError(c, err, "set driver status failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": driverID.String(), "status": strings.ToLower(strings.TrimSpace(req.Status))})
}

func (h *Handler) SetUserStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing admin")
		return
	}
	userID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user id")
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case "blocked":
		err = h.Moderation.BlockUser(c.Request.Context(), actor, userID, strings.TrimSpace(req.Reason))
	case "active":
		err = h.Moderation.UnblockUser(c.Request.Context(), actor, userID, strings.TrimSpace(req.Reason))
	default:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "status must be active or blocked")
		return
	}
	if err != nil {
		h.writeModerationError(c, err, "set user status failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID.String(), "status": strings.ToLower(strings.TrimSpace(req.Status))})
}

func (h *Handler) DecideDocument(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing admin")
		return
	}
	driverID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid driver id")
		return
	}
	document := strings.ToLower(strings.TrimSpace(c.Param("doc")))

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	var approve bool
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "verify", "approve":
		approve = true
	case "reject":
		approve = false
	default:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "decision must be verify or reject")
		return
	}

	if err := h.Moderation.DecideDocument(c.Request.Context(), actor, driverID, document, approve, strings.TrimSpace(req.Reason)); err != nil {
		if errors.Is(err, storage.ErrUnknownDocument) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown document kind")
			return
		}
		h.writeModerationError(c, err, "document decision failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": driverID.String(), "document": document})
}

func (h *Handler) DriverRisk(c *gin.Context) {
	driverID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid driver id")
		return
	}

	analysis, err := h.Risk.Score(c.Request.Context(), driverID)
	if err != nil {
		h.writeModerationError(c, err, "driver risk score failed")
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *Handler) EvaluateDriverRisk(c *gin.Context) {
	driverID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid driver id")
		return
	}

	result, err := h.Risk.Evaluate(c.Request.Context(), driverID)
	if err != nil {
		h.writeModerationError(c, err, "driver risk evaluation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis":     result.Analysis,
		"action_taken": result.ActionTaken,
	})
}

func (h *Handler) writeWalletError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "amount must be a positive number")
	case errors.Is(err, storage.ErrHolderNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "wallet holder not found")
	case errors.Is(err, storage.ErrLedgerWriteFailed):
		h.Logger.Error(logMsg, "error", err)
		writeError(c, http.StatusInternalServerError, "LEDGER_WRITE_FAILED", "ledger write failed")
	case errors.Is(err, service.ErrInvalidDirection),
		errors.Is(err, service.ErrInvalidHolderKind),
		errors.Is(err, service.ErrMissingActor):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		h.Logger.Error(logMsg, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func (h *Handler) writeModerationError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, storage.ErrDriverNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "driver not found")
	case errors.Is(err, storage.ErrUserNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "user not found")
	case errors.Is(err, storage.ErrHolderNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, service.ErrMissingReason):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "a reason is required")
	default:
		h.Logger.Error(logMsg, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

func actorFromContext(c *gin.Context) (service.Actor, bool) {
	id, email, ok := auth.AdminFromContext(c)
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{ID: id, Email: email}, true
}

func holderParams(c *gin.Context) (storage.HolderKind, uuid.UUID, bool) {
	kind := storage.HolderKind(strings.ToLower(strings.TrimSpace(c.Param("kind"))))
	if !kind.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "kind must be user or driver")
		return "", uuid.Nil, false
	}
	holderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid holder id")
		return "", uuid.Nil, false
	}
	return kind, holderID, true
}

func limitQuery(c *gin.Context) (int, bool) {
	limitStr := strings.TrimSpace(c.Query("limit"))
	if limitStr == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
		return 0, false
	}
	return limit, true
}

func entryToItem(entry storage.LedgerEntry) entryItem {
	var holderID *string
	if entry.HolderID != nil {
		val := entry.HolderID.String()
		holderID = &val
	}
	return entryItem{
		EntryID:       entry.ID.String(),
		TransactionID: entry.TransactionID.String(),
		Account:       string(entry.Account),
		HolderID:      holderID,
		EntryType:     entry.EntryType,
		Amount:        entry.Amount.StringFixed(2),
		Currency:      entry.Currency,
		Description:   entry.Description,
		ReferenceID:   entry.ReferenceID,
		Metadata:      entry.Metadata,
		CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}
