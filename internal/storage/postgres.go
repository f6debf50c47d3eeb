package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const settlementEventPrefix = "settlement:"

var (
	ErrHolderNotFound    = errors.New("wallet holder not found")
	ErrLedgerWriteFailed = errors.New("ledger write failed")
	ErrDriverNotFound    = errors.New("driver not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrUnknownDocument   = errors.New("unknown document kind")
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// RecordTransaction persists a balanced debit/credit pair as one atomic
// commit. Either both entries become visible or neither does.
func (s *Store) RecordTransaction(ctx context.Context, txn LedgerTransaction) (uuid.UUID, []LedgerEntry, error) {
	if err := validateTransaction(txn); err != nil {
		return uuid.Nil, nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: begin: %v", ErrLedgerWriteFailed, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	txnID := uuid.New()
	entries, err := insertEntryPair(ctx, tx, txnID, txn, time.Now().UTC())
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: commit: %v", ErrLedgerWriteFailed, err)
	}
	committed = true
	return txnID, entries, nil
}

// AdjustWalletRequest mutates a holder balance and posts the matching ledger
// pair in the same transaction. Delta is signed: positive for recharge,
// negative for deduction. EventID, when set, makes the adjustment idempotent
// against replays.
type AdjustWalletRequest struct {
	HolderID uuid.UUID
	Kind     HolderKind
	Delta    decimal.Decimal
	Txn      LedgerTransaction
	EventID  string
}

func (s *Store) AdjustWallet(ctx context.Context, req AdjustWalletRequest) (*WalletAdjustmentResult, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("invalid holder kind %q", req.Kind)
	}
	if req.Delta.IsZero() {
		return nil, fmt.Errorf("delta must be non-zero")
	}
	if err := validateTransaction(req.Txn); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrLedgerWriteFailed, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if req.EventID != "" {
		// Serialize replays of the same upstream event.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, req.EventID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
		}
		processed, err := s.isEventProcessed(ctx, tx, req.EventID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
		}
		if processed {
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("%w: commit: %v", ErrLedgerWriteFailed, err)
			}
			committed = true
			return &WalletAdjustmentResult{AlreadyProcessed: true}, nil
		}
	}

	// Server-side atomic increment. Concurrent adjustments on the same
	// holder serialize on the row; no read-then-write window exists.
	table, err := holderTable(req.Kind)
	if err != nil {
		return nil, err
	}
	var balanceStr string
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s
		SET wallet_balance = wallet_balance + $1, updated_at = $2
		WHERE id = $3
		RETURNING wallet_balance::text
	`, table), req.Delta.String(), time.Now().UTC(), req.HolderID)
	if err := row.Scan(&balanceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHolderNotFound
		}
		return nil, fmt.Errorf("%w: balance update: %v", ErrLedgerWriteFailed, err)
	}
	newBalance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("parse wallet balance: %w", err)
	}

	txnID := uuid.New()
	entries, err := insertEntryPair(ctx, tx, txnID, req.Txn, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}

	if req.EventID != "" {
		if err := s.markEventProcessed(ctx, tx, req.EventID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrLedgerWriteFailed, err)
	}
	committed = true

	return &WalletAdjustmentResult{
		TransactionID: txnID,
		NewBalance:    newBalance,
		Entries:       entries,
	}, nil
}

func insertEntryPair(ctx context.Context, tx pgx.Tx, txnID uuid.UUID, txn LedgerTransaction, now time.Time) ([]LedgerEntry, error) {
	metadata, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return nil, err
	}

	entries := []LedgerEntry{
		{
			ID:            uuid.New(),
			TransactionID: txnID,
			Account:       txn.DebitAccount,
			HolderID:      txn.DebitHolderID,
			EntryType:     EntryDebit,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			Description:   txn.Description,
			ReferenceID:   txn.ReferenceID,
			Metadata:      txn.Metadata,
			CreatedAt:     now,
		},
		{
			ID:            uuid.New(),
			TransactionID: txnID,
			Account:       txn.CreditAccount,
			HolderID:      txn.CreditHolderID,
			EntryType:     EntryCredit,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			Description:   txn.Description,
			ReferenceID:   txn.ReferenceID,
			Metadata:      txn.Metadata,
			CreatedAt:     now,
		},
	}

	for _, entry := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, account, holder_id, entry_type, amount, currency, description, reference_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, entry.ID, entry.TransactionID, string(entry.Account), entry.HolderID, entry.EntryType,
			entry.Amount.String(), entry.Currency, entry.Description, entry.ReferenceID, metadata, entry.CreatedAt); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func validateTransaction(txn LedgerTransaction) error {
	if !txn.DebitAccount.Valid() {
		return fmt.Errorf("invalid debit account %q", txn.DebitAccount)
	}
	if !txn.CreditAccount.Valid() {
		return fmt.Errorf("invalid credit account %q", txn.CreditAccount)
	}
	if txn.DebitAccount == txn.CreditAccount {
		return fmt.Errorf("debit and credit accounts must differ")
	}
	if txn.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive")
	}
	if strings.TrimSpace(txn.ReferenceID) == "" {
		return fmt.Errorf("reference_id is required")
	}
	if strings.TrimSpace(txn.Currency) == "" {
		return fmt.Errorf("currency is required")
	}
	return nil
}

func (s *Store) GetHolder(ctx context.Context, kind HolderKind, holderID uuid.UUID) (*WalletHolder, error) {
	table, err := holderTable(kind)
	if err != nil {
		return nil, err
	}
	var holder WalletHolder
	var balanceStr string
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, name, email, status, wallet_balance::text
		FROM %s
		WHERE id = $1
	`, table), holderID)
	if err := row.Scan(&holder.ID, &holder.Name, &holder.Email, &holder.Status, &balanceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHolderNotFound
		}
		return nil, err
	}
	holder.Kind = kind
	holder.WalletBalance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("parse wallet balance: %w", err)
	}
	return &holder, nil
}

// WalletLedgerNet folds that holder's wallet entries: credits minus debits.
// Used to detect drift between the denormalized balance and the ledger.
func (s *Store) WalletLedgerNet(ctx context.Context, kind HolderKind, holderID uuid.UUID) (decimal.Decimal, error) {
	var netStr string
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'credit' THEN amount ELSE -amount END), 0)::text
		FROM ledger_entries
		WHERE account = $1 AND holder_id = $2
	`, string(kind.WalletAccount()), holderID)
	if err := row.Scan(&netStr); err != nil {
		return decimal.Zero, err
	}
	net, err := decimal.NewFromString(netStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ledger net: %w", err)
	}
	return net, nil
}

func (s *Store) ListEntries(ctx context.Context, limit int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, account, holder_id, entry_type, amount::text, currency, description, reference_id, metadata, created_at
		FROM ledger_entries
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) GetEntriesByReference(ctx context.Context, referenceID string) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, account, holder_id, entry_type, amount::text, currency, description, reference_id, metadata, created_at
		FROM ledger_entries
		WHERE reference_id = $1
		ORDER BY created_at ASC
	`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) FinanceSummary(ctx context.Context) (*FinanceSummary, error) {
	var grossStr, commissionStr string
	var count int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM((metadata->>'fare')::numeric), 0)::text,
		       COALESCE(SUM(amount), 0)::text,
		       COUNT(*)
		FROM ledger_entries
		WHERE account = $1 AND entry_type = 'credit' AND metadata ? 'fare'
	`, string(AccountPlatformRevenue))
	if err := row.Scan(&grossStr, &commissionStr, &count); err != nil {
		return nil, err
	}

	gross, err := decimal.NewFromString(grossStr)
	if err != nil {
		return nil, fmt.Errorf("parse gross fares: %w", err)
	}
	commission, err := decimal.NewFromString(commissionStr)
	if err != nil {
		return nil, fmt.Errorf("parse commission: %w", err)
	}
	return &FinanceSummary{
		GrossFares:      gross,
		Commission:      commission,
		SettlementCount: count,
	}, nil
}

func (s *Store) InsertAuditAction(ctx context.Context, action AuditAction) error {
	metadata, err := marshalMetadata(action.Metadata)
	if err != nil {
		return err
	}
	id := action.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := action.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_actions (id, admin_id, admin_email, action, target_type, target_id, target_name, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id, action.AdminID, action.AdminEmail, string(action.Action), action.TargetType,
		action.TargetID, action.TargetName, nullableString(action.Reason), metadata, createdAt)
	if err != nil && isUniqueViolation(err) {
		// Same action id appended twice; the record is already there.
		return nil
	}
	return err
}

func (s *Store) ListAuditActions(ctx context.Context, limit int) ([]AuditAction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, admin_id, admin_email, action, target_type, target_id, target_name, reason, metadata, created_at
		FROM audit_actions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []AuditAction
	for rows.Next() {
		var action AuditAction
		var kind string
		var reason *string
		var metadata []byte
		if err := rows.Scan(&action.ID, &action.AdminID, &action.AdminEmail, &kind, &action.TargetType,
			&action.TargetID, &action.TargetName, &reason, &metadata, &action.CreatedAt); err != nil {
			return nil, err
		}
		action.Action = ActionKind(kind)
		if reason != nil {
			action.Reason = *reason
		}
		if err := unmarshalMetadata(metadata, &action.Metadata); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return actions, nil
}

func (s *Store) GetDriverProfile(ctx context.Context, driverID uuid.UUID) (*DriverProfile, error) {
	var profile DriverProfile
	var suspensionReason, licenseStatus, rcStatus *string
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, status, COALESCE(rating, 0), suspension_reason, license_status, rc_status, updated_at
		FROM drivers
		WHERE id = $1
	`, driverID)
	if err := row.Scan(&profile.ID, &profile.Name, &profile.Email, &profile.Status, &profile.Rating,
		&suspensionReason, &licenseStatus, &rcStatus, &profile.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDriverNotFound
		}
		return nil, err
	}
	if suspensionReason != nil {
		profile.SuspensionReason = *suspensionReason
	}
	if licenseStatus != nil {
		profile.LicenseStatus = *licenseStatus
	}
	if rcStatus != nil {
		profile.RCStatus = *rcStatus
	}
	return &profile, nil
}

func (s *Store) SetDriverStatus(ctx context.Context, driverID uuid.UUID, status, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE drivers
		SET status = $1, suspension_reason = $2, updated_at = $3
		WHERE id = $4
	`, status, nullableString(reason), time.Now().UTC(), driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDriverNotFound
	}
	return nil
}

func (s *Store) SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool, reason, blockedBy string) error {
	status := "active"
	if blocked {
		status = "blocked"
	} else {
		// An active user carries no block provenance.
		reason = ""
		blockedBy = ""
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET status = $1, blocked_reason = $2, blocked_by = $3, updated_at = $4
		WHERE id = $5
	`, status, nullableString(reason), nullableString(blockedBy), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetDocumentStatus records a verification decision on a driver document.
// The document name resolves to a fixed column pair; anything else is
// rejected rather than interpolated.
func (s *Store) SetDocumentStatus(ctx context.Context, driverID uuid.UUID, document, status, reason string) error {
	var statusCol, reasonCol string
	switch document {
	case "license":
		statusCol, reasonCol = "license_status", "license_rejection_reason"
	case "rc":
		statusCol, reasonCol = "rc_status", "rc_rejection_reason"
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDocument, document)
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE drivers
		SET %s = $1, %s = $2, updated_at = $3
		WHERE id = $4
	`, statusCol, reasonCol), status, nullableString(reason), time.Now().UTC(), driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDriverNotFound
	}
	return nil
}

func (s *Store) GetDriverMetrics(ctx context.Context, driverID uuid.UUID) (*DriverMetrics, error) {
	var metrics DriverMetrics
	row := s.pool.QueryRow(ctx, `
		SELECT driver_id, completed_rides, cancelled_rides, report_count, updated_at
		FROM driver_metrics
		WHERE driver_id = $1
	`, driverID)
	if err := row.Scan(&metrics.DriverID, &metrics.CompletedRides, &metrics.CancelledRides, &metrics.ReportCount, &metrics.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &DriverMetrics{DriverID: driverID}, nil
		}
		return nil, err
	}
	return &metrics, nil
}

// RecordRideOutcome bumps the per-driver ride counters the risk engine feeds
// on. Upsert keeps the consumer free of read-then-write races.
func (s *Store) RecordRideOutcome(ctx context.Context, driverID uuid.UUID, completed bool) error {
	completedDelta := 0
	cancelledDelta := 0
	if completed {
		completedDelta = 1
	} else {
		cancelledDelta = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO driver_metrics (driver_id, completed_rides, cancelled_rides, report_count, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (driver_id) DO UPDATE
		SET completed_rides = driver_metrics.completed_rides + EXCLUDED.completed_rides,
		    cancelled_rides = driver_metrics.cancelled_rides + EXCLUDED.cancelled_rides,
		    updated_at = EXCLUDED.updated_at
	`, driverID, completedDelta, cancelledDelta, time.Now().UTC())
	return err
}

func (s *Store) isEventProcessed(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	keys := settlementEventKeys(eventID)
	if len(keys) == 0 {
		return false, nil
	}
	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events WHERE event_id = ANY($1::text[])
		)
	`, keys)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) markEventProcessed(ctx context.Context, tx pgx.Tx, eventID string) error {
	keys := settlementEventKeys(eventID)
	if len(keys) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id)
		SELECT unnest($1::text[])
		ON CONFLICT (event_id) DO NOTHING
	`, keys)
	return err
}

func settlementEventKeys(eventID string) []string {
	trimmed := strings.TrimSpace(eventID)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, settlementEventPrefix) {
		return []string{trimmed}
	}
	return []string{settlementEventPrefix + trimmed}
}

func holderTable(kind HolderKind) (string, error) {
	switch kind {
	case HolderUser:
		return "users", nil
	case HolderDriver:
		return "drivers", nil
	default:
		return "", fmt.Errorf("invalid holder kind %q", kind)
	}
}

func scanEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var entry LedgerEntry
		var account, amountStr string
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &account, &entry.HolderID, &entry.EntryType,
			&amountStr, &entry.Currency, &entry.Description, &entry.ReferenceID, &metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Account = Account(account)
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse entry amount: %w", err)
		}
		entry.Amount = amount
		if err := unmarshalMetadata(metadata, &entry.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}

func unmarshalMetadata(raw []byte, target *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}

func nullableString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

// isUniqueViolation reports a Postgres 23505 so duplicate appends can be
// distinguished from hard failures.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
