package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a named ledger bucket, not a bank account. The set is closed:
// postings against anything else are rejected before touching the database.
type Account string

const (
	AccountUserWallet      Account = "user_wallet"
	AccountDriverWallet    Account = "driver_wallet"
	AccountPlatformRevenue Account = "platform_revenue"
	AccountTaxLiability    Account = "tax_liability"
	AccountRefundPool      Account = "refund_pool"
	AccountExternalGateway Account = "external_payment_gateway"
)

func (a Account) Valid() bool {
	switch a {
	case AccountUserWallet, AccountDriverWallet, AccountPlatformRevenue,
		AccountTaxLiability, AccountRefundPool, AccountExternalGateway:
		return true
	}
	return false
}

// IsWallet reports whether entries on this account are scoped to a holder.
func (a Account) IsWallet() bool {
	return a == AccountUserWallet || a == AccountDriverWallet
}

type HolderKind string

const (
	HolderUser   HolderKind = "user"
	HolderDriver HolderKind = "driver"
)

func (k HolderKind) Valid() bool {
	return k == HolderUser || k == HolderDriver
}

// WalletAccount maps the holder kind to its ledger account.
func (k HolderKind) WalletAccount() Account {
	if k == HolderDriver {
		return AccountDriverWallet
	}
	return AccountUserWallet
}

const (
	EntryDebit  = "debit"
	EntryCredit = "credit"
)

// LedgerTransaction is the ephemeral input to a posting. It never persists
// as-is: recording it produces exactly two LedgerEntry rows.
type LedgerTransaction struct {
	Description    string
	Amount         decimal.Decimal
	Currency       string
	ReferenceID    string
	DebitAccount   Account
	CreditAccount  Account
	DebitHolderID  *uuid.UUID
	CreditHolderID *uuid.UUID
	Metadata       map[string]any
}

// LedgerEntry is one half of a balanced transaction. Immutable once written;
// the store exposes no update or delete path for these rows.
type LedgerEntry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	Account       Account
	HolderID      *uuid.UUID
	EntryType     string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	ReferenceID   string
	Metadata      map[string]any
	CreatedAt     time.Time
}

type WalletHolder struct {
	ID            uuid.UUID
	Kind          HolderKind
	Name          string
	Email         string
	Status        string
	WalletBalance decimal.Decimal
}

type ActionKind string

const (
	ActionBlockUser        ActionKind = "block_user"
	ActionUnblockUser      ActionKind = "unblock_user"
	ActionSuspendDriver    ActionKind = "suspend_driver"
	ActionApproveDriver    ActionKind = "approve_driver"
	ActionWalletAdjustment ActionKind = "wallet_adjustment"
	ActionDocumentVerify   ActionKind = "document_verify"
	ActionDocumentReject   ActionKind = "document_reject"
	ActionCreateAdmin      ActionKind = "create_admin"
	ActionDeleteAdmin      ActionKind = "delete_admin"
	ActionUpdatePricing    ActionKind = "update_pricing"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionBlockUser, ActionUnblockUser, ActionSuspendDriver, ActionApproveDriver,
		ActionWalletAdjustment, ActionDocumentVerify, ActionDocumentReject,
		ActionCreateAdmin, ActionDeleteAdmin, ActionUpdatePricing:
		return true
	}
	return false
}

// AuditAction is one append-only record of a privileged mutation.
type AuditAction struct {
	ID         uuid.UUID
	AdminID    string
	AdminEmail string
	Action     ActionKind
	TargetType string
	TargetID   string
	TargetName string
	Reason     string
	Metadata   map[string]any
	CreatedAt  time.Time
}

type DriverProfile struct {
	ID               uuid.UUID
	Name             string
	Email            string
	Status           string
	Rating           float64
	SuspensionReason string
	LicenseStatus    string
	RCStatus         string
	UpdatedAt        time.Time
}

// DriverMetrics aggregates the operational counters the risk engine reads.
// Maintained by the ride event consumer.
type DriverMetrics struct {
	DriverID       uuid.UUID
	CompletedRides int64
	CancelledRides int64
	ReportCount    int64
	UpdatedAt      time.Time
}

// CancelRate returns the cancellation percentage over observed rides.
func (m DriverMetrics) CancelRate() float64 {
	total := m.CompletedRides + m.CancelledRides
	if total == 0 {
		return 0
	}
	return float64(m.CancelledRides) / float64(total) * 100
}

type FinanceSummary struct {
	GrossFares      decimal.Decimal
	Commission      decimal.Decimal
	SettlementCount int64
}

// WalletAdjustmentResult reports the committed state after an adjustment.
type WalletAdjustmentResult struct {
	TransactionID    uuid.UUID
	NewBalance       decimal.Decimal
	Entries          []LedgerEntry
	AlreadyProcessed bool
}
