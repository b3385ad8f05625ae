/*
Package ledger provides the event-sourced transaction store and the
balance reconciliation engine built on top of it.

PURPOSE:
  This package is the single source of truth for financial state:
  transactions, accounts, categories, and recurring series. Balances and
  category totals are always derived from the transaction set - there is
  no stored balance field that can drift out of sync.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger record (expense, income, or transfer)
  - Account: A mutable entity whose balance is always derived, never stored
  - RecurringSeries / RecurringOccurrence: Template + materialization join
  - Strongly typed identifiers so account/category/series ids cannot mix

DESIGN PRINCIPLES:
  1. Immutability: Applied transactions are never edited in place; an
     update is modeled as revert-old + apply-new inside the Ledger
  2. Precision: decimal.Decimal for every monetary value
  3. Derivation: Balance and aggregates are projections of the ledger,
     owned by the coordinator and the cache, rebuildable at any time

SEE ALSO:
  - balance.go: Pure balance calculation (full replay + O(1) delta)
  - projection.go: Recurring occurrence generation
  - ledger.go: The store and its event-application pipeline
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type AccountID string
type CategoryID string
type SeriesID string

// =============================================================================
// TRANSACTION - Immutable once applied
// =============================================================================

type Kind string

const (
	Expense          Kind = "expense"
	Income           Kind = "income"
	InternalTransfer Kind = "internal_transfer"
)

type Transaction struct {
	ID       TransactionID
	Date     Date
	Amount   decimal.Decimal
	Currency string

	// Amount expressed in the ledger's base currency, cached at creation
	// time. Authoritative for historical records: once set, live rate
	// lookups never override it.
	ConvertedAmount *decimal.Decimal

	Kind           Kind
	Category       CategoryID
	SubcategoryIDs []CategoryID
	Description    string

	SourceAccountID AccountID
	TargetAccountID AccountID // transfers only

	// Cross-currency transfers only: what the target account receives,
	// which may differ from the debited amount.
	TargetAmount   *decimal.Decimal
	TargetCurrency string

	// Back-references set only for transactions materialized from a series.
	SeriesID     SeriesID
	OccurrenceID string

	CreatedAt Date
}

// IsTransfer reports whether this transaction moves money between two
// accounts owned by the same ledger.
func (t Transaction) IsTransfer() bool { return t.Kind == InternalTransfer }

// CrossCurrency reports whether the target side of a transfer settles in a
// different currency than the source side.
func (t Transaction) CrossCurrency() bool {
	return t.IsTransfer() && t.TargetCurrency != "" && t.TargetCurrency != t.Currency
}

// creditedAmount is what the target account receives: TargetAmount for
// cross-currency transfers, the face amount otherwise.
func (t Transaction) creditedAmount() decimal.Decimal {
	if t.TargetAmount != nil {
		return *t.TargetAmount
	}
	return t.Amount
}

// =============================================================================
// ACCOUNT - Balance is derived, never stored here
// =============================================================================

type CalculationMode string

const (
	// FromInitialBalance replays all transactions on top of InitialBalance.
	FromInitialBalance CalculationMode = "from_initial_balance"
	// Imported accounts start from an externally supplied current value;
	// InitialBalance is ignored.
	Imported CalculationMode = "imported"
	// Manual behaves like FromInitialBalance but the initial value was
	// user-entered rather than derived.
	Manual CalculationMode = "manual"
)

type Account struct {
	ID        AccountID
	Name      string
	Currency  string
	IsDeposit bool
	Mode      CalculationMode

	// Meaningful only for FromInitialBalance / Manual.
	InitialBalance decimal.Decimal

	// Meaningful only for Imported: the externally supplied current value
	// that replay starts from.
	ImportedBalance decimal.Decimal
}

// replayBase is the starting value for a full balance replay.
func (a Account) replayBase() decimal.Decimal {
	if a.Mode == Imported {
		return a.ImportedBalance
	}
	return a.InitialBalance
}

// =============================================================================
// CATEGORY
// =============================================================================

type Category struct {
	ID       CategoryID
	Name     string
	ParentID CategoryID // empty for top-level categories
}

// =============================================================================
// RECURRING SERIES - Mutable template for future transactions
// =============================================================================

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPaused   SubscriptionStatus = "paused"
	SubscriptionArchived SubscriptionStatus = "archived"
)

type RecurringSeries struct {
	ID          SeriesID
	Frequency   Frequency
	AnchorDate  Date
	Amount      decimal.Decimal
	Currency    string
	Kind        Kind
	Category    CategoryID
	Description string

	SourceAccountID AccountID
	TargetAccountID AccountID // set only for transfer series

	IsActive bool

	// Subscription bookkeeping; SubscriptionStatus is relevant only when
	// IsSubscription is true.
	IsSubscription     bool
	SubscriptionStatus SubscriptionStatus
}

// generating reports whether the projection engine should produce
// occurrences for this series. Paused/archived subscriptions stay in the
// ledger but generate nothing.
func (s RecurringSeries) generating() bool {
	if !s.IsActive {
		return false
	}
	if s.IsSubscription && s.SubscriptionStatus != SubscriptionActive {
		return false
	}
	return true
}

// =============================================================================
// RECURRING OCCURRENCE - "Already generated" marker
// =============================================================================

// RecurringOccurrence links a series to the concrete transaction it
// produced for one calendar date. Its existence for (SeriesID, Date) is
// the authoritative dedup marker - independent of whether the transaction
// itself still exists, so a manually deleted occurrence is never silently
// regenerated.
type RecurringOccurrence struct {
	ID            string
	SeriesID      SeriesID
	Date          Date
	TransactionID TransactionID
}

// OccurrenceKey is the uniqueness key for one generated date of a series.
// Exactly one occurrence may ever exist per key.
func OccurrenceKey(seriesID SeriesID, date Date) string {
	return string(seriesID) + "@" + date.String()
}

func (o RecurringOccurrence) Key() string {
	return OccurrenceKey(o.SeriesID, o.Date)
}
