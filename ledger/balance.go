/*
balance.go - Pure balance calculation

PURPOSE:
  Computes account balances from transactions. This file is the answer to
  "how much money is in this account?" and it has exactly two paths:

  FullBalance: O(n) replay of every transaction dated on-or-before asOf.
               Used for reconciliation (after bulk import), never on every
               mutation.
  ApplyDelta:  O(1) incremental effect of a single transaction. Used by
               the Balance Coordinator on every ledger event.

PERSPECTIVE:
  A transfer touches two accounts with opposite signs. Which sign - and
  which of Amount/TargetAmount applies - depends on whether the caller is
  computing the source or the target side. Perspective is a mandatory
  tagged enum with an invalid zero value: there is no default, and the
  engine rejects transfer deltas that omit it. Getting this wrong is how
  target accounts end up debited as if they were sources.

FUTURE-DATING:
  A transaction dated after "now" contributes to nothing until its date
  arrives. FullBalance enforces this via asOf; incremental callers enforce
  it before invoking ApplyDelta (see coordinator.go).

CURRENCY:
  Cached ConvertedAmount is authoritative for historical records. When a
  conversion is needed and no cached value exists, the engine converts
  live; if even that fails, the face value is used but the fallback is
  logged and reported through the warning hook - never swallowed.

SEE ALSO:
  - coordinator.go: The only incremental-path caller
  - ledger.go: Drives recomputation through the event pipeline
*/
package ledger

import (
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/money"
)

// =============================================================================
// PERSPECTIVE - Which side of a transfer is being computed
// =============================================================================

// Perspective selects the side of a transaction a delta is computed for.
// The zero value is invalid on purpose: every call site must say which
// side it means.
type Perspective int

const (
	PerspectiveSource Perspective = iota + 1
	PerspectiveTarget
)

func (p Perspective) valid() bool {
	return p == PerspectiveSource || p == PerspectiveTarget
}

func (p Perspective) String() string {
	switch p {
	case PerspectiveSource:
		return "source"
	case PerspectiveTarget:
		return "target"
	default:
		return "unset"
	}
}

// =============================================================================
// ENGINE - Stateless calculator
// =============================================================================

// ConversionWarning is raised when a balance computation had to fall back
// to a transaction's face value because no cached converted amount existed
// and live conversion failed. A data-quality signal, not a fatal error.
type ConversionWarning struct {
	TransactionID TransactionID
	FromCurrency  string
	ToCurrency    string
	Err           error
}

// Engine computes balances. It holds no ledger state - only the converter
// and an optional warning sink - so the same instance is safe for
// concurrent use.
type Engine struct {
	Converter *money.Converter

	// OnWarning receives conversion fallbacks. Nil means log-only.
	OnWarning func(ConversionWarning)
}

func NewEngine(conv *money.Converter) *Engine {
	return &Engine{Converter: conv}
}

func (e *Engine) warn(w ConversionWarning) {
	log.Printf("[Balance] conversion fallback to face value: tx=%s %s->%s: %v",
		w.TransactionID, w.FromCurrency, w.ToCurrency, w.Err)
	if e.OnWarning != nil {
		e.OnWarning(w)
	}
}

// =============================================================================
// FULL REPLAY - O(n), reconciliation only
// =============================================================================

// FullBalance replays every transaction dated on-or-before asOf against
// the account's starting value. For Imported accounts the replay starts at
// the externally supplied current value and InitialBalance is ignored.
//
// Transactions not touching the account are skipped, so callers may pass
// the whole ledger.
func (e *Engine) FullBalance(account Account, txs []Transaction, asOf Date) decimal.Decimal {
	balance := account.replayBase()
	for _, tx := range txs {
		if tx.Date.After(asOf) {
			continue
		}
		p, ok := perspectiveFor(tx, account.ID)
		if !ok {
			continue
		}
		next, err := e.ApplyDelta(tx, balance, p, account)
		if err != nil {
			// perspectiveFor only yields valid perspectives; anything
			// here is a defect worth hearing about, not worth corrupting
			// the running sum over.
			log.Printf("[Balance] replay skipped tx %s: %v", tx.ID, err)
			continue
		}
		balance = next
	}
	return balance
}

// perspectiveFor returns how a transaction affects the given account, or
// ok=false if it does not touch the account at all.
func perspectiveFor(tx Transaction, id AccountID) (Perspective, bool) {
	switch {
	case tx.SourceAccountID == id:
		return PerspectiveSource, true
	case tx.IsTransfer() && tx.TargetAccountID == id:
		return PerspectiveTarget, true
	default:
		return 0, false
	}
}

// =============================================================================
// INCREMENTAL DELTA - O(1), the hot path
// =============================================================================

// ApplyDelta returns the balance after applying one transaction from the
// given perspective. Perspective is mandatory; transfer transactions with
// an unset perspective are rejected rather than guessed.
func (e *Engine) ApplyDelta(tx Transaction, current decimal.Decimal, p Perspective, account Account) (decimal.Decimal, error) {
	delta, err := e.delta(tx, p, account)
	if err != nil {
		return current, err
	}
	return current.Add(delta), nil
}

// RevertDelta is the exact algebraic inverse of ApplyDelta for the same
// (transaction, perspective) pair. Required by update and delete.
func (e *Engine) RevertDelta(tx Transaction, current decimal.Decimal, p Perspective, account Account) (decimal.Decimal, error) {
	delta, err := e.delta(tx, p, account)
	if err != nil {
		return current, err
	}
	return current.Sub(delta), nil
}

func (e *Engine) delta(tx Transaction, p Perspective, account Account) (decimal.Decimal, error) {
	if !p.valid() {
		if tx.IsTransfer() {
			return decimal.Zero, ErrMissingPerspective
		}
		return decimal.Zero, &ConsistencyError{
			Invariant: "perspective_required",
			Detail:    "delta requested without a perspective for tx " + string(tx.ID),
		}
	}

	switch tx.Kind {
	case Expense:
		if p != PerspectiveSource {
			return decimal.Zero, &ConsistencyError{
				Invariant: "expense_has_no_target",
				Detail:    "target perspective on expense " + string(tx.ID),
			}
		}
		return e.inAccountCurrency(tx, tx.Amount, tx.Currency, account).Neg(), nil

	case Income:
		if p != PerspectiveSource {
			return decimal.Zero, &ConsistencyError{
				Invariant: "income_has_no_target",
				Detail:    "target perspective on income " + string(tx.ID),
			}
		}
		return e.inAccountCurrency(tx, tx.Amount, tx.Currency, account), nil

	case InternalTransfer:
		if tx.CrossCurrency() && tx.TargetAmount == nil {
			return decimal.Zero, &ConsistencyError{
				Invariant: "transfer_target_amount",
				Detail:    "cross-currency transfer " + string(tx.ID) + " has no target amount",
			}
		}
		if p == PerspectiveSource {
			return e.inAccountCurrency(tx, tx.Amount, tx.Currency, account).Neg(), nil
		}
		currency := tx.TargetCurrency
		if currency == "" {
			currency = tx.Currency
		}
		return e.inAccountCurrency(tx, tx.creditedAmount(), currency, account), nil

	default:
		return decimal.Zero, &ConsistencyError{
			Invariant: "known_transaction_kind",
			Detail:    "unknown kind " + string(tx.Kind) + " on tx " + string(tx.ID),
		}
	}
}

// inAccountCurrency converts a transaction-side amount into the account's
// currency. Same currency passes through untouched; a failed live
// conversion falls back to face value loudly.
func (e *Engine) inAccountCurrency(tx Transaction, value decimal.Decimal, currency string, account Account) decimal.Decimal {
	if currency == account.Currency || account.Currency == "" {
		return value
	}
	if e.Converter == nil || e.Converter.Rates == nil {
		e.warn(ConversionWarning{TransactionID: tx.ID, FromCurrency: currency, ToCurrency: account.Currency})
		return value
	}
	rate, err := e.Converter.Rates(currency, account.Currency, tx.Date.normalize())
	if err != nil {
		e.warn(ConversionWarning{TransactionID: tx.ID, FromCurrency: currency, ToCurrency: account.Currency, Err: err})
		return value
	}
	return money.Round(value.Mul(rate), account.Currency)
}

// =============================================================================
// BASE-CURRENCY AMOUNT - For aggregates (category totals)
// =============================================================================

// BaseAmount returns a transaction's value in the ledger's base currency.
// The cached ConvertedAmount is authoritative when present; otherwise a
// live conversion runs, and only if that also fails does the face value
// stand in - flagged, never silent.
func (e *Engine) BaseAmount(tx Transaction) decimal.Decimal {
	if tx.ConvertedAmount != nil {
		return *tx.ConvertedAmount
	}
	if e.Converter == nil || tx.Currency == e.Converter.Base {
		return tx.Amount
	}
	converted, err := e.Converter.ToBase(money.New(tx.Amount, tx.Currency), tx.Date.normalize())
	if err != nil {
		e.warn(ConversionWarning{TransactionID: tx.ID, FromCurrency: tx.Currency, ToCurrency: e.Converter.Base, Err: err})
		return tx.Amount
	}
	return converted
}
