/*
repository.go - Persistence contract

PURPOSE:
  The durability boundary. The in-memory ledger is the cache of this
  store, not the reverse: everything the ledger holds must be loadable
  from here, and every successful mutation eventually lands here.

CONTRACT NOTES:
  - UpdateAccountBalances is batched by design: one call for N accounts,
    never N calls.
  - Save persists transactions and accounts together so a crash cannot
    separate a transaction from the account state it implies.
  - Implementations must be safe for calls from the ledger's persistence
    goroutine concurrent with reads.

IMPLEMENTATIONS:
  - store/memory.go: In-memory, for tests and development
  - store/sqlite: Production single-node (WAL mode)
  - store/postgres: Production shared (pgx pool)

SEE ALSO:
  - ledger.go: Persist-and-retry loop; in-memory state runs ahead of disk
    on failure, never the other way around
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// DateRange optionally bounds a transaction load.
type DateRange struct {
	From Date
	To   Date
}

// Repository is the sole durability boundary.
type Repository interface {
	// LoadTransactions returns transactions, optionally bounded by range,
	// ordered ascending by date.
	LoadTransactions(ctx context.Context, rng *DateRange) ([]Transaction, error)

	LoadAccounts(ctx context.Context) ([]Account, error)
	LoadCategories(ctx context.Context) ([]Category, error)
	LoadRecurringSeries(ctx context.Context) ([]RecurringSeries, error)

	// LoadOccurrences returns every generation marker, including markers
	// whose transaction has since been deleted.
	LoadOccurrences(ctx context.Context) ([]RecurringOccurrence, error)

	// Save upserts the given transactions and accounts atomically.
	Save(ctx context.Context, txs []Transaction, accounts []Account) error

	SaveOccurrences(ctx context.Context, occs []RecurringOccurrence) error

	// DeleteOccurrences removes generation markers, identified by their
	// (series, date) pair. Only the regeneration and series-delete paths
	// call this; transaction deletion never does.
	DeleteOccurrences(ctx context.Context, occs []RecurringOccurrence) error

	// SaveRecurringSeries upserts series templates.
	SaveRecurringSeries(ctx context.Context, series []RecurringSeries) error

	DeleteRecurringSeries(ctx context.Context, ids []SeriesID) error

	DeleteTransactions(ctx context.Context, ids []TransactionID) error

	// UpdateAccountBalances persists published balances in one batched
	// call for all N accounts.
	UpdateAccountBalances(ctx context.Context, balances map[AccountID]decimal.Decimal) error
}
