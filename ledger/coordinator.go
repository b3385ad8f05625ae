/*
coordinator.go - Published per-account balance view

PURPOSE:
  The Balance Coordinator owns the one queryable "current balance per
  account" map. It is a read-only projection of the ledger's transaction
  set - updated exclusively through ledger events via the balance engine's
  O(1) incremental path, never mutated by anyone else, and always
  rebuildable by full replay.

PERSISTENCE:
  Changed balances are marked dirty and flushed in one batched
  UpdateAccountBalances call. A failed flush leaves the in-memory view
  ahead of disk: the dirty set is retained and retried, and the failure is
  surfaced on the status channel for observability - not swallowed, and
  not rolled back.

SEE ALSO:
  - balance.go: ApplyDelta / RevertDelta, the only math used here
  - ledger.go: Event pipeline driving apply/revert; persist worker
    draining the dirty set
*/
package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Coordinator owns the published balances. Reads are concurrent; all
// writes arrive serialized from the ledger's single-writer path.
type Coordinator struct {
	engine *Engine

	mu       sync.RWMutex
	balances map[AccountID]decimal.Decimal
	dirty    map[AccountID]bool

	status chan error
}

const statusDepth = 64

func NewCoordinator(engine *Engine) *Coordinator {
	return &Coordinator{
		engine:   engine,
		balances: make(map[AccountID]decimal.Decimal),
		dirty:    make(map[AccountID]bool),
		status:   make(chan error, statusDepth),
	}
}

// Status delivers asynchronous persistence failures. The mutating call
// that caused them has long since returned; this channel is how
// durability problems reach an operator.
func (c *Coordinator) Status() <-chan error { return c.status }

func (c *Coordinator) report(err error) {
	select {
	case c.status <- err:
	default:
		// A full channel means nobody is listening; the log line in the
		// persist worker still records the failure.
	}
}

// =============================================================================
// READ SIDE
// =============================================================================

// Balance returns the published balance for an account.
func (c *Coordinator) Balance(id AccountID) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.balances[id]
	return b, ok
}

// Snapshot returns a copy of all published balances.
func (c *Coordinator) Snapshot() map[AccountID]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[AccountID]decimal.Decimal, len(c.balances))
	for id, b := range c.balances {
		out[id] = b
	}
	return out
}

// =============================================================================
// WRITE SIDE - Called only from the ledger's serialized writer path
// =============================================================================

// Seed rebuilds the whole view by full replay. Used at startup and by
// FullRecalculate; every account becomes dirty so the next flush persists
// the reconciled values.
func (c *Coordinator) Seed(accounts map[AccountID]Account, txs []Transaction, now Date) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A reseed is authoritative for the account set too: a leftover dirty
	// mark for an account outside it would flush a zero-value balance for
	// an id that no longer exists.
	for id := range c.dirty {
		if _, ok := accounts[id]; !ok {
			delete(c.dirty, id)
		}
	}

	c.balances = make(map[AccountID]decimal.Decimal, len(accounts))
	for id, acc := range accounts {
		c.balances[id] = c.engine.FullBalance(acc, txs, now)
		c.dirty[id] = true
	}
}

// Apply applies one transaction's effect to every affected account whose
// date has arrived. A transfer touches two accounts with opposite signs.
func (c *Coordinator) Apply(tx Transaction, accounts map[AccountID]Account, now Date) error {
	return c.shift(tx, accounts, now, false)
}

// Revert undoes a previously applied transaction - the exact inverse of
// Apply for the same record.
func (c *Coordinator) Revert(tx Transaction, accounts map[AccountID]Account, now Date) error {
	return c.shift(tx, accounts, now, true)
}

func (c *Coordinator) shift(tx Transaction, accounts map[AccountID]Account, now Date, revert bool) error {
	if tx.Date.After(now) {
		// Future-dated: contributes to no displayed balance until its
		// date arrives (AdvanceTo picks it up then).
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	apply := func(id AccountID, p Perspective) error {
		acc, ok := accounts[id]
		if !ok {
			return &ConsistencyError{
				Invariant: "account_exists_for_delta",
				Detail:    "delta for unknown account " + string(id),
			}
		}
		current := c.balances[id]
		var (
			next decimal.Decimal
			err  error
		)
		if revert {
			next, err = c.engine.RevertDelta(tx, current, p, acc)
		} else {
			next, err = c.engine.ApplyDelta(tx, current, p, acc)
		}
		if err != nil {
			return err
		}
		c.balances[id] = next
		c.dirty[id] = true
		return nil
	}

	if err := apply(tx.SourceAccountID, PerspectiveSource); err != nil {
		return err
	}
	if tx.IsTransfer() {
		if err := apply(tx.TargetAccountID, PerspectiveTarget); err != nil {
			return err
		}
	}
	return nil
}

// EnsureAccount publishes a starting balance for a newly synced account
// that has no transactions yet.
func (c *Coordinator) EnsureAccount(acc Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.balances[acc.ID]; !ok {
		c.balances[acc.ID] = acc.replayBase()
		c.dirty[acc.ID] = true
	}
}

// Forget drops a removed account from the published view.
func (c *Coordinator) Forget(id AccountID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, id)
	delete(c.dirty, id)
}

// =============================================================================
// PERSISTENCE - Batched, retried, ahead-of-disk on failure
// =============================================================================

// Flush persists all dirty balances in one batched repository call. On
// failure the dirty set is retained for retry and the error is reported
// on the status channel.
func (c *Coordinator) Flush(ctx context.Context, repo Repository, attempt int) error {
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return nil
	}
	pending := make(map[AccountID]decimal.Decimal, len(c.dirty))
	for id := range c.dirty {
		pending[id] = c.balances[id]
	}
	c.mu.Unlock()

	if err := repo.UpdateAccountBalances(ctx, pending); err != nil {
		failure := &PersistenceFailure{Op: "update_account_balances", Attempts: attempt, Err: err}
		c.report(failure)
		return failure
	}

	// Clear only what was flushed; entries re-dirtied during the call
	// stay pending for the next flush.
	c.mu.Lock()
	for id, flushed := range pending {
		if c.balances[id].Equal(flushed) {
			delete(c.dirty, id)
		}
	}
	c.mu.Unlock()
	return nil
}

// DirtyCount reports how many accounts await persistence.
func (c *Coordinator) DirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}
