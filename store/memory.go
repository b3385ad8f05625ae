// Package store provides Repository implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[ledger.TransactionID]ledger.Transaction
	accounts     map[ledger.AccountID]ledger.Account
	categories   map[ledger.CategoryID]ledger.Category
	series       map[ledger.SeriesID]ledger.RecurringSeries
	occurrences  map[string]ledger.RecurringOccurrence
	balances     map[ledger.AccountID]decimal.Decimal

	// FailNext makes the next N write calls fail with the given error.
	// Lets tests exercise the ahead-of-disk retry path.
	failNext int
	failErr  error
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		accounts:     make(map[ledger.AccountID]ledger.Account),
		categories:   make(map[ledger.CategoryID]ledger.Category),
		series:       make(map[ledger.SeriesID]ledger.RecurringSeries),
		occurrences:  make(map[string]ledger.RecurringOccurrence),
		balances:     make(map[ledger.AccountID]decimal.Decimal),
	}
}

// FailWrites arms the store to fail its next n write calls with err.
func (m *Memory) FailWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

func (m *Memory) maybeFailLocked() error {
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	return nil
}

// SeedCategories pre-populates category reference data.
func (m *Memory) SeedCategories(cats []ledger.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cats {
		m.categories[c.ID] = c
	}
}

// SeedSeries pre-populates recurring series.
func (m *Memory) SeedSeries(series []ledger.RecurringSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range series {
		m.series[s.ID] = s
	}
}

// =============================================================================
// LOAD SIDE
// =============================================================================

func (m *Memory) LoadTransactions(_ context.Context, rng *ledger.DateRange) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Transaction
	for _, tx := range m.transactions {
		if rng != nil {
			if !rng.From.IsZero() && tx.Date.Before(rng.From) {
				continue
			}
			if !rng.To.IsZero() && tx.Date.After(rng.To) {
				continue
			}
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (m *Memory) LoadAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) LoadCategories(_ context.Context) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) LoadRecurringSeries(_ context.Context) ([]ledger.RecurringSeries, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.RecurringSeries, 0, len(m.series))
	for _, s := range m.series {
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) LoadOccurrences(_ context.Context) ([]ledger.RecurringOccurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.RecurringOccurrence, 0, len(m.occurrences))
	for _, o := range m.occurrences {
		out = append(out, o)
	}
	return out, nil
}

// =============================================================================
// SAVE SIDE
// =============================================================================

func (m *Memory) Save(_ context.Context, txs []ledger.Transaction, accounts []ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	for _, tx := range txs {
		m.transactions[tx.ID] = tx
	}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return nil
}

func (m *Memory) SaveOccurrences(_ context.Context, occs []ledger.RecurringOccurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	for _, o := range occs {
		m.occurrences[o.Key()] = o
	}
	return nil
}

func (m *Memory) DeleteOccurrences(_ context.Context, occs []ledger.RecurringOccurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	for _, o := range occs {
		delete(m.occurrences, o.Key())
	}
	return nil
}

func (m *Memory) SaveRecurringSeries(_ context.Context, series []ledger.RecurringSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	for _, s := range series {
		m.series[s.ID] = s
	}
	return nil
}

func (m *Memory) DeleteRecurringSeries(_ context.Context, ids []ledger.SeriesID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.series, id)
	}
	return nil
}

func (m *Memory) DeleteTransactions(_ context.Context, ids []ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.transactions, id)
	}
	return nil
}

func (m *Memory) UpdateAccountBalances(_ context.Context, balances map[ledger.AccountID]decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	for id, b := range balances {
		m.balances[id] = b
	}
	return nil
}

// PersistedBalance returns what the durability layer last saw for an
// account. Test hook.
func (m *Memory) PersistedBalance(id ledger.AccountID) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[id]
	return b, ok
}
