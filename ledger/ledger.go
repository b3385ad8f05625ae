/*
ledger.go - The transaction ledger (store)

PURPOSE:
  Sole entry point for all mutations. Every successful operation leaves
  accounts, categories, caches, and persisted balances consistent with
  the transaction set; every failed operation leaves prior state fully
  intact and visible.

EVENT APPLICATION PIPELINE (fixed order, no step skippable):
  1. mutate in-memory collections
  2. invalidate only the cache entries the event could have touched
     (never a global flush from a narrow operation)
  3. apply balance deltas for every affected account via the coordinator
  4. request persistence of the updated balances and transaction set
  5. notify observers through the ordered event queue

  Invalidation runs before recomputation starts, not after: invalidating
  after races the next read into caching a stale intermediate state.

CONCURRENCY:
  Single-writer. All mutations serialize on one mutex; reads take the
  read side against a consistent snapshot. Long-running work (live
  currency conversion, bulk validation) happens before the writer lock is
  taken, so the lock covers only synchronous in-memory mutation and cache
  invalidation. Persistence runs on its own goroutine and retries until
  it succeeds - in-memory state is ahead of disk, never behind it.

SEE ALSO:
  - balance.go: delta math     - coordinator.go: published balances
  - projection.go: occurrences - cache.go: aggregate cache
  - events.go: notification    - repository.go: durability contract
*/
package ledger

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/money"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	engine     *Engine
	coord      *Coordinator
	cache      *AggregateCache
	repo       Repository
	projection ProjectionEngine

	mu           sync.RWMutex
	transactions map[TransactionID]Transaction
	accounts     map[AccountID]Account
	categories   map[CategoryID]Category
	series       map[SeriesID]RecurringSeries
	occurrences  map[string]RecurringOccurrence // by occurrence key

	// High-water mark for future-dated transactions already applied to
	// published balances. AdvanceTo moves it forward.
	advancedTo Date

	notifier *notifier
	persist  chan persistRequest
	done     chan struct{}
	wg       sync.WaitGroup

	// Now is injectable for tests; defaults to Today.
	Now func() Date
}

// Config wires a ledger. Repo may be nil for a purely in-memory ledger
// (tests); CacheSize <= 0 uses the default.
type Config struct {
	Engine    *Engine
	Repo      Repository
	CacheSize int
}

func New(cfg Config) *Ledger {
	engine := cfg.Engine
	if engine == nil {
		engine = NewEngine(nil)
	}
	l := &Ledger{
		engine:       engine,
		coord:        NewCoordinator(engine),
		cache:        NewAggregateCache(cfg.CacheSize),
		repo:         cfg.Repo,
		transactions: make(map[TransactionID]Transaction),
		accounts:     make(map[AccountID]Account),
		categories:   make(map[CategoryID]Category),
		series:       make(map[SeriesID]RecurringSeries),
		occurrences:  make(map[string]RecurringOccurrence),
		notifier:     newNotifier(),
		persist:      make(chan persistRequest, 256),
		done:         make(chan struct{}),
		Now:          Today,
	}
	l.wg.Add(1)
	go l.persistWorker()
	return l
}

// Close stops the persistence worker and the event queue after draining.
func (l *Ledger) Close() {
	close(l.done)
	l.wg.Wait()
	l.notifier.close()
}

// watermarkLocked returns the maturation watermark, initializing it to
// the current day on first use. Balance deltas at mutation time are
// computed against this mark, never against the wall clock: a
// transaction dated between the mark and the clock would otherwise be
// applied by the mutation AND re-applied by the next AdvanceTo tick.
// AdvanceTo is the only path that matures a date window.
func (l *Ledger) watermarkLocked() Date {
	if l.advancedTo.IsZero() {
		l.advancedTo = l.Now()
	}
	return l.advancedTo
}

// Subscribe registers an observer for applied events.
func (l *Ledger) Subscribe(o Observer) { l.notifier.subscribe(o) }

// Status exposes asynchronous persistence failures.
func (l *Ledger) Status() <-chan error { return l.coord.Status() }

// Coordinator exposes the read-only published balance view.
func (l *Ledger) Coordinator() *Coordinator { return l.coord }

// Cache exposes the aggregate cache for concurrent readers.
func (l *Ledger) Cache() *AggregateCache { return l.cache }

// =============================================================================
// LOADING - In-memory state is the cache of the repository
// =============================================================================

// Load hydrates the ledger from its repository and seeds published
// balances by full replay.
func (l *Ledger) Load(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	accounts, err := l.repo.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	categories, err := l.repo.LoadCategories(ctx)
	if err != nil {
		return err
	}
	txs, err := l.repo.LoadTransactions(ctx, nil)
	if err != nil {
		return err
	}
	series, err := l.repo.LoadRecurringSeries(ctx)
	if err != nil {
		return err
	}
	occs, err := l.repo.LoadOccurrences(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	for _, a := range accounts {
		l.accounts[a.ID] = a
	}
	for _, c := range categories {
		l.categories[c.ID] = c
	}
	for _, tx := range txs {
		l.transactions[tx.ID] = tx
	}
	for _, s := range series {
		l.series[s.ID] = s
	}
	for _, o := range occs {
		l.occurrences[o.Key()] = o
	}
	accountsCopy := l.snapshotAccountsLocked()
	txsCopy := l.snapshotTransactionsLocked()
	asOf := l.watermarkLocked()
	l.mu.Unlock()

	l.coord.Seed(accountsCopy, txsCopy, asOf)
	return nil
}

// =============================================================================
// REFERENCE SETS - SyncAccounts / SyncCategories
// =============================================================================

// SyncAccounts replaces the ledger's account reference set. Collaborators
// must call this before submitting transactions that reference newly
// created accounts. Removing an account that still has transactions is
// rejected.
func (l *Ledger) SyncAccounts(accounts []Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		if a.ID == "" {
			return &ValidationError{Field: "account.id", Reason: "empty id"}
		}
		if a.Currency != "" && !money.ValidCurrency(a.Currency) {
			return &ValidationError{Field: "account.currency", Reason: "unknown currency " + a.Currency, Err: ErrInvalidAmount}
		}
		next[a.ID] = a
	}

	for id := range l.accounts {
		if _, kept := next[id]; kept {
			continue
		}
		if l.accountReferencedLocked(id) {
			return &ValidationError{
				Field:  "accounts",
				Reason: "account " + string(id) + " still has transactions; reassign or delete them first",
				Err:    ErrAccountNotFound,
			}
		}
	}

	removed := make([]AccountID, 0)
	for id := range l.accounts {
		if _, kept := next[id]; !kept {
			removed = append(removed, id)
		}
	}
	l.accounts = next

	for _, a := range next {
		l.coord.EnsureAccount(a)
	}
	for _, id := range removed {
		l.coord.Forget(id)
	}
	return nil
}

// SyncCategories replaces the category reference set.
func (l *Ledger) SyncCategories(categories []Category) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[CategoryID]Category, len(categories))
	for _, c := range categories {
		if c.ID == "" {
			return &ValidationError{Field: "category.id", Reason: "empty id"}
		}
		next[c.ID] = c
	}
	l.categories = next
	return nil
}

func (l *Ledger) accountReferencedLocked(id AccountID) bool {
	for _, tx := range l.transactions {
		if tx.SourceAccountID == id || tx.TargetAccountID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// VALIDATION - Always before any state mutation
// =============================================================================

func (l *Ledger) validateLocked(tx Transaction) error {
	if tx.Amount.IsNegative() || tx.Amount.IsZero() {
		return &ValidationError{Field: "amount", Reason: "must be positive; sign is carried by kind", Err: ErrInvalidAmount}
	}
	if tx.Currency == "" || !money.ValidCurrency(tx.Currency) {
		return &ValidationError{Field: "currency", Reason: "unknown currency " + tx.Currency, Err: ErrInvalidAmount}
	}
	if _, ok := l.accounts[tx.SourceAccountID]; !ok {
		return &ValidationError{Field: "source_account_id", Reason: "unknown account " + string(tx.SourceAccountID), Err: ErrAccountNotFound}
	}
	if tx.Category != "" {
		if _, ok := l.categories[tx.Category]; !ok {
			return &ValidationError{Field: "category", Reason: "unknown category " + string(tx.Category), Err: ErrCategoryNotFound}
		}
	}
	for _, sub := range tx.SubcategoryIDs {
		if _, ok := l.categories[sub]; !ok {
			return &ValidationError{Field: "subcategory_ids", Reason: "unknown category " + string(sub), Err: ErrCategoryNotFound}
		}
	}

	if tx.IsTransfer() {
		if tx.TargetAccountID == "" {
			return &ValidationError{Field: "target_account_id", Reason: "transfer requires a target account", Err: ErrAccountNotFound}
		}
		if tx.TargetAccountID == tx.SourceAccountID {
			return &ValidationError{Field: "target_account_id", Reason: "source and target are the same", Err: ErrSelfTransfer}
		}
		if _, ok := l.accounts[tx.TargetAccountID]; !ok {
			return &ValidationError{Field: "target_account_id", Reason: "unknown account " + string(tx.TargetAccountID), Err: ErrAccountNotFound}
		}
		if tx.CrossCurrency() && tx.TargetAmount == nil {
			return &ValidationError{Field: "target_amount", Reason: "cross-currency transfer must state the credited amount", Err: ErrMissingTargetAmount}
		}
	} else if tx.TargetAccountID != "" {
		return &ValidationError{Field: "target_account_id", Reason: "only transfers carry a target account", Err: ErrSelfTransfer}
	}
	return nil
}

// prepare normalizes a caller-supplied transaction: identity, creation
// date, and the cached base-currency amount. Live conversion happens here,
// off the writer lock.
func (l *Ledger) prepare(tx Transaction) Transaction {
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.Now()
	}
	if tx.ConvertedAmount == nil && l.engine.Converter != nil && tx.Currency != l.engine.Converter.Base {
		base := l.engine.BaseAmount(tx)
		tx.ConvertedAmount = &base
	}
	return tx
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Add validates and appends one transaction, then runs the event pipeline.
func (l *Ledger) Add(ctx context.Context, tx Transaction) (Transaction, error) {
	tx = l.prepare(tx)

	l.mu.Lock()
	if err := l.validateLocked(tx); err != nil {
		l.mu.Unlock()
		return Transaction{}, err
	}
	if _, exists := l.transactions[tx.ID]; exists {
		l.mu.Unlock()
		return Transaction{}, ErrDuplicateTransaction
	}

	// 1. mutate
	l.transactions[tx.ID] = tx
	// 2. invalidate before recomputation
	l.invalidateForLocked(tx)
	accounts := l.snapshotAccountsLocked()
	asOf := l.watermarkLocked()
	l.mu.Unlock()

	// 3. balance deltas, against the maturation mark so the next tick
	// cannot re-apply a transaction this call already counted
	if err := l.coord.Apply(tx, accounts, asOf); err != nil {
		log.Printf("[Ledger] balance apply failed for %s: %v", tx.ID, err)
	}
	// 4. persistence
	l.requestPersist(persistRequest{save: []Transaction{tx}})
	// 5. notify
	l.notifier.publish(Event{Kind: EventAdded, Transaction: &tx})
	return tx, nil
}

// Update replaces a transaction. The delta is computed as revert-old then
// apply-new - one logical mutation, which is what keeps transfers from
// being double-counted between the two halves.
func (l *Ledger) Update(ctx context.Context, oldID TransactionID, next Transaction) error {
	next = l.prepare(next)

	l.mu.Lock()
	old, ok := l.transactions[oldID]
	if !ok {
		l.mu.Unlock()
		return ErrTransactionNotFound
	}
	if err := l.validateLocked(next); err != nil {
		l.mu.Unlock()
		return err
	}
	if next.ID != oldID {
		if _, exists := l.transactions[next.ID]; exists {
			l.mu.Unlock()
			return ErrDuplicateTransaction
		}
	}

	delete(l.transactions, oldID)
	l.transactions[next.ID] = next
	l.invalidateForLocked(old)
	l.invalidateForLocked(next)
	accounts := l.snapshotAccountsLocked()
	asOf := l.watermarkLocked()
	l.mu.Unlock()

	if err := l.coord.Revert(old, accounts, asOf); err != nil {
		log.Printf("[Ledger] balance revert failed for %s: %v", old.ID, err)
	}
	if err := l.coord.Apply(next, accounts, asOf); err != nil {
		log.Printf("[Ledger] balance apply failed for %s: %v", next.ID, err)
	}

	req := persistRequest{save: []Transaction{next}}
	if next.ID != oldID {
		req.deletes = []TransactionID{oldID}
	}
	l.requestPersist(req)
	l.notifier.publish(Event{Kind: EventUpdated, Transaction: &next, Previous: &old})
	return nil
}

// Delete removes a transaction. The emitted event carries the full
// removed record: balance reversal needs its value, not just its id.
func (l *Ledger) Delete(ctx context.Context, id TransactionID) error {
	l.mu.Lock()
	tx, ok := l.transactions[id]
	if !ok {
		l.mu.Unlock()
		return ErrTransactionNotFound
	}
	delete(l.transactions, id)
	l.invalidateForLocked(tx)
	accounts := l.snapshotAccountsLocked()
	asOf := l.watermarkLocked()
	l.mu.Unlock()

	if err := l.coord.Revert(tx, accounts, asOf); err != nil {
		log.Printf("[Ledger] balance revert failed for %s: %v", tx.ID, err)
	}
	l.requestPersist(persistRequest{deletes: []TransactionID{id}})
	l.notifier.publish(Event{Kind: EventDeleted, Transaction: &tx})
	return nil
}

// Transfer constructs and applies one InternalTransfer. Single code path
// for same-currency and cross-currency, regular and deposit accounts.
func (l *Ledger) Transfer(ctx context.Context, sourceID, targetID AccountID, amount decimal.Decimal, currency string, date Date, description string, targetCurrency string, targetAmount *decimal.Decimal) (Transaction, error) {
	if targetCurrency == "" {
		targetCurrency = currency
	}
	tx := Transaction{
		Date:            date,
		Amount:          amount,
		Currency:        currency,
		Kind:            InternalTransfer,
		Description:     description,
		SourceAccountID: sourceID,
		TargetAccountID: targetID,
		TargetCurrency:  targetCurrency,
		TargetAmount:    targetAmount,
	}
	return l.Add(ctx, tx)
}

// =============================================================================
// BULK ADD - One event per batch
// =============================================================================

// BulkResult reports a bulk ingest: what was applied and what was
// rejected per row. The applied rows form a single event, so downstream
// invalidation and recomputation happen once per batch, not once per row.
type BulkResult struct {
	Added    []Transaction
	Rejected []RejectedTransaction
}

type RejectedTransaction struct {
	Index int
	Err   error
}

// BulkAdd applies a batch as one ordered unit. Cancellation during
// validation rejects the whole batch; no partial state is ever visible.
func (l *Ledger) BulkAdd(ctx context.Context, txs []Transaction) (BulkResult, error) {
	prepared := make([]Transaction, len(txs))
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return BulkResult{}, ErrCancelled
		}
		prepared[i] = l.prepare(tx)
	}

	var result BulkResult

	l.mu.Lock()
	seen := make(map[TransactionID]bool, len(prepared))
	for i, tx := range prepared {
		if err := ctx.Err(); err != nil {
			l.mu.Unlock()
			return BulkResult{}, ErrCancelled
		}
		if err := l.validateLocked(tx); err != nil {
			result.Rejected = append(result.Rejected, RejectedTransaction{Index: i, Err: err})
			continue
		}
		if seen[tx.ID] {
			result.Rejected = append(result.Rejected, RejectedTransaction{Index: i, Err: ErrDuplicateTransaction})
			continue
		}
		if _, exists := l.transactions[tx.ID]; exists {
			result.Rejected = append(result.Rejected, RejectedTransaction{Index: i, Err: ErrDuplicateTransaction})
			continue
		}
		seen[tx.ID] = true
		result.Added = append(result.Added, tx)
	}

	for _, tx := range result.Added {
		l.transactions[tx.ID] = tx
	}
	for _, tx := range result.Added {
		l.invalidateForLocked(tx)
	}
	accounts := l.snapshotAccountsLocked()
	asOf := l.watermarkLocked()
	l.mu.Unlock()

	for _, tx := range result.Added {
		if err := l.coord.Apply(tx, accounts, asOf); err != nil {
			log.Printf("[Ledger] balance apply failed for %s: %v", tx.ID, err)
		}
	}
	if len(result.Added) > 0 {
		l.requestPersist(persistRequest{save: result.Added})
		l.notifier.publish(Event{Kind: EventBulkAdded, Batch: result.Added})
	}
	return result, nil
}

// =============================================================================
// CACHE INVALIDATION - Narrow by construction
// =============================================================================

// invalidateForLocked drops only entries whose key space the transaction
// could have touched: its accounts and its category dimensions, plus
// catch-all entries.
func (l *Ledger) invalidateForLocked(tx Transaction) {
	subcats := make(map[CategoryID]bool, len(tx.SubcategoryIDs))
	for _, s := range tx.SubcategoryIDs {
		subcats[s] = true
	}
	l.cache.InvalidateMatching(func(k CacheKey) bool {
		accountHit := k.Account == "" || k.Account == tx.SourceAccountID ||
			(tx.IsTransfer() && k.Account == tx.TargetAccountID)
		categoryHit := k.Category == "" || k.Category == tx.Category || subcats[k.Category]
		return accountHit && categoryHit
	})
}

// =============================================================================
// QUERY SURFACE
// =============================================================================

// Balance returns the published current balance for an account.
func (l *Ledger) Balance(id AccountID) (decimal.Decimal, error) {
	l.mu.RLock()
	_, known := l.accounts[id]
	l.mu.RUnlock()
	if !known {
		return decimal.Zero, ErrAccountNotFound
	}
	if b, ok := l.coord.Balance(id); ok {
		return b, nil
	}
	return decimal.Zero, nil
}

// CategoryTotals returns per-category sums in the base currency for the
// filter window, clamped to now - future-dated transactions contribute
// nothing until their date arrives.
func (l *Ledger) CategoryTotals(filter TimeFilter) map[CategoryID]decimal.Decimal {
	now := l.Now()
	filter = filter.ClampTo(now)

	l.mu.RLock()
	categoryIDs := make([]CategoryID, 0, len(l.categories))
	for id := range l.categories {
		categoryIDs = append(categoryIDs, id)
	}
	l.mu.RUnlock()

	totals := make(map[CategoryID]decimal.Decimal, len(categoryIDs))
	for _, id := range categoryIDs {
		key := CacheKey{Category: id, Bucket: filter.String()}
		if cached, ok := l.cache.Get(key); ok {
			totals[id] = cached
			continue
		}
		total := l.computeCategoryTotal(id, filter)
		totals[id] = total
		if total.IsZero() {
			// An empty sum during a rebuild may reflect half-cleared
			// state; only verified-empty results are cacheable then.
			if !l.cache.RebuildInFlight() {
				l.cache.SetVerifiedEmpty(key)
			}
		} else {
			l.cache.Set(key, total)
		}
	}
	return totals
}

func (l *Ledger) computeCategoryTotal(id CategoryID, filter TimeFilter) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, tx := range l.transactions {
		if tx.IsTransfer() {
			continue // transfers move money, they don't spend it
		}
		if tx.Category != id && !containsCategory(tx.SubcategoryIDs, id) {
			continue
		}
		if !filter.Contains(tx.Date) {
			continue
		}
		total = total.Add(l.engine.BaseAmount(tx))
	}
	return total
}

func containsCategory(ids []CategoryID, id CategoryID) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

// Transactions returns the filtered transaction list, ascending by date.
func (l *Ledger) Transactions(filter TimeFilter) []Transaction {
	l.mu.RLock()
	out := make([]Transaction, 0, len(l.transactions))
	for _, tx := range l.transactions {
		if filter.Contains(tx.Date) {
			out = append(out, tx)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Account returns a reference-set entry.
func (l *Ledger) Account(id AccountID) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[id]
	return a, ok
}

// =============================================================================
// TIME ADVANCE - Future-dated transactions maturing
// =============================================================================

// AdvanceTo applies every transaction dated in (last advance, now] to the
// published balances. Recurring projections months ahead stay invisible
// until their dates arrive; this is what makes them arrive.
func (l *Ledger) AdvanceTo(now Date) {
	l.mu.Lock()
	from := l.watermarkLocked()
	if !now.After(from) {
		l.mu.Unlock()
		return
	}
	l.advancedTo = now

	var matured []Transaction
	for _, tx := range l.transactions {
		if tx.Date.After(from) && tx.Date.BeforeOrEqual(now) {
			matured = append(matured, tx)
		}
	}
	for _, tx := range matured {
		l.invalidateForLocked(tx)
	}
	accounts := l.snapshotAccountsLocked()
	l.mu.Unlock()

	for _, tx := range matured {
		if err := l.coord.Apply(tx, accounts, now); err != nil {
			log.Printf("[Ledger] matured apply failed for %s: %v", tx.ID, err)
		}
	}
	if len(matured) > 0 {
		l.requestPersist(persistRequest{})
	}
}

// =============================================================================
// FULL RECALCULATION - The only legitimate InvalidateAll caller
// =============================================================================

// FullRecalculate rebuilds every published balance by full replay and
// flushes the whole cache. Used after bulk import; cancellable before the
// rebuild commits, atomic once it starts.
func (l *Ledger) FullRecalculate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}

	l.cache.BeginRebuild()
	defer l.cache.EndRebuild()
	l.cache.InvalidateAll()

	l.mu.RLock()
	accounts := l.snapshotAccountsLocked()
	txs := l.snapshotTransactionsLocked()
	asOf := l.advancedTo
	l.mu.RUnlock()
	if asOf.IsZero() {
		asOf = l.Now()
	}

	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	l.coord.Seed(accounts, txs, asOf)
	l.requestPersist(persistRequest{})
	l.notifier.publish(Event{Kind: EventRecalculated})
	return nil
}

func (l *Ledger) snapshotAccountsLocked() map[AccountID]Account {
	out := make(map[AccountID]Account, len(l.accounts))
	for id, a := range l.accounts {
		out[id] = a
	}
	return out
}

func (l *Ledger) snapshotTransactionsLocked() []Transaction {
	out := make([]Transaction, 0, len(l.transactions))
	for _, tx := range l.transactions {
		out = append(out, tx)
	}
	return out
}

// =============================================================================
// PERSISTENCE WORKER - Async, retried, ahead-of-disk on failure
// =============================================================================

type persistRequest struct {
	save          []Transaction
	deletes       []TransactionID
	occs          []RecurringOccurrence
	occDeletes    []RecurringOccurrence
	series        []RecurringSeries
	seriesDeletes []SeriesID
}

const persistRetryBase = 250 * time.Millisecond

func (l *Ledger) requestPersist(req persistRequest) {
	if l.repo == nil {
		return
	}
	select {
	case l.persist <- req:
	case <-l.done:
	}
}

func (l *Ledger) persistWorker() {
	defer l.wg.Done()
	for {
		select {
		case req := <-l.persist:
			l.persistWithRetry(req)
		case <-l.done:
			for {
				select {
				case req := <-l.persist:
					l.persistWithRetry(req)
				default:
					return
				}
			}
		}
	}
}

func (l *Ledger) persistWithRetry(req persistRequest) {
	ctx := context.Background()
	for attempt := 1; ; attempt++ {
		err := l.persistOnce(ctx, req, attempt)
		if err == nil {
			return
		}
		log.Printf("[Ledger] persistence attempt %d failed: %v", attempt, err)
		select {
		case <-time.After(persistRetryBase * time.Duration(attempt)):
		case <-l.done:
			if attempt >= 3 {
				log.Printf("[Ledger] shutting down with unpersisted state: %v", err)
				return
			}
		}
	}
}

func (l *Ledger) persistOnce(ctx context.Context, req persistRequest, attempt int) error {
	if len(req.deletes) > 0 {
		if err := l.repo.DeleteTransactions(ctx, req.deletes); err != nil {
			l.coord.report(&PersistenceFailure{Op: "delete_transactions", Attempts: attempt, Err: err})
			return err
		}
	}
	if len(req.save) > 0 {
		l.mu.RLock()
		accounts := make([]Account, 0, len(l.accounts))
		for _, a := range l.accounts {
			accounts = append(accounts, a)
		}
		l.mu.RUnlock()
		if err := l.repo.Save(ctx, req.save, accounts); err != nil {
			l.coord.report(&PersistenceFailure{Op: "save", Attempts: attempt, Err: err})
			return err
		}
	}
	if len(req.occs) > 0 {
		if err := l.repo.SaveOccurrences(ctx, req.occs); err != nil {
			l.coord.report(&PersistenceFailure{Op: "save_occurrences", Attempts: attempt, Err: err})
			return err
		}
	}
	if len(req.occDeletes) > 0 {
		if err := l.repo.DeleteOccurrences(ctx, req.occDeletes); err != nil {
			l.coord.report(&PersistenceFailure{Op: "delete_occurrences", Attempts: attempt, Err: err})
			return err
		}
	}
	if len(req.series) > 0 {
		if err := l.repo.SaveRecurringSeries(ctx, req.series); err != nil {
			l.coord.report(&PersistenceFailure{Op: "save_series", Attempts: attempt, Err: err})
			return err
		}
	}
	if len(req.seriesDeletes) > 0 {
		if err := l.repo.DeleteRecurringSeries(ctx, req.seriesDeletes); err != nil {
			l.coord.report(&PersistenceFailure{Op: "delete_series", Attempts: attempt, Err: err})
			return err
		}
	}
	return l.coord.Flush(ctx, l.repo, attempt)
}

// FlushNow synchronously persists pending balances. Intended for shutdown
// and tests; normal operation goes through the worker.
func (l *Ledger) FlushNow(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	return l.coord.Flush(ctx, l.repo, 1)
}
