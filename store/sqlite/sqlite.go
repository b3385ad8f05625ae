/*
Package sqlite provides a SQLite-backed Repository implementation.

PURPOSE:
  The single-node durable backend. The ledger treats this as its only
  durability boundary: in-memory state is the cache of this store, not
  the reverse.

KEY TABLES:
  transactions:  The transaction set (upserted; the ledger owns semantics)
  accounts:      Reference set + last persisted balance column
  categories:    Reference set
  series:        Recurring series templates
  occurrences:   (series, date) generation markers - survive transaction
                 deletion on purpose

BATCHED BALANCE WRITES:
  UpdateAccountBalances writes N accounts in one SQL transaction - one
  call per flush, never one call per account.

WAL MODE:
  SQLite is opened with WAL so readers don't block the single writer and
  crash recovery is sane.

SEE ALSO:
  - ledger/repository.go: Contract definition
  - store/memory.go: In-memory implementation for tests
  - store/postgres: The shared-server sibling
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		converted_amount TEXT,
		kind TEXT NOT NULL,
		category TEXT,
		subcategory_ids TEXT,
		description TEXT,
		source_account_id TEXT NOT NULL,
		target_account_id TEXT,
		target_amount TEXT,
		target_currency TEXT,
		series_id TEXT,
		occurrence_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_transactions_source_account
		ON transactions(source_account_id, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_category
		ON transactions(category) WHERE category IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_series
		ON transactions(series_id) WHERE series_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT,
		currency TEXT NOT NULL,
		is_deposit BOOLEAN DEFAULT FALSE,
		calculation_mode TEXT NOT NULL,
		initial_balance TEXT NOT NULL DEFAULT '0',
		imported_balance TEXT NOT NULL DEFAULT '0',
		-- last persisted published balance; always derived, never edited
		current_balance TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		parent_id TEXT
	);

	CREATE TABLE IF NOT EXISTS series (
		id TEXT PRIMARY KEY,
		frequency_unit TEXT NOT NULL,
		frequency_interval INTEGER NOT NULL DEFAULT 1,
		anchor_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL,
		category TEXT,
		description TEXT,
		source_account_id TEXT NOT NULL,
		target_account_id TEXT,
		is_active BOOLEAN DEFAULT TRUE,
		is_subscription BOOLEAN DEFAULT FALSE,
		subscription_status TEXT
	);

	-- One generation marker per (series, date). The unique index IS the
	-- double-generation guard at the durability level.
	CREATE TABLE IF NOT EXISTS occurrences (
		id TEXT PRIMARY KEY,
		series_id TEXT NOT NULL,
		date TEXT NOT NULL,
		transaction_id TEXT,
		UNIQUE(series_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_occurrences_series
		ON occurrences(series_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOAD SIDE
// =============================================================================

const txColumns = `id, date, amount, currency, converted_amount, kind, category,
	subcategory_ids, description, source_account_id, target_account_id,
	target_amount, target_currency, series_id, occurrence_id, created_at`

func (s *Store) LoadTransactions(ctx context.Context, rng *ledger.DateRange) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + txColumns + ` FROM transactions`
	var args []any
	if rng != nil {
		query += ` WHERE date >= ? AND date <= ?`
		args = append(args, rng.From.String(), rng.To.String())
	}
	query += ` ORDER BY date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx                         ledger.Transaction
		date, amount, createdAt    string
		converted, target, subcats sql.NullString
		category, desc, targetAcc  sql.NullString
		targetCur, seriesID, occID sql.NullString
	)
	err := rows.Scan(&tx.ID, &date, &amount, &tx.Currency, &converted, &tx.Kind,
		&category, &subcats, &desc, &tx.SourceAccountID, &targetAcc,
		&target, &targetCur, &seriesID, &occID, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Date, err = ledger.ParseDate(date); err != nil {
		return tx, fmt.Errorf("bad date for tx %s: %w", tx.ID, err)
	}
	if tx.CreatedAt, err = ledger.ParseDate(createdAt); err != nil {
		return tx, fmt.Errorf("bad created_at for tx %s: %w", tx.ID, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("bad amount for tx %s: %w", tx.ID, err)
	}
	if converted.Valid {
		d, err := decimal.NewFromString(converted.String)
		if err != nil {
			return tx, fmt.Errorf("bad converted_amount for tx %s: %w", tx.ID, err)
		}
		tx.ConvertedAmount = &d
	}
	if target.Valid {
		d, err := decimal.NewFromString(target.String)
		if err != nil {
			return tx, fmt.Errorf("bad target_amount for tx %s: %w", tx.ID, err)
		}
		tx.TargetAmount = &d
	}
	tx.Category = ledger.CategoryID(category.String)
	tx.Description = desc.String
	tx.TargetAccountID = ledger.AccountID(targetAcc.String)
	tx.TargetCurrency = targetCur.String
	tx.SeriesID = ledger.SeriesID(seriesID.String)
	tx.OccurrenceID = occID.String
	tx.SubcategoryIDs = splitIDs(subcats.String)
	return tx, nil
}

func (s *Store) LoadAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, currency, is_deposit, calculation_mode,
		       initial_balance, imported_balance
		FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var (
			a                 ledger.Account
			name              sql.NullString
			initial, imported string
		)
		if err := rows.Scan(&a.ID, &name, &a.Currency, &a.IsDeposit, &a.Mode, &initial, &imported); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Name = name.String
		if a.InitialBalance, err = decimal.NewFromString(initial); err != nil {
			return nil, fmt.Errorf("bad initial_balance for account %s: %w", a.ID, err)
		}
		if a.ImportedBalance, err = decimal.NewFromString(imported); err != nil {
			return nil, fmt.Errorf("bad imported_balance for account %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) LoadCategories(ctx context.Context) ([]ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_id FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []ledger.Category
	for rows.Next() {
		var (
			c      ledger.Category
			parent sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.ParentID = ledger.CategoryID(parent.String)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) LoadRecurringSeries(ctx context.Context) ([]ledger.RecurringSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, frequency_unit, frequency_interval, anchor_date, amount,
		       currency, kind, category, description, source_account_id,
		       target_account_id, is_active, is_subscription, subscription_status
		FROM series`)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var out []ledger.RecurringSeries
	for rows.Next() {
		var (
			sr                   ledger.RecurringSeries
			anchor, amount       string
			category, desc       sql.NullString
			targetAcc, subStatus sql.NullString
		)
		if err := rows.Scan(&sr.ID, &sr.Frequency.Unit, &sr.Frequency.Interval,
			&anchor, &amount, &sr.Currency, &sr.Kind, &category, &desc,
			&sr.SourceAccountID, &targetAcc, &sr.IsActive, &sr.IsSubscription,
			&subStatus); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		if sr.AnchorDate, err = ledger.ParseDate(anchor); err != nil {
			return nil, fmt.Errorf("bad anchor_date for series %s: %w", sr.ID, err)
		}
		if sr.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount for series %s: %w", sr.ID, err)
		}
		sr.Category = ledger.CategoryID(category.String)
		sr.Description = desc.String
		sr.TargetAccountID = ledger.AccountID(targetAcc.String)
		sr.SubscriptionStatus = ledger.SubscriptionStatus(subStatus.String)
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *Store) LoadOccurrences(ctx context.Context) ([]ledger.RecurringOccurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, series_id, date, transaction_id FROM occurrences`)
	if err != nil {
		return nil, fmt.Errorf("failed to query occurrences: %w", err)
	}
	defer rows.Close()

	var out []ledger.RecurringOccurrence
	for rows.Next() {
		var (
			o    ledger.RecurringOccurrence
			date string
			txID sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.SeriesID, &date, &txID); err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		if o.Date, err = ledger.ParseDate(date); err != nil {
			return nil, fmt.Errorf("bad date for occurrence %s: %w", o.ID, err)
		}
		o.TransactionID = ledger.TransactionID(txID.String)
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// SAVE SIDE
// =============================================================================

// Save upserts transactions and accounts in one SQL transaction.
func (s *Store) Save(ctx context.Context, txs []ledger.Transaction, accounts []ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := upsertTransaction(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	for _, a := range accounts {
		if err := upsertAccount(ctx, sqlTx, a); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func upsertTransaction(ctx context.Context, sqlTx *sql.Tx, tx ledger.Transaction) error {
	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date=excluded.date, amount=excluded.amount, currency=excluded.currency,
			converted_amount=excluded.converted_amount, kind=excluded.kind,
			category=excluded.category, subcategory_ids=excluded.subcategory_ids,
			description=excluded.description,
			source_account_id=excluded.source_account_id,
			target_account_id=excluded.target_account_id,
			target_amount=excluded.target_amount,
			target_currency=excluded.target_currency,
			series_id=excluded.series_id, occurrence_id=excluded.occurrence_id`,
		tx.ID,
		tx.Date.String(),
		tx.Amount.String(),
		tx.Currency,
		nullDecimal(tx.ConvertedAmount),
		tx.Kind,
		nullString(string(tx.Category)),
		nullString(joinIDs(tx.SubcategoryIDs)),
		nullString(tx.Description),
		tx.SourceAccountID,
		nullString(string(tx.TargetAccountID)),
		nullDecimal(tx.TargetAmount),
		nullString(tx.TargetCurrency),
		nullString(string(tx.SeriesID)),
		nullString(tx.OccurrenceID),
		tx.CreatedAt.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", tx.ID, err)
	}
	return nil
}

func upsertAccount(ctx context.Context, sqlTx *sql.Tx, a ledger.Account) error {
	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO accounts (id, name, currency, is_deposit, calculation_mode,
		                      initial_balance, imported_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, currency=excluded.currency,
			is_deposit=excluded.is_deposit,
			calculation_mode=excluded.calculation_mode,
			initial_balance=excluded.initial_balance,
			imported_balance=excluded.imported_balance`,
		a.ID, a.Name, a.Currency, a.IsDeposit, a.Mode,
		a.InitialBalance.String(), a.ImportedBalance.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) SaveOccurrences(ctx context.Context, occs []ledger.RecurringOccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, o := range occs {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO occurrences (id, series_id, date, transaction_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(series_id, date) DO UPDATE SET
				transaction_id=excluded.transaction_id`,
			o.ID, o.SeriesID, o.Date.String(), nullString(string(o.TransactionID)))
		if err != nil {
			return fmt.Errorf("failed to upsert occurrence %s: %w", o.ID, err)
		}
	}
	return sqlTx.Commit()
}

// DeleteOccurrences removes generation markers by their (series, date)
// pair. Distinct from transaction deletion, which leaves markers in
// place on purpose.
func (s *Store) DeleteOccurrences(ctx context.Context, occs []ledger.RecurringOccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, o := range occs {
		if _, err := sqlTx.ExecContext(ctx,
			`DELETE FROM occurrences WHERE series_id = ? AND date = ?`,
			o.SeriesID, o.Date.String()); err != nil {
			return fmt.Errorf("failed to delete occurrence %s: %w", o.Key(), err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) SaveRecurringSeries(ctx context.Context, series []ledger.RecurringSeries) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, sr := range series {
		if err := upsertSeries(ctx, sqlTx, sr); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func upsertSeries(ctx context.Context, sqlTx *sql.Tx, sr ledger.RecurringSeries) error {
	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO series (id, frequency_unit, frequency_interval, anchor_date,
			amount, currency, kind, category, description, source_account_id,
			target_account_id, is_active, is_subscription, subscription_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			frequency_unit=excluded.frequency_unit,
			frequency_interval=excluded.frequency_interval,
			anchor_date=excluded.anchor_date, amount=excluded.amount,
			currency=excluded.currency, kind=excluded.kind,
			category=excluded.category, description=excluded.description,
			source_account_id=excluded.source_account_id,
			target_account_id=excluded.target_account_id,
			is_active=excluded.is_active,
			is_subscription=excluded.is_subscription,
			subscription_status=excluded.subscription_status`,
		sr.ID, sr.Frequency.Unit, sr.Frequency.Interval, sr.AnchorDate.String(),
		sr.Amount.String(), sr.Currency, sr.Kind,
		nullString(string(sr.Category)), nullString(sr.Description),
		sr.SourceAccountID, nullString(string(sr.TargetAccountID)),
		sr.IsActive, sr.IsSubscription, nullString(string(sr.SubscriptionStatus)),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert series %s: %w", sr.ID, err)
	}
	return nil
}

func (s *Store) DeleteRecurringSeries(ctx context.Context, ids []ledger.SeriesID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, id := range ids {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM series WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete series %s: %w", id, err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) DeleteTransactions(ctx context.Context, ids []ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, id := range ids {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete transaction %s: %w", id, err)
		}
	}
	return sqlTx.Commit()
}

// UpdateAccountBalances writes N published balances in one SQL
// transaction - one call per flush.
func (s *Store) UpdateAccountBalances(ctx context.Context, balances map[ledger.AccountID]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for id, balance := range balances {
		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE accounts SET current_balance = ? WHERE id = ?`,
			balance.String(), id); err != nil {
			return fmt.Errorf("failed to update balance for %s: %w", id, err)
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func joinIDs(ids []ledger.CategoryID) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += string(id)
	}
	return out
}

func splitIDs(s string) []ledger.CategoryID {
	if s == "" {
		return nil
	}
	var out []ledger.CategoryID
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, ledger.CategoryID(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
