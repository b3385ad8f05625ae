/*
projection.go - Recurring transaction projection

PURPOSE:
  Given the recurring series and a horizon (e.g. 3 months ahead), produce
  the transactions that should exist but do not yet - without ever
  producing one twice.

DEDUPLICATION, TWO LAYERS:
  1. Occurrence records: one RecurringOccurrence per (series, date) is the
     authoritative "already generated" marker. It survives deletion of the
     transaction it points at, so a user who deletes a generated charge
     never sees it resurrected on the next projection run.
  2. Deterministic ids: a projected transaction's id is derived from
     (series, date, amount, description). Re-running projection produces
     byte-identical ids, so a racing second insert is rejected by the
     ledger as a duplicate instead of doubling the charge.

REGENERATION:
  Editing a series regenerates only FUTURE occurrences, and only when the
  edit is material (amount, frequency, category, accounts, kind). Past
  occurrences are history and are never touched. Description-only edits
  regenerate nothing.

SEE ALSO:
  - ledger.go: MaterializeOccurrences feeds this engine's output through
    BulkAdd so downstream invalidation happens once per run
  - types.go: OccurrenceKey definition
*/
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// =============================================================================
// PROJECTION ENGINE
// =============================================================================

// ProjectionEngine generates future occurrences of recurring series.
// It is pure: the same inputs always yield the same output, and it never
// mutates ledger state itself.
type ProjectionEngine struct{}

// Horizon bounds how far ahead occurrences are materialized.
type Horizon struct {
	Months int
}

func (h Horizon) end(now Date) Date {
	months := h.Months
	if months <= 0 {
		months = 3
	}
	return now.AddMonths(months)
}

// ProjectionInput is one series plus everything needed to dedup against
// what already exists.
type ProjectionInput struct {
	Series RecurringSeries

	// Existing occurrence keys for this series (see OccurrenceKey).
	// Presence of a key suppresses generation for that date regardless of
	// whether the transaction still exists.
	ExistingKeys map[string]bool

	Now     Date
	Horizon Horizon
}

// ProjectedOccurrence pairs a synthesized transaction with its occurrence
// record. Both are inserted atomically by the ledger.
type ProjectedOccurrence struct {
	Transaction Transaction
	Occurrence  RecurringOccurrence
}

// Generate enumerates dates from the series anchor forward by frequency up
// to the horizon and synthesizes a transaction for every date that has no
// occurrence record yet. Output is sorted ascending by date.
func (pe *ProjectionEngine) Generate(in ProjectionInput) []ProjectedOccurrence {
	series := in.Series
	if !series.generating() || series.AnchorDate.IsZero() {
		return nil
	}

	end := in.Horizon.end(in.Now)
	var out []ProjectedOccurrence

	for date := series.AnchorDate; date.BeforeOrEqual(end); date = date.Step(series.Frequency) {
		key := OccurrenceKey(series.ID, date)
		if in.ExistingKeys[key] {
			continue
		}
		tx := pe.synthesize(series, date)
		out = append(out, ProjectedOccurrence{
			Transaction: tx,
			Occurrence: RecurringOccurrence{
				ID:            key,
				SeriesID:      series.ID,
				Date:          date,
				TransactionID: tx.ID,
			},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Transaction.Date.Before(out[j].Transaction.Date)
	})
	return out
}

// synthesize builds the concrete transaction for one occurrence date.
func (pe *ProjectionEngine) synthesize(series RecurringSeries, date Date) Transaction {
	kind := series.Kind
	if kind == "" {
		kind = Expense
	}
	return Transaction{
		ID:              DeterministicID(series.ID, date, series.Amount.String(), series.Description),
		Date:            date,
		Amount:          series.Amount,
		Currency:        series.Currency,
		Kind:            kind,
		Category:        series.Category,
		Description:     series.Description,
		SourceAccountID: series.SourceAccountID,
		TargetAccountID: series.TargetAccountID,
		SeriesID:        series.ID,
		OccurrenceID:    OccurrenceKey(series.ID, date),
		CreatedAt:       date,
	}
}

// DeterministicID derives a stable transaction id from the occurrence
// inputs. Two projection runs over the same series state produce identical
// ids, so the ledger's duplicate check is the natural second guard.
func DeterministicID(seriesID SeriesID, date Date, amount, description string) TransactionID {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", seriesID, date, amount, description)))
	return TransactionID("occ-" + hex.EncodeToString(sum[:16]))
}

// =============================================================================
// REGENERATION POLICY
// =============================================================================

// NeedsRegeneration reports whether an edit to a series changes its future
// occurrences. Description-only edits do not.
func NeedsRegeneration(old, updated RecurringSeries) bool {
	switch {
	case !old.Amount.Equal(updated.Amount),
		old.Currency != updated.Currency,
		old.Frequency != updated.Frequency,
		!old.AnchorDate.Equal(updated.AnchorDate),
		old.Category != updated.Category,
		old.Kind != updated.Kind,
		old.SourceAccountID != updated.SourceAccountID,
		old.TargetAccountID != updated.TargetAccountID:
		return true
	}
	return false
}

// NextChargeDate returns the first generation date strictly after now, or
// ok=false for a series that no longer generates.
func NextChargeDate(series RecurringSeries, now Date) (Date, bool) {
	if !series.generating() || series.AnchorDate.IsZero() {
		return Date{}, false
	}
	date := series.AnchorDate
	for date.BeforeOrEqual(now) {
		date = date.Step(series.Frequency)
	}
	return date, true
}

// =============================================================================
// DELETE SEMANTICS
// =============================================================================

// DeleteMode decides what happens to a deleted series' transactions.
// There is no default: callers must choose, so nothing cascades silently.
type DeleteMode int

const (
	// CascadeDelete removes every transaction the series generated.
	CascadeDelete DeleteMode = iota + 1
	// DetachTransactions keeps them as ordinary non-recurring records.
	DetachTransactions
)

func (m DeleteMode) valid() bool {
	return m == CascadeDelete || m == DetachTransactions
}
