/*
series.go - Recurring series lifecycle on the ledger

PURPOSE:
  Series CRUD plus materialization. All of it routes through the same
  event pipeline as plain transactions: materialized occurrences enter via
  the bulk path (one event, one invalidation per run), regeneration after
  a material edit deletes and re-creates only future occurrences, and
  deleting a series demands an explicit cascade-or-detach decision.

OCCURRENCE RECORDS:
  The ledger co-owns the (series, date) markers the projection engine
  dedups against. Deleting a generated transaction keeps its marker, so
  the occurrence never comes back on its own. Regeneration is the one
  path that removes future markers - on purpose, to let the new series
  definition fill the dates in again.

SEE ALSO:
  - projection.go: The pure generation algorithm
  - ledger.go: Add/Delete/BulkAdd primitives used here
*/
package ledger

import (
	"context"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/warp/ledger-engine/money"
)

// =============================================================================
// SERIES CRUD
// =============================================================================

// CreateSeries validates and stores a series template, then announces it
// with its next charge date so the reminder collaborator can schedule.
func (l *Ledger) CreateSeries(ctx context.Context, s RecurringSeries) (RecurringSeries, error) {
	if s.ID == "" {
		s.ID = SeriesID(uuid.NewString())
	}
	if err := l.validateSeries(s); err != nil {
		return RecurringSeries{}, err
	}

	l.mu.Lock()
	l.series[s.ID] = s
	l.mu.Unlock()

	l.requestPersist(persistRequest{series: []RecurringSeries{s}})
	l.publishSeriesEvent(EventSeriesCreated, s)
	return s, nil
}

// UpdateSeries replaces a series definition. Material changes (amount,
// frequency, category, accounts - not description-only edits) delete and
// regenerate all future occurrences; past occurrences are immutable
// history and are never touched.
func (l *Ledger) UpdateSeries(ctx context.Context, s RecurringSeries) error {
	if err := l.validateSeries(s); err != nil {
		return err
	}

	l.mu.Lock()
	old, ok := l.series[s.ID]
	if !ok {
		l.mu.Unlock()
		return ErrSeriesNotFound
	}
	l.series[s.ID] = s
	l.mu.Unlock()

	if NeedsRegeneration(old, s) {
		now := l.Now()
		if err := l.dropFutureOccurrences(ctx, s.ID, now); err != nil {
			return err
		}
	}

	l.requestPersist(persistRequest{series: []RecurringSeries{s}})
	l.publishSeriesEvent(EventSeriesUpdated, s)
	return nil
}

// StopSeries deletes future occurrences from the given date and marks the
// series inactive. Past occurrences stay.
func (l *Ledger) StopSeries(ctx context.Context, id SeriesID, from Date) error {
	l.mu.Lock()
	s, ok := l.series[id]
	if !ok {
		l.mu.Unlock()
		return ErrSeriesNotFound
	}
	s.IsActive = false
	if s.IsSubscription && s.SubscriptionStatus == SubscriptionActive {
		s.SubscriptionStatus = SubscriptionPaused
	}
	l.series[id] = s
	l.mu.Unlock()

	if err := l.dropFutureOccurrences(ctx, id, from); err != nil {
		return err
	}
	l.requestPersist(persistRequest{series: []RecurringSeries{s}})
	l.publishSeriesEvent(EventSeriesStopped, s)
	return nil
}

// DeleteSeries removes a series. Mode is mandatory: cascade-delete every
// generated transaction, or detach them into ordinary records. Nothing
// cascades silently.
func (l *Ledger) DeleteSeries(ctx context.Context, id SeriesID, mode DeleteMode) error {
	if !mode.valid() {
		return &ValidationError{Field: "mode", Reason: "delete mode must be cascade or detach"}
	}

	l.mu.Lock()
	s, ok := l.series[id]
	if !ok {
		l.mu.Unlock()
		return ErrSeriesNotFound
	}
	delete(l.series, id)

	var owned []Transaction
	for _, tx := range l.transactions {
		if tx.SeriesID == id {
			owned = append(owned, tx)
		}
	}
	var droppedMarkers []RecurringOccurrence
	for key, occ := range l.occurrences {
		if occ.SeriesID == id {
			delete(l.occurrences, key)
			droppedMarkers = append(droppedMarkers, occ)
		}
	}
	l.mu.Unlock()

	switch mode {
	case CascadeDelete:
		for _, tx := range owned {
			if err := l.Delete(ctx, tx.ID); err != nil && !IsNotFound(err) {
				return err
			}
		}
	case DetachTransactions:
		for _, tx := range owned {
			detached := tx
			detached.SeriesID = ""
			detached.OccurrenceID = ""
			if err := l.Update(ctx, tx.ID, detached); err != nil && !IsNotFound(err) {
				return err
			}
		}
	}

	l.requestPersist(persistRequest{seriesDeletes: []SeriesID{id}, occDeletes: droppedMarkers})
	l.publishSeriesEvent(EventSeriesDeleted, s)
	return nil
}

// Series returns a stored series template.
func (l *Ledger) Series(id SeriesID) (RecurringSeries, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.series[id]
	return s, ok
}

// AllSeries returns every stored series template.
func (l *Ledger) AllSeries() []RecurringSeries {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]RecurringSeries, 0, len(l.series))
	for _, s := range l.series {
		out = append(out, s)
	}
	return out
}

func (l *Ledger) validateSeries(s RecurringSeries) error {
	if s.Amount.IsNegative() || s.Amount.IsZero() {
		return &ValidationError{Field: "amount", Reason: "must be positive", Err: ErrInvalidAmount}
	}
	if s.Currency == "" || !money.ValidCurrency(s.Currency) {
		return &ValidationError{Field: "currency", Reason: "unknown currency " + s.Currency, Err: ErrInvalidAmount}
	}
	if s.AnchorDate.IsZero() {
		return &ValidationError{Field: "anchor_date", Reason: "required"}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.accounts[s.SourceAccountID]; !ok {
		return &ValidationError{Field: "source_account_id", Reason: "unknown account " + string(s.SourceAccountID), Err: ErrAccountNotFound}
	}
	if s.TargetAccountID != "" {
		if s.TargetAccountID == s.SourceAccountID {
			return &ValidationError{Field: "target_account_id", Reason: "source and target are the same", Err: ErrSelfTransfer}
		}
		if _, ok := l.accounts[s.TargetAccountID]; !ok {
			return &ValidationError{Field: "target_account_id", Reason: "unknown account " + string(s.TargetAccountID), Err: ErrAccountNotFound}
		}
	}
	if s.Category != "" {
		if _, ok := l.categories[s.Category]; !ok {
			return &ValidationError{Field: "category", Reason: "unknown category " + string(s.Category), Err: ErrCategoryNotFound}
		}
	}
	return nil
}

// dropFutureOccurrences removes occurrence markers and transactions dated
// strictly after the cutoff. Markers go too: regeneration must be able to
// fill those dates again.
func (l *Ledger) dropFutureOccurrences(ctx context.Context, id SeriesID, after Date) error {
	l.mu.Lock()
	var doomed []TransactionID
	var dropped []RecurringOccurrence
	for key, occ := range l.occurrences {
		if occ.SeriesID == id && occ.Date.After(after) {
			delete(l.occurrences, key)
			dropped = append(dropped, occ)
			if occ.TransactionID != "" {
				doomed = append(doomed, occ.TransactionID)
			}
		}
	}
	l.mu.Unlock()

	for _, txID := range doomed {
		if err := l.Delete(ctx, txID); err != nil && !IsNotFound(err) {
			return err
		}
	}
	// Marker removal must reach disk too, or a stale persisted marker
	// would suppress regeneration of these dates after a restart.
	if len(dropped) > 0 {
		l.requestPersist(persistRequest{occDeletes: dropped})
	}
	return nil
}

// =============================================================================
// MATERIALIZATION - Projection output through the bulk path
// =============================================================================

// MaterializeOccurrences runs the projection engine for every series and
// inserts what should exist but does not, as one bulk event per run.
// Deterministic ids make a concurrent second run collapse into duplicate
// rejections instead of duplicate charges.
func (l *Ledger) MaterializeOccurrences(ctx context.Context, horizon Horizon) (int, error) {
	now := l.Now()

	l.mu.RLock()
	series := make([]RecurringSeries, 0, len(l.series))
	for _, s := range l.series {
		series = append(series, s)
	}
	existing := make(map[string]bool, len(l.occurrences))
	for key := range l.occurrences {
		existing[key] = true
	}
	l.mu.RUnlock()

	var txs []Transaction
	var occs []RecurringOccurrence
	for _, s := range series {
		generated := l.projection.Generate(ProjectionInput{
			Series:       s,
			ExistingKeys: existing,
			Now:          now,
			Horizon:      horizon,
		})
		for _, g := range generated {
			txs = append(txs, g.Transaction)
			occs = append(occs, g.Occurrence)
		}
	}
	if len(txs) == 0 {
		return 0, nil
	}

	result, err := l.BulkAdd(ctx, txs)
	if err != nil {
		return 0, err
	}
	for _, rej := range result.Rejected {
		log.Printf("[Ledger] occurrence rejected (%d): %v", rej.Index, rej.Err)
	}

	// Record markers only for what was actually applied.
	applied := make(map[TransactionID]bool, len(result.Added))
	for _, tx := range result.Added {
		applied[tx.ID] = true
	}
	var kept []RecurringOccurrence
	l.mu.Lock()
	for _, occ := range occs {
		if applied[occ.TransactionID] {
			l.occurrences[occ.Key()] = occ
			kept = append(kept, occ)
		}
	}
	l.mu.Unlock()

	if len(kept) > 0 {
		l.requestPersist(persistRequest{occs: kept})
	}
	return len(result.Added), nil
}

// PlannedTransactions returns the existing plus still-projected
// transactions of one series up to the horizon, ascending by date.
func (l *Ledger) PlannedTransactions(id SeriesID, horizon Horizon) ([]Transaction, error) {
	now := l.Now()

	l.mu.RLock()
	s, ok := l.series[id]
	if !ok {
		l.mu.RUnlock()
		return nil, ErrSeriesNotFound
	}
	existing := make(map[string]bool, len(l.occurrences))
	for key, occ := range l.occurrences {
		if occ.SeriesID == id {
			existing[key] = true
		}
	}
	var planned []Transaction
	for _, tx := range l.transactions {
		if tx.SeriesID == id {
			planned = append(planned, tx)
		}
	}
	l.mu.RUnlock()

	for _, g := range l.projection.Generate(ProjectionInput{
		Series:       s,
		ExistingKeys: existing,
		Now:          now,
		Horizon:      horizon,
	}) {
		planned = append(planned, g.Transaction)
	}

	sortTransactionsByDate(planned)
	return planned, nil
}

// NextChargeDate returns the next generation date of a series, or
// ok=false for a series that no longer generates.
func (l *Ledger) NextChargeDate(id SeriesID) (Date, bool, error) {
	l.mu.RLock()
	s, ok := l.series[id]
	l.mu.RUnlock()
	if !ok {
		return Date{}, false, ErrSeriesNotFound
	}
	next, generating := NextChargeDate(s, l.Now())
	return next, generating, nil
}

func (l *Ledger) publishSeriesEvent(kind EventKind, s RecurringSeries) {
	ev := Event{Kind: kind, Series: &s}
	if next, ok := NextChargeDate(s, l.Now()); ok {
		ev.NextCharge = &next
	}
	l.notifier.publish(ev)
}

func sortTransactionsByDate(txs []Transaction) {
	sortSlice := func(i, j int) bool {
		if txs[i].Date.Equal(txs[j].Date) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].Date.Before(txs[j].Date)
	}
	sort.Slice(txs, sortSlice)
}
