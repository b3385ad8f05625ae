/*
series_test.go - Recurring series lifecycle on the ledger

ORGANIZATION:
  1. Materialization - occurrences through the bulk path
  2. No-resurrection - deleted occurrences stay deleted
  3. Regeneration - material edits rebuild the future only
  4. Stop and delete semantics - explicit cascade-or-detach
*/
package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store"
)

// newSeriesLedger pins the clock to 2026-02-09 so materialization windows
// are stable regardless of when the test runs.
func newSeriesLedger(t *testing.T) (*ledger.Ledger, ledger.Date) {
	t.Helper()
	l := newTestLedger(t)
	now := ledger.NewDate(2026, time.February, 9)
	l.Now = func() ledger.Date { return now }
	return l, now
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

func TestMaterialize_MonthlySeries_FourOccurrences(t *testing.T) {
	// GIVEN: A monthly series of 10 anchored 2026-02-09
	// WHEN: Materializing with a 3-month horizon
	// THEN: Exactly 4 transactions exist (current + 3 future), each backed
	//       by a unique occurrence marker

	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)

	n, err := l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	planned, err := l.PlannedTransactions(s.ID, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	require.Len(t, planned, 4)

	seen := make(map[string]bool)
	for _, tx := range planned {
		require.NotEmpty(t, tx.OccurrenceID)
		assert.False(t, seen[tx.OccurrenceID], "occurrence key %s appears twice", tx.OccurrenceID)
		seen[tx.OccurrenceID] = true
	}

	// Only the current occurrence counts toward the balance; the three
	// future ones wait for their dates.
	assert.Equal(t, "990", mustBalance(t, l, "a"))
}

func TestMaterialize_SecondRunGeneratesNothing(t *testing.T) {
	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	_, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)

	first, err := l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	require.Equal(t, 4, first)

	second, err := l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, second, "materialization is idempotent")
}

// =============================================================================
// NO-RESURRECTION
// =============================================================================

func TestMaterialize_DeletedOccurrence_NeverResurrected(t *testing.T) {
	// GIVEN: A generated occurrence the user manually deleted
	// WHEN: Materialization runs again
	// THEN: The occurrence stays gone - the marker outlives the transaction

	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)
	_, err = l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)

	planned, err := l.PlannedTransactions(s.ID, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	victim := planned[2] // 2026-04-09
	require.NoError(t, l.Delete(ctx, victim.ID))

	n, err := l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "deleted occurrence must not come back")

	remaining := l.Transactions(ledger.TimeFilter{})
	for _, tx := range remaining {
		assert.NotEqual(t, victim.ID, tx.ID)
	}
	assert.Len(t, remaining, 3)
}

// =============================================================================
// REGENERATION
// =============================================================================

func TestUpdateSeries_AmountChange_RegeneratesFutureOnly(t *testing.T) {
	// GIVEN: A materialized monthly series of 10
	// WHEN: The amount changes to 20 and materialization runs again
	// THEN: Future occurrences carry 20; the already-elapsed one keeps 10

	l, now := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)
	_, err = l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)

	edited := s
	edited.Amount = dec("20")
	require.NoError(t, l.UpdateSeries(ctx, edited))

	n, err := l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "the three future dates regenerate")

	planned, err := l.PlannedTransactions(s.ID, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	require.Len(t, planned, 4)
	for _, tx := range planned {
		if tx.Date.After(now) {
			assert.True(t, tx.Amount.Equal(dec("20")), "future occurrence on %s must carry the new amount", tx.Date)
		} else {
			assert.True(t, tx.Amount.Equal(dec("10")), "elapsed occurrence is immutable history")
		}
	}
}

func TestUpdateSeries_DescriptionOnlyEdit_NoRegeneration(t *testing.T) {
	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)
	_, err = l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)

	edited := s
	edited.Description = "apartment rent"
	require.NoError(t, l.UpdateSeries(ctx, edited))

	n, err := l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a description edit must not touch occurrences")
	assert.Len(t, l.Transactions(ledger.TimeFilter{}), 4)
}

// =============================================================================
// STOP AND DELETE
// =============================================================================

func TestStopSeries_DropsFutureKeepsPast(t *testing.T) {
	// GIVEN: A materialized series
	// WHEN: Stopped as of today
	// THEN: Future occurrences are deleted, the elapsed one survives, and
	//       the series stops charging

	l, now := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)
	_, err = l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)

	require.NoError(t, l.StopSeries(ctx, s.ID, now))

	txs := l.Transactions(ledger.TimeFilter{})
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Date.Equal(ledger.NewDate(2026, time.February, 9)))

	stopped, ok := l.Series(s.ID)
	require.True(t, ok)
	assert.False(t, stopped.IsActive)

	_, generating, err := l.NextChargeDate(s.ID)
	require.NoError(t, err)
	assert.False(t, generating)
}

func TestDeleteSeries_ModeIsMandatory(t *testing.T) {
	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)

	var unset ledger.DeleteMode
	err = l.DeleteSeries(ctx, s.ID, unset)

	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err), "nothing may cascade silently")
	_, ok := l.Series(s.ID)
	assert.True(t, ok, "series survives the rejected delete")
}

func TestDeleteSeries_Cascade_RemovesOwnedTransactions(t *testing.T) {
	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)
	_, err = l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	require.Len(t, l.Transactions(ledger.TimeFilter{}), 4)

	require.NoError(t, l.DeleteSeries(ctx, s.ID, ledger.CascadeDelete))

	assert.Empty(t, l.Transactions(ledger.TimeFilter{}))
	assert.Equal(t, "1000", mustBalance(t, l, "a"), "cascaded deletes revert their balance effect")
	_, ok := l.Series(s.ID)
	assert.False(t, ok)
}

func TestDeleteSeries_Detach_KeepsTransactionsAsStandalone(t *testing.T) {
	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9)))
	require.NoError(t, err)
	_, err = l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)

	require.NoError(t, l.DeleteSeries(ctx, s.ID, ledger.DetachTransactions))

	txs := l.Transactions(ledger.TimeFilter{})
	require.Len(t, txs, 4)
	for _, tx := range txs {
		assert.Empty(t, tx.SeriesID, "detached transaction keeps no series back-reference")
		assert.Empty(t, tx.OccurrenceID)
	}
	assert.Equal(t, "990", mustBalance(t, l, "a"), "detaching changes ownership, not balances")
}

// =============================================================================
// DURABILITY
// =============================================================================

func TestSeries_SurviveRestart(t *testing.T) {
	// GIVEN: A materialized series, one generated transaction manually
	//        deleted, everything flushed through the repository
	// WHEN: A fresh ledger hydrates from the same repository
	// THEN: The series template, the surviving transactions, and every
	//       occurrence marker are back - including the marker whose
	//       transaction is gone, so the deleted date stays dead

	repo := store.NewMemory()
	now := ledger.NewDate(2026, time.February, 9)
	ctx := context.Background()

	first := ledger.New(ledger.Config{Repo: repo})
	first.Now = func() ledger.Date { return now }
	require.NoError(t, first.SyncAccounts([]ledger.Account{eurAccount("a", "1000")}))

	s, err := first.CreateSeries(ctx, monthlySeries("rent", "10", now))
	require.NoError(t, err)
	n, err := first.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	require.Equal(t, 4, n)

	planned, err := first.PlannedTransactions(s.ID, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	require.NoError(t, first.Delete(ctx, planned[2].ID))

	// Close drains the persistence queue before returning.
	first.Close()

	second := ledger.New(ledger.Config{Repo: repo})
	second.Now = func() ledger.Date { return now }
	t.Cleanup(second.Close)
	require.NoError(t, second.Load(ctx))

	all := second.AllSeries()
	require.Len(t, all, 1, "the series template must survive a restart")
	assert.Equal(t, s.ID, all[0].ID)
	assert.True(t, all[0].IsActive)
	assert.Len(t, second.Transactions(ledger.TimeFilter{}), 3)

	regenerated, err := second.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, regenerated, "restored markers suppress every date, the deleted one included")

	b, err := second.Balance("a")
	require.NoError(t, err)
	assert.Equal(t, "990", b.String())
}

func TestStopSeries_MarkerRemovalReachesRepository(t *testing.T) {
	// GIVEN: Four persisted occurrence markers
	// WHEN: The series is stopped as of the current occurrence's date
	// THEN: The repository ends up with only the elapsed marker and an
	//       inactive template - not just the in-memory view

	repo := store.NewMemory()
	now := ledger.NewDate(2026, time.February, 9)
	ctx := context.Background()

	l := ledger.New(ledger.Config{Repo: repo})
	l.Now = func() ledger.Date { return now }
	t.Cleanup(l.Close)
	require.NoError(t, l.SyncAccounts([]ledger.Account{eurAccount("a", "1000")}))

	s, err := l.CreateSeries(ctx, monthlySeries("rent", "10", now))
	require.NoError(t, err)
	_, err = l.MaterializeOccurrences(ctx, ledger.Horizon{Months: 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		occs, err := repo.LoadOccurrences(ctx)
		return err == nil && len(occs) == 4
	}, 3*time.Second, 25*time.Millisecond, "markers reach the repository")

	require.NoError(t, l.StopSeries(ctx, s.ID, now))

	assert.Eventually(t, func() bool {
		occs, err := repo.LoadOccurrences(ctx)
		return err == nil && len(occs) == 1
	}, 3*time.Second, 25*time.Millisecond, "future markers are deleted on disk too")
	assert.Eventually(t, func() bool {
		stored, err := repo.LoadRecurringSeries(ctx)
		return err == nil && len(stored) == 1 && !stored[0].IsActive
	}, 3*time.Second, 25*time.Millisecond, "the stopped template is persisted")
}

func TestCreateSeries_ValidatesReferences(t *testing.T) {
	l, _ := newSeriesLedger(t)
	ctx := context.Background()

	bad := monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9))
	bad.SourceAccountID = "ghost"
	_, err := l.CreateSeries(ctx, bad)
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))

	zeroAmount := monthlySeries("rent", "10", ledger.NewDate(2026, time.February, 9))
	zeroAmount.Amount = dec("0")
	_, err = l.CreateSeries(ctx, zeroAmount)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}
