/*
projection_test.go - Recurring projection behavior

ORGANIZATION:
  1. Generation - horizon enumeration, occurrence keys
  2. Deduplication - existing keys suppress, ids are deterministic
  3. Regeneration policy - material edits only
  4. Next charge date
*/
package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

func monthlySeries(id string, amount string, anchor ledger.Date) ledger.RecurringSeries {
	return ledger.RecurringSeries{
		ID:              ledger.SeriesID(id),
		Frequency:       ledger.Frequency{Unit: ledger.Monthly, Interval: 1},
		AnchorDate:      anchor,
		Amount:          dec(amount),
		Currency:        "EUR",
		Kind:            ledger.Expense,
		SourceAccountID: "a",
		IsActive:        true,
	}
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGenerate_MonthlyThreeMonthHorizon_FourOccurrences(t *testing.T) {
	// GIVEN: A monthly series of 10, anchored 2026-02-09
	// WHEN: Projecting from 2026-02-09 with a 3-month horizon
	// THEN: Exactly 4 occurrences exist (current + 3 future), each with a
	//       unique occurrence key

	var engine ledger.ProjectionEngine
	now := ledger.NewDate(2026, time.February, 9)

	out := engine.Generate(ledger.ProjectionInput{
		Series:       monthlySeries("s1", "10", now),
		ExistingKeys: map[string]bool{},
		Now:          now,
		Horizon:      ledger.Horizon{Months: 3},
	})

	require.Len(t, out, 4)

	keys := make(map[string]bool)
	for i, g := range out {
		keys[g.Occurrence.Key()] = true
		assert.Equal(t, ledger.SeriesID("s1"), g.Transaction.SeriesID)
		assert.True(t, g.Transaction.Amount.Equal(dec("10")))
		assert.Equal(t, 9, g.Transaction.Date.Day(), "occurrence %d stays on the anchor's day of month", i)
	}
	assert.Len(t, keys, 4, "every occurrence key is unique")

	assert.True(t, out[0].Transaction.Date.Equal(ledger.NewDate(2026, time.February, 9)))
	assert.True(t, out[3].Transaction.Date.Equal(ledger.NewDate(2026, time.May, 9)))
}

func TestGenerate_DefaultHorizonIsThreeMonths(t *testing.T) {
	var engine ledger.ProjectionEngine
	now := ledger.NewDate(2026, time.February, 9)

	explicit := engine.Generate(ledger.ProjectionInput{
		Series: monthlySeries("s1", "10", now), ExistingKeys: map[string]bool{},
		Now: now, Horizon: ledger.Horizon{Months: 3},
	})
	zero := engine.Generate(ledger.ProjectionInput{
		Series: monthlySeries("s1", "10", now), ExistingKeys: map[string]bool{},
		Now: now, Horizon: ledger.Horizon{},
	})

	assert.Equal(t, len(explicit), len(zero))
}

func TestGenerate_InactiveOrPausedSeries_GeneratesNothing(t *testing.T) {
	var engine ledger.ProjectionEngine
	now := ledger.NewDate(2026, time.February, 9)

	inactive := monthlySeries("s1", "10", now)
	inactive.IsActive = false
	assert.Empty(t, engine.Generate(ledger.ProjectionInput{
		Series: inactive, ExistingKeys: map[string]bool{}, Now: now,
	}))

	paused := monthlySeries("s2", "10", now)
	paused.IsSubscription = true
	paused.SubscriptionStatus = ledger.SubscriptionPaused
	assert.Empty(t, engine.Generate(ledger.ProjectionInput{
		Series: paused, ExistingKeys: map[string]bool{}, Now: now,
	}))
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

func TestGenerate_ExistingKeySuppressesRegeneration(t *testing.T) {
	// GIVEN: A series whose March date already has an occurrence marker
	//        (the transaction behind it may well have been deleted)
	// WHEN: Projecting again
	// THEN: The March date is never produced again

	var engine ledger.ProjectionEngine
	now := ledger.NewDate(2026, time.February, 9)
	series := monthlySeries("s1", "10", now)
	march := ledger.NewDate(2026, time.March, 9)

	out := engine.Generate(ledger.ProjectionInput{
		Series:       series,
		ExistingKeys: map[string]bool{ledger.OccurrenceKey(series.ID, march): true},
		Now:          now,
		Horizon:      ledger.Horizon{Months: 3},
	})

	require.Len(t, out, 3)
	for _, g := range out {
		assert.False(t, g.Transaction.Date.Equal(march), "suppressed date must not reappear")
	}
}

func TestGenerate_IsIdempotent(t *testing.T) {
	// Feeding the first run's keys into a second run yields nothing.
	var engine ledger.ProjectionEngine
	now := ledger.NewDate(2026, time.February, 9)
	series := monthlySeries("s1", "10", now)

	first := engine.Generate(ledger.ProjectionInput{
		Series: series, ExistingKeys: map[string]bool{}, Now: now, Horizon: ledger.Horizon{Months: 3},
	})
	keys := make(map[string]bool, len(first))
	for _, g := range first {
		keys[g.Occurrence.Key()] = true
	}

	second := engine.Generate(ledger.ProjectionInput{
		Series: series, ExistingKeys: keys, Now: now, Horizon: ledger.Horizon{Months: 3},
	})
	assert.Empty(t, second)
}

func TestDeterministicID_StableAcrossRuns(t *testing.T) {
	on := ledger.NewDate(2026, time.February, 9)

	a := ledger.DeterministicID("s1", on, "10", "rent")
	b := ledger.DeterministicID("s1", on, "10", "rent")
	c := ledger.DeterministicID("s1", on, "20", "rent")

	assert.Equal(t, a, b, "same inputs, same id")
	assert.NotEqual(t, a, c, "different amount, different id")
}

// =============================================================================
// REGENERATION POLICY
// =============================================================================

func TestNeedsRegeneration(t *testing.T) {
	base := monthlySeries("s1", "10", ledger.NewDate(2026, time.February, 9))

	t.Run("description-only edit does not regenerate", func(t *testing.T) {
		edited := base
		edited.Description = "new label"
		assert.False(t, ledger.NeedsRegeneration(base, edited))
	})

	t.Run("amount change regenerates", func(t *testing.T) {
		edited := base
		edited.Amount = dec("20")
		assert.True(t, ledger.NeedsRegeneration(base, edited))
	})

	t.Run("frequency change regenerates", func(t *testing.T) {
		edited := base
		edited.Frequency = ledger.Frequency{Unit: ledger.Weekly, Interval: 1}
		assert.True(t, ledger.NeedsRegeneration(base, edited))
	})

	t.Run("account change regenerates", func(t *testing.T) {
		edited := base
		edited.SourceAccountID = "other"
		assert.True(t, ledger.NeedsRegeneration(base, edited))
	})
}

// =============================================================================
// NEXT CHARGE
// =============================================================================

func TestNextChargeDate(t *testing.T) {
	series := monthlySeries("s1", "10", ledger.NewDate(2026, time.February, 9))

	// Strictly after now: asking on the anchor day yields the next month.
	next, ok := ledger.NextChargeDate(series, ledger.NewDate(2026, time.February, 9))
	require.True(t, ok)
	assert.True(t, next.Equal(ledger.NewDate(2026, time.March, 9)))

	// Between charges
	next, ok = ledger.NextChargeDate(series, ledger.NewDate(2026, time.March, 20))
	require.True(t, ok)
	assert.True(t, next.Equal(ledger.NewDate(2026, time.April, 9)))

	// Stopped series no longer charges
	stopped := series
	stopped.IsActive = false
	_, ok = ledger.NextChargeDate(stopped, ledger.NewDate(2026, time.March, 20))
	assert.False(t, ok)
}
