/*
coordinator_test.go - Published balance view edge cases

Tests for:
- Reseeding against a changed account set
*/
package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store"
)

func TestSeed_DropsDirtyMarksForRemovedAccounts(t *testing.T) {
	// GIVEN: A coordinator holding a dirty mark for an account
	// WHEN: Reseeded with an account set that no longer contains it
	// THEN: The next flush writes nothing for the removed id - no
	//       zero-value balance leaks into the repository

	coord := ledger.NewCoordinator(ledger.NewEngine(nil))
	old := eurAccount("old", "100")
	coord.EnsureAccount(old)

	keep := eurAccount("keep", "50")
	coord.Seed(map[ledger.AccountID]ledger.Account{keep.ID: keep}, nil, ledger.Today())

	repo := store.NewMemory()
	require.NoError(t, coord.Flush(context.Background(), repo, 1))

	_, ok := repo.PersistedBalance("old")
	assert.False(t, ok, "removed account must not be flushed")

	b, ok := repo.PersistedBalance("keep")
	require.True(t, ok)
	assert.Equal(t, "50", b.String())
}
