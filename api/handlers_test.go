/*
handlers_test.go - HTTP-level tests for the ledger API

Tests for:
- Full request lifecycle (sync accounts, add, balance, list)
- Domain error to HTTP status mapping
- Transfer and series endpoints through the router
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

// newAPITest wires a fresh in-memory ledger behind the real router and
// seeds two EUR accounts plus a category through the sync endpoints, so
// every test exercises the same path a client would.
func newAPITest(t *testing.T) http.Handler {
	t.Helper()

	l := ledger.New(ledger.Config{})
	t.Cleanup(l.Close)

	router := NewRouter(NewHandler(l, ledger.Horizon{Months: 3}))

	rec := do(t, router, http.MethodPost, "/api/accounts/sync", SyncAccountsRequest{
		Accounts: []AccountDTO{
			{ID: "a", Name: "Checking", Currency: "EUR", InitialBalance: "1000"},
			{ID: "b", Name: "Savings", Currency: "EUR", InitialBalance: "600"},
		},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/categories/sync", SyncCategoriesRequest{
		Categories: []CategoryDTO{{ID: "food", Name: "Food"}},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	return router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

// =============================================================================
// TRANSACTION LIFECYCLE
// =============================================================================

func TestAPI_AddTransaction_UpdatesBalance(t *testing.T) {
	// GIVEN: A seeded ledger behind the router
	// WHEN: Posting an expense of 50 on account "a"
	// THEN: The transaction is created with an assigned id and the derived
	//       balance drops to 950

	router := newAPITest(t)

	rec := do(t, router, http.MethodPost, "/api/transactions", TransactionRequest{
		Date:            ledger.Today().String(),
		Amount:          "50",
		Currency:        "EUR",
		Kind:            "expense",
		Category:        "food",
		SourceAccountID: "a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created TransactionDTO
	decodeInto(t, rec, &created)
	assert.NotEmpty(t, created.ID, "the ledger assigns ids the client omits")
	assert.Equal(t, "50", created.Amount)

	rec = do(t, router, http.MethodGet, "/api/accounts/a/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var balance BalanceDTO
	decodeInto(t, rec, &balance)
	assert.Equal(t, "950", balance.Balance)
	assert.Equal(t, "EUR", balance.Currency)

	rec = do(t, router, http.MethodGet, "/api/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []TransactionDTO
	decodeInto(t, rec, &listed)
	assert.Len(t, listed, 1)
}

func TestAPI_DeleteTransaction_RestoresBalance(t *testing.T) {
	router := newAPITest(t)

	rec := do(t, router, http.MethodPost, "/api/transactions", TransactionRequest{
		ID:              "t1",
		Date:            ledger.Today().String(),
		Amount:          "100",
		Currency:        "EUR",
		Kind:            "expense",
		SourceAccountID: "a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/transactions/t1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/accounts/a/balance", nil)
	var balance BalanceDTO
	decodeInto(t, rec, &balance)
	assert.Equal(t, "1000", balance.Balance)
}

func TestAPI_Transfer_MovesBothBalances(t *testing.T) {
	router := newAPITest(t)

	rec := do(t, router, http.MethodPost, "/api/transactions/transfer", TransferRequest{
		SourceAccountID: "a",
		TargetAccountID: "b",
		Amount:          "200",
		Currency:        "EUR",
		Date:            ledger.Today().String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var tx TransactionDTO
	decodeInto(t, rec, &tx)
	assert.Equal(t, "internal_transfer", tx.Kind)

	var balance BalanceDTO
	decodeInto(t, do(t, router, http.MethodGet, "/api/accounts/a/balance", nil), &balance)
	assert.Equal(t, "800", balance.Balance)
	decodeInto(t, do(t, router, http.MethodGet, "/api/accounts/b/balance", nil), &balance)
	assert.Equal(t, "800", balance.Balance)
}

func TestAPI_BulkAdd_ReportsRejectionsByIndex(t *testing.T) {
	router := newAPITest(t)

	rec := do(t, router, http.MethodPost, "/api/transactions/bulk", BulkAddRequest{
		Transactions: []TransactionRequest{
			{Date: ledger.Today().String(), Amount: "10", Currency: "EUR", Kind: "expense", SourceAccountID: "a"},
			{Date: ledger.Today().String(), Amount: "10", Currency: "EUR", Kind: "expense", SourceAccountID: "ghost"},
			{Date: ledger.Today().String(), Amount: "10", Currency: "EUR", Kind: "expense", SourceAccountID: "b"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BulkAddResponse
	decodeInto(t, rec, &resp)
	assert.Len(t, resp.Added, 2)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, 1, resp.Rejected[0].Index)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	router := newAPITest(t)

	t.Run("unknown account is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/transactions", TransactionRequest{
			Date:            ledger.Today().String(),
			Amount:          "10",
			Currency:        "EUR",
			Kind:            "expense",
			SourceAccountID: "ghost",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate id is 409", func(t *testing.T) {
		body := TransactionRequest{
			ID:              "dup",
			Date:            ledger.Today().String(),
			Amount:          "10",
			Currency:        "EUR",
			Kind:            "expense",
			SourceAccountID: "a",
		}
		require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/transactions", body).Code)
		assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/transactions", body).Code)
	})

	t.Run("delete of unknown transaction is 404", func(t *testing.T) {
		rec := do(t, router, http.MethodDelete, "/api/transactions/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed date filter is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/transactions?from=yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("series delete without mode is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodDelete, "/api/series/s1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		decodeInto(t, rec, &resp)
		assert.Contains(t, resp.Error, "mode")
	})

	t.Run("self transfer is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/transactions/transfer", TransferRequest{
			SourceAccountID: "a",
			TargetAccountID: "a",
			Amount:          "10",
			Currency:        "EUR",
			Date:            ledger.Today().String(),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// SERIES ENDPOINTS
// =============================================================================

func TestAPI_SeriesLifecycle(t *testing.T) {
	// GIVEN: A monthly series anchored today
	// WHEN: Creating it and materializing through the admin trigger
	// THEN: Four occurrences exist within the 3-month horizon and the
	//       next-charge query answers

	router := newAPITest(t)

	rec := do(t, router, http.MethodPost, "/api/series", SeriesDTO{
		FrequencyUnit:   "monthly",
		AnchorDate:      ledger.Today().String(),
		Amount:          "25",
		Currency:        "EUR",
		Kind:            "expense",
		SourceAccountID: "a",
		IsActive:        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created SeriesDTO
	decodeInto(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.FrequencyInterval, "omitted interval defaults to every period")

	rec = do(t, router, http.MethodPost, "/api/series/materialize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mat MaterializeResponse
	decodeInto(t, rec, &mat)
	assert.Equal(t, 4, mat.Generated)

	rec = do(t, router, http.MethodGet, "/api/series/"+created.ID+"/planned", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var planned []TransactionDTO
	decodeInto(t, rec, &planned)
	assert.Len(t, planned, 4)

	rec = do(t, router, http.MethodGet, "/api/series/"+created.ID+"/next-charge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next NextChargeDTO
	decodeInto(t, rec, &next)
	assert.False(t, next.Exhausted)
	assert.NotEmpty(t, next.NextCharge)

	rec = do(t, router, http.MethodPost, "/api/series/"+created.ID+"/stop", StopSeriesRequest{})
	require.Equal(t, http.StatusNoContent, rec.Code)

	decodeInto(t, do(t, router, http.MethodGet, "/api/series/"+created.ID+"/next-charge", nil), &next)
	assert.True(t, next.Exhausted)
}

// =============================================================================
// MISC
// =============================================================================

func TestAPI_Health(t *testing.T) {
	router := newAPITest(t)

	rec := do(t, router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeInto(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_CategoryTotals_WindowEcho(t *testing.T) {
	router := newAPITest(t)

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/transactions", TransactionRequest{
		Date:            ledger.Today().String(),
		Amount:          "30",
		Currency:        "EUR",
		Kind:            "expense",
		Category:        "food",
		SourceAccountID: "a",
	}).Code)

	rec := do(t, router, http.MethodGet, "/api/categories/totals?from="+ledger.Today().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CategoryTotalsResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, ledger.Today().String(), resp.From)

	var food string
	for _, row := range resp.Totals {
		if row.CategoryID == "food" {
			food = row.Total
		}
	}
	assert.Equal(t, "30", food)
}
