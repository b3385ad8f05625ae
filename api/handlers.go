/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Transactions:
    GET    /api/transactions            List (optional from/to query)
    POST   /api/transactions            Add transaction
    PUT    /api/transactions/{id}       Update (revert-old + apply-new)
    DELETE /api/transactions/{id}       Delete
    POST   /api/transactions/bulk       Atomic batch insert
    POST   /api/transactions/transfer   Internal transfer

  Accounts:
    POST   /api/accounts/sync           Replace account set
    GET    /api/accounts                List with derived balances
    GET    /api/accounts/{id}/balance   Derived balance

  Categories:
    POST   /api/categories/sync         Replace category set
    GET    /api/categories/totals       Aggregate totals (from/to query)

  Series:
    GET    /api/series                  List recurring series
    POST   /api/series                  Create series
    PUT    /api/series/{id}             Update (regeneration policy applies)
    DELETE /api/series/{id}?mode=       Delete (cascade|detach, mandatory)
    POST   /api/series/{id}/stop        Stop generation
    GET    /api/series/{id}/planned     Existing + projected transactions
    GET    /api/series/{id}/next-charge Next charge date
    POST   /api/series/materialize      Run projection now

  Admin:
    POST   /api/admin/recalculate       Full rebuild from scratch
    POST   /api/admin/flush             Force synchronous persistence

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Duplicate transaction id
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Ledger
	Horizon ledger.Horizon
}

// NewHandler creates a new handler around a loaded ledger.
func NewHandler(l *ledger.Ledger, horizon ledger.Horizon) *Handler {
	return &Handler{Ledger: l, Horizon: horizon}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions, optionally bounded by from/to.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date filter", err)
		return
	}
	txs := h.Ledger.Transactions(filter)
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// AddTransaction applies a single transaction.
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tx, err := fromTransactionRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	applied, err := h.Ledger.Add(r.Context(), tx)
	if err != nil {
		writeError(w, statusFor(err), "Failed to add transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(applied))
}

// UpdateTransaction replaces an existing transaction.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	next, err := fromTransactionRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	if err := h.Ledger.Update(r.Context(), id, next); err != nil {
		writeError(w, statusFor(err), "Failed to update transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTransaction removes a transaction.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	if err := h.Ledger.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkAddTransactions atomically inserts a batch.
func (h *Handler) BulkAddTransactions(w http.ResponseWriter, r *http.Request) {
	var req BulkAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	txs := make([]ledger.Transaction, 0, len(req.Transactions))
	for i, entry := range req.Transactions {
		tx, err := fromTransactionRequest(entry)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid transaction in batch", &ledger.ValidationError{
				Field:  "transactions",
				Reason: err.Error() + " (index " + strconv.Itoa(i) + ")",
			})
			return
		}
		txs = append(txs, tx)
	}

	result, err := h.Ledger.BulkAdd(r.Context(), txs)
	if err != nil {
		writeError(w, statusFor(err), "Failed to apply batch", err)
		return
	}

	resp := BulkAddResponse{Added: toTransactionDTOs(result.Added)}
	for _, rej := range result.Rejected {
		resp.Rejected = append(resp.Rejected, RejectedDTO{Index: rej.Index, Error: rej.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTransfer moves money between two ledger accounts.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	var targetAmount *decimal.Decimal
	if req.TargetAmount != nil {
		v, err := decimal.NewFromString(*req.TargetAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid target_amount", err)
			return
		}
		targetAmount = &v
	}

	tx, err := h.Ledger.Transfer(r.Context(),
		ledger.AccountID(req.SourceAccountID), ledger.AccountID(req.TargetAccountID),
		amount, req.Currency, date, req.Description,
		req.TargetCurrency, targetAmount)
	if err != nil {
		writeError(w, statusFor(err), "Failed to create transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// SyncAccounts replaces the account set with the provided one.
func (h *Handler) SyncAccounts(w http.ResponseWriter, r *http.Request) {
	var req SyncAccountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	accounts := make([]ledger.Account, 0, len(req.Accounts))
	for _, dto := range req.Accounts {
		a, err := fromAccountDTO(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid account", err)
			return
		}
		accounts = append(accounts, a)
	}

	if err := h.Ledger.SyncAccounts(accounts); err != nil {
		writeError(w, statusFor(err), "Failed to sync accounts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAccounts returns every account with its derived balance.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	snapshot := h.Ledger.Coordinator().Snapshot()

	dtos := make([]AccountDTO, 0, len(snapshot))
	for id := range snapshot {
		account, ok := h.Ledger.Account(id)
		if !ok {
			continue
		}
		dto := toAccountDTO(account)
		dto.Balance = snapshot[id].String()
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns the derived balance for one account.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.Balance(id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get balance", err)
		return
	}
	account, _ := h.Ledger.Account(id)

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: string(id),
		Balance:   balance.String(),
		Currency:  account.Currency,
		AsOf:      ledger.Today().String(),
	})
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// SyncCategories replaces the category set with the provided one.
func (h *Handler) SyncCategories(w http.ResponseWriter, r *http.Request) {
	var req SyncCategoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	categories := make([]ledger.Category, 0, len(req.Categories))
	for _, dto := range req.Categories {
		categories = append(categories, ledger.Category{
			ID:       ledger.CategoryID(dto.ID),
			Name:     dto.Name,
			ParentID: ledger.CategoryID(dto.ParentID),
		})
	}

	if err := h.Ledger.SyncCategories(categories); err != nil {
		writeError(w, statusFor(err), "Failed to sync categories", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCategoryTotals returns per-category aggregates for a window.
func (h *Handler) GetCategoryTotals(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date filter", err)
		return
	}

	totals := h.Ledger.CategoryTotals(filter)

	resp := CategoryTotalsResponse{}
	if !filter.From.IsZero() {
		resp.From = filter.From.String()
	}
	if !filter.To.IsZero() {
		resp.To = filter.To.String()
	}
	for id, total := range totals {
		resp.Totals = append(resp.Totals, CategoryTotalDTO{
			CategoryID: string(id),
			Total:      total.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SERIES HANDLERS
// =============================================================================

// ListSeries returns all recurring series.
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	all := h.Ledger.AllSeries()
	dtos := make([]SeriesDTO, len(all))
	for i, s := range all {
		dtos[i] = toSeriesDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSeries registers a new recurring series.
func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var dto SeriesDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, err := fromSeriesDTO(dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid series", err)
		return
	}

	created, err := h.Ledger.CreateSeries(r.Context(), s)
	if err != nil {
		writeError(w, statusFor(err), "Failed to create series", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSeriesDTO(created))
}

// UpdateSeries modifies a series. Changes to amount, schedule, or
// accounts drop not-yet-elapsed occurrences so the next materialization
// regenerates them from the new template.
func (h *Handler) UpdateSeries(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))

	var dto SeriesDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, err := fromSeriesDTO(dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid series", err)
		return
	}
	s.ID = id

	if err := h.Ledger.UpdateSeries(r.Context(), s); err != nil {
		writeError(w, statusFor(err), "Failed to update series", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StopSeries halts generation from a given date.
func (h *Handler) StopSeries(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))

	var req StopSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	from := ledger.Today()
	if req.From != "" {
		parsed, err := ledger.ParseDate(req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		from = parsed
	}

	if err := h.Ledger.StopSeries(r.Context(), id, from); err != nil {
		writeError(w, statusFor(err), "Failed to stop series", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSeries removes a series. The mode query parameter is mandatory:
// "cascade" deletes owned transactions, "detach" keeps them as
// standalone records.
func (h *Handler) DeleteSeries(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))

	var mode ledger.DeleteMode
	switch r.URL.Query().Get("mode") {
	case "cascade":
		mode = ledger.CascadeDelete
	case "detach":
		mode = ledger.DetachTransactions
	case "":
		writeError(w, http.StatusBadRequest, "Missing mode query parameter (cascade|detach)", nil)
		return
	default:
		writeError(w, http.StatusBadRequest, "Invalid mode (use cascade or detach)", nil)
		return
	}

	if err := h.Ledger.DeleteSeries(r.Context(), id, mode); err != nil {
		writeError(w, statusFor(err), "Failed to delete series", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPlannedTransactions returns existing plus projected transactions
// for one series within the handler's horizon.
func (h *Handler) GetPlannedTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))

	txs, err := h.Ledger.PlannedTransactions(id, h.Horizon)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get planned transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetNextCharge returns when the series fires next.
func (h *Handler) GetNextCharge(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))

	next, ok, err := h.Ledger.NextChargeDate(id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get next charge date", err)
		return
	}

	dto := NextChargeDTO{SeriesID: string(id), Exhausted: !ok}
	if ok {
		dto.NextCharge = next.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// Materialize runs the projection engine now instead of waiting for the
// scheduler tick.
func (h *Handler) Materialize(w http.ResponseWriter, r *http.Request) {
	n, err := h.Ledger.MaterializeOccurrences(r.Context(), h.Horizon)
	if err != nil {
		writeError(w, statusFor(err), "Failed to materialize occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, MaterializeResponse{Generated: n})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Recalculate rebuilds every published balance from scratch.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.FullRecalculate(r.Context()); err != nil {
		writeError(w, statusFor(err), "Failed to recalculate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Flush forces a synchronous write of pending state.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.FlushNow(r.Context()); err != nil {
		writeError(w, statusFor(err), "Failed to flush", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func filterFromQuery(r *http.Request) (ledger.TimeFilter, error) {
	var filter ledger.TimeFilter
	if from := r.URL.Query().Get("from"); from != "" {
		d, err := ledger.ParseDate(from)
		if err != nil {
			return filter, err
		}
		filter.From = d
	}
	if to := r.URL.Query().Get("to"); to != "" {
		d, err := ledger.ParseDate(to)
		if err != nil {
			return filter, err
		}
		filter.To = d
	}
	return filter, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return http.StatusConflict
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
