/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNT ENCODING:
  Monetary values travel as decimal strings ("12.34"), never JSON
  numbers. Dates travel as "2006-01-02".

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain model these project
*/
package api

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionDTO represents a ledger transaction in API responses.
type TransactionDTO struct {
	ID              string   `json:"id"`
	Date            string   `json:"date"`
	Amount          string   `json:"amount"`
	Currency        string   `json:"currency"`
	ConvertedAmount *string  `json:"converted_amount,omitempty"`
	Kind            string   `json:"kind"`
	Category        string   `json:"category,omitempty"`
	SubcategoryIDs  []string `json:"subcategory_ids,omitempty"`
	Description     string   `json:"description,omitempty"`
	SourceAccountID string   `json:"source_account_id"`
	TargetAccountID string   `json:"target_account_id,omitempty"`
	TargetAmount    *string  `json:"target_amount,omitempty"`
	TargetCurrency  string   `json:"target_currency,omitempty"`
	SeriesID        string   `json:"series_id,omitempty"`
	OccurrenceID    string   `json:"occurrence_id,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

// TransactionRequest is the request body for add/update.
type TransactionRequest struct {
	ID              string   `json:"id,omitempty"`
	Date            string   `json:"date"`
	Amount          string   `json:"amount"`
	Currency        string   `json:"currency"`
	Kind            string   `json:"kind"`
	Category        string   `json:"category,omitempty"`
	SubcategoryIDs  []string `json:"subcategory_ids,omitempty"`
	Description     string   `json:"description,omitempty"`
	SourceAccountID string   `json:"source_account_id"`
	TargetAccountID string   `json:"target_account_id,omitempty"`
	TargetAmount    *string  `json:"target_amount,omitempty"`
	TargetCurrency  string   `json:"target_currency,omitempty"`
}

// BulkAddRequest carries a batch of transactions for atomic insertion.
type BulkAddRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// BulkAddResponse reports which entries were applied and which rejected.
type BulkAddResponse struct {
	Added    []TransactionDTO `json:"added"`
	Rejected []RejectedDTO    `json:"rejected"`
}

// RejectedDTO identifies one rejected batch entry by position.
type RejectedDTO struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// TransferRequest is the request body for an internal transfer.
type TransferRequest struct {
	SourceAccountID string  `json:"source_account_id"`
	TargetAccountID string  `json:"target_account_id"`
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	Date            string  `json:"date"`
	Description     string  `json:"description,omitempty"`
	TargetCurrency  string  `json:"target_currency,omitempty"`
	TargetAmount    *string `json:"target_amount,omitempty"`
}

// =============================================================================
// ACCOUNT / CATEGORY TYPES
// =============================================================================

// AccountDTO represents an account with its derived balance.
type AccountDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Currency        string `json:"currency"`
	IsDeposit       bool   `json:"is_deposit"`
	CalculationMode string `json:"calculation_mode"`
	InitialBalance  string `json:"initial_balance"`
	ImportedBalance string `json:"imported_balance,omitempty"`
	Balance         string `json:"balance,omitempty"`
}

// SyncAccountsRequest replaces the account set.
type SyncAccountsRequest struct {
	Accounts []AccountDTO `json:"accounts"`
}

// BalanceDTO is the response for a single-account balance query.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	AsOf      string `json:"as_of"`
}

// CategoryDTO represents a category.
type CategoryDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// SyncCategoriesRequest replaces the category set.
type SyncCategoriesRequest struct {
	Categories []CategoryDTO `json:"categories"`
}

// CategoryTotalDTO is one aggregate row in the totals response.
type CategoryTotalDTO struct {
	CategoryID string `json:"category_id"`
	Total      string `json:"total"`
}

// CategoryTotalsResponse is the totals query response.
type CategoryTotalsResponse struct {
	From   string             `json:"from,omitempty"`
	To     string             `json:"to,omitempty"`
	Totals []CategoryTotalDTO `json:"totals"`
}

// =============================================================================
// SERIES TYPES
// =============================================================================

// SeriesDTO represents a recurring series.
type SeriesDTO struct {
	ID                 string `json:"id"`
	FrequencyUnit      string `json:"frequency_unit"`
	FrequencyInterval  int    `json:"frequency_interval"`
	AnchorDate         string `json:"anchor_date"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Kind               string `json:"kind"`
	Category           string `json:"category,omitempty"`
	Description        string `json:"description,omitempty"`
	SourceAccountID    string `json:"source_account_id"`
	TargetAccountID    string `json:"target_account_id,omitempty"`
	IsActive           bool   `json:"is_active"`
	IsSubscription     bool   `json:"is_subscription"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
}

// StopSeriesRequest stops generation from a given date.
type StopSeriesRequest struct {
	From string `json:"from,omitempty"` // defaults to today
}

// NextChargeDTO is the response for the next-charge query.
type NextChargeDTO struct {
	SeriesID   string `json:"series_id"`
	NextCharge string `json:"next_charge,omitempty"`
	Exhausted  bool   `json:"exhausted"`
}

// MaterializeResponse reports how many occurrences were generated.
type MaterializeResponse struct {
	Generated int `json:"generated"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:              string(tx.ID),
		Date:            tx.Date.String(),
		Amount:          tx.Amount.String(),
		Currency:        tx.Currency,
		Kind:            string(tx.Kind),
		Category:        string(tx.Category),
		Description:     tx.Description,
		SourceAccountID: string(tx.SourceAccountID),
		TargetAccountID: string(tx.TargetAccountID),
		TargetCurrency:  tx.TargetCurrency,
		SeriesID:        string(tx.SeriesID),
		OccurrenceID:    tx.OccurrenceID,
	}
	if !tx.CreatedAt.IsZero() {
		dto.CreatedAt = tx.CreatedAt.String()
	}
	if tx.ConvertedAmount != nil {
		s := tx.ConvertedAmount.String()
		dto.ConvertedAmount = &s
	}
	if tx.TargetAmount != nil {
		s := tx.TargetAmount.String()
		dto.TargetAmount = &s
	}
	for _, sub := range tx.SubcategoryIDs {
		dto.SubcategoryIDs = append(dto.SubcategoryIDs, string(sub))
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func fromTransactionRequest(req TransactionRequest) (ledger.Transaction, error) {
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", req.Date, err)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("invalid amount %q: %w", req.Amount, err)
	}
	tx := ledger.Transaction{
		ID:              ledger.TransactionID(req.ID),
		Date:            date,
		Amount:          amount,
		Currency:        req.Currency,
		Kind:            ledger.Kind(req.Kind),
		Category:        ledger.CategoryID(req.Category),
		Description:     req.Description,
		SourceAccountID: ledger.AccountID(req.SourceAccountID),
		TargetAccountID: ledger.AccountID(req.TargetAccountID),
		TargetCurrency:  req.TargetCurrency,
	}
	if req.TargetAmount != nil {
		target, err := decimal.NewFromString(*req.TargetAmount)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("invalid target_amount %q: %w", *req.TargetAmount, err)
		}
		tx.TargetAmount = &target
	}
	for _, sub := range req.SubcategoryIDs {
		tx.SubcategoryIDs = append(tx.SubcategoryIDs, ledger.CategoryID(sub))
	}
	return tx, nil
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:              string(a.ID),
		Name:            a.Name,
		Currency:        a.Currency,
		IsDeposit:       a.IsDeposit,
		CalculationMode: string(a.Mode),
		InitialBalance:  a.InitialBalance.String(),
		ImportedBalance: a.ImportedBalance.String(),
	}
}

func fromAccountDTO(dto AccountDTO) (ledger.Account, error) {
	a := ledger.Account{
		ID:        ledger.AccountID(dto.ID),
		Name:      dto.Name,
		Currency:  dto.Currency,
		IsDeposit: dto.IsDeposit,
		Mode:      ledger.CalculationMode(dto.CalculationMode),
	}
	if a.Mode == "" {
		a.Mode = ledger.FromInitialBalance
	}
	if dto.InitialBalance != "" {
		v, err := decimal.NewFromString(dto.InitialBalance)
		if err != nil {
			return a, fmt.Errorf("invalid initial_balance %q: %w", dto.InitialBalance, err)
		}
		a.InitialBalance = v
	}
	if dto.ImportedBalance != "" {
		v, err := decimal.NewFromString(dto.ImportedBalance)
		if err != nil {
			return a, fmt.Errorf("invalid imported_balance %q: %w", dto.ImportedBalance, err)
		}
		a.ImportedBalance = v
	}
	return a, nil
}

func toSeriesDTO(s ledger.RecurringSeries) SeriesDTO {
	return SeriesDTO{
		ID:                 string(s.ID),
		FrequencyUnit:      string(s.Frequency.Unit),
		FrequencyInterval:  s.Frequency.Interval,
		AnchorDate:         s.AnchorDate.String(),
		Amount:             s.Amount.String(),
		Currency:           s.Currency,
		Kind:               string(s.Kind),
		Category:           string(s.Category),
		Description:        s.Description,
		SourceAccountID:    string(s.SourceAccountID),
		TargetAccountID:    string(s.TargetAccountID),
		IsActive:           s.IsActive,
		IsSubscription:     s.IsSubscription,
		SubscriptionStatus: string(s.SubscriptionStatus),
	}
}

func fromSeriesDTO(dto SeriesDTO) (ledger.RecurringSeries, error) {
	anchor, err := ledger.ParseDate(dto.AnchorDate)
	if err != nil {
		return ledger.RecurringSeries{}, fmt.Errorf("invalid anchor_date %q (use YYYY-MM-DD): %w", dto.AnchorDate, err)
	}
	amount, err := decimal.NewFromString(dto.Amount)
	if err != nil {
		return ledger.RecurringSeries{}, fmt.Errorf("invalid amount %q: %w", dto.Amount, err)
	}
	interval := dto.FrequencyInterval
	if interval == 0 {
		interval = 1
	}
	return ledger.RecurringSeries{
		ID: ledger.SeriesID(dto.ID),
		Frequency: ledger.Frequency{
			Unit:     ledger.FrequencyUnit(dto.FrequencyUnit),
			Interval: interval,
		},
		AnchorDate:         anchor,
		Amount:             amount,
		Currency:           dto.Currency,
		Kind:               ledger.Kind(dto.Kind),
		Category:           ledger.CategoryID(dto.Category),
		Description:        dto.Description,
		SourceAccountID:    ledger.AccountID(dto.SourceAccountID),
		TargetAccountID:    ledger.AccountID(dto.TargetAccountID),
		IsActive:           dto.IsActive,
		IsSubscription:     dto.IsSubscription,
		SubscriptionStatus: ledger.SubscriptionStatus(dto.SubscriptionStatus),
	}, nil
}
