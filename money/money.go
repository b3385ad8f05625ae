/*
Package money provides exact decimal amounts tagged with a currency.

PURPOSE:
  Every monetary value in the engine flows through this package. Amounts
  are decimal.Decimal, never float64 - a ledger that drifts by fractions
  of a cent is a ledger nobody trusts.

KEY CONCEPTS IN THIS FILE (money.go):
  - Amount: A decimal value with an ISO-4217 currency code
  - Currency validation and minor-unit rounding via go-money's table

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal end to end, no floating point
  2. Currency safety: arithmetic across different currencies is an error,
     never a silent coercion
  3. Statelessness: everything here is a pure value or pure function

SEE ALSO:
  - convert.go: Base-currency conversion with a pluggable rate source
  - ledger/balance.go: The consumer of both
*/
package money

import (
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal value with a currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency string
}

func New(value decimal.Decimal, currency string) Amount {
	return Amount{Value: value, Currency: currency}
}

func NewFromString(value, currency string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("malformed amount %q: %w", value, err)
	}
	return Amount{Value: d, Currency: currency}, nil
}

func Zero(currency string) Amount {
	return Amount{Value: decimal.Zero, Currency: currency}
}

// Add returns a + b. Both amounts must share a currency.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency}
	}
	return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency}, nil
}

// Sub returns a - b. Both amounts must share a currency.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency}
	}
	return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency}, nil
}

func (a Amount) Neg() Amount      { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsZero() bool     { return a.Value.IsZero() }
func (a Amount) IsNegative() bool { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool { return a.Value.IsPositive() }

func (a Amount) String() string {
	return a.Value.String() + " " + a.Currency
}

// CurrencyMismatchError signals arithmetic across two different currencies.
// This is a programming defect, not user input to correct.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

// =============================================================================
// CURRENCY METADATA - Backed by go-money's ISO-4217 table
// =============================================================================

// ValidCurrency reports whether code is a known ISO-4217 currency code.
func ValidCurrency(code string) bool {
	return gomoney.GetCurrency(code) != nil
}

// MinorUnits returns the number of decimal places for a currency
// (2 for USD/EUR, 0 for JPY). Unknown codes default to 2.
func MinorUnits(code string) int32 {
	c := gomoney.GetCurrency(code)
	if c == nil {
		return 2
	}
	return int32(c.Fraction)
}

// Round rounds a value to the currency's minor units, half away from zero.
func Round(value decimal.Decimal, currency string) decimal.Decimal {
	return value.Round(MinorUnits(currency))
}
