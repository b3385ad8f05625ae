/*
convert.go - Base-currency conversion

PURPOSE:
  Converts amounts into the ledger's base currency. Rate lookup is a pure
  function dependency injected by the caller - this package never does I/O
  itself, so the balance engine stays deterministic under test.

RATE AUTHORITY:
  A transaction that carries a cached converted amount is historical fact;
  the cached value wins over whatever a live lookup would say today. Live
  lookup happens only when no cached value exists, and the caller is
  expected to store the result back so the answer never drifts afterwards.

SEE ALSO:
  - ledger/balance.go: Uses Converter when ConvertedAmount is absent
*/
package money

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE PROVIDER - Pure function dependency
// =============================================================================

// RateProvider returns the exchange rate from one currency to another on a
// given calendar day (multiply a `from` amount by the rate to get `to`).
type RateProvider func(from, to string, on time.Time) (decimal.Decimal, error)

// FixedRates builds a RateProvider from a static table keyed "FROM/TO".
// Identity pairs resolve to 1 without a table entry. Intended for tests
// and offline operation.
func FixedRates(table map[string]decimal.Decimal) RateProvider {
	return func(from, to string, _ time.Time) (decimal.Decimal, error) {
		if from == to {
			return decimal.NewFromInt(1), nil
		}
		if rate, ok := table[from+"/"+to]; ok {
			return rate, nil
		}
		if inv, ok := table[to+"/"+from]; ok && !inv.IsZero() {
			return decimal.NewFromInt(1).Div(inv), nil
		}
		return decimal.Zero, fmt.Errorf("no rate for %s/%s", from, to)
	}
}

// =============================================================================
// CONVERTER - Amounts into the ledger's base currency
// =============================================================================

type Converter struct {
	Base  string
	Rates RateProvider
}

func NewConverter(base string, rates RateProvider) *Converter {
	return &Converter{Base: base, Rates: rates}
}

// ToBase converts an amount into the converter's base currency, rounded to
// the base currency's minor units.
func (c *Converter) ToBase(a Amount, on time.Time) (decimal.Decimal, error) {
	if a.Currency == c.Base {
		return a.Value, nil
	}
	if c.Rates == nil {
		return decimal.Zero, fmt.Errorf("no rate provider configured for %s -> %s", a.Currency, c.Base)
	}
	rate, err := c.Rates(a.Currency, c.Base, on)
	if err != nil {
		return decimal.Zero, err
	}
	return Round(a.Value.Mul(rate), c.Base), nil
}
