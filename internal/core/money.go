// Package core holds the ledger's domain types.
//
// Amounts are always carried as integer minor units (cents, grosze).
// Decimal strings are only used for display.
package core

import "github.com/shopspring/decimal"

type Money struct {
	Cents int64
}

// Cents is a shorthand constructor.
func Cents(c int64) Money {
	return Money{Cents: c}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// String formats the amount with exactly two decimals, e.g. "42.50".
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}
