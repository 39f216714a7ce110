// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer cents everywhere below the HTTP boundary;
// decimal values only appear when parsing input and when computing ratios.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Money struct {
	Cents int64
}

var (
	hundred = decimal.NewFromInt(100)
	// maxAmount keeps cents*100 arithmetic well inside int64.
	maxAmount = decimal.New(1, 15)
)

// ParseAmount converts a decimal string to Money with half-up rounding to
// the cent. Dot and comma separators are both accepted.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("12,345") -> 1235
//	ParseAmount("0.004")  -> ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal rounds d half-up to the cent. Non-positive and absurdly
// large values are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.IsPositive() || d.GreaterThanOrEqual(maxAmount) {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Round(2).Mul(hundred).IntPart()
	if cents <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents}, nil
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two decimals, e.g. "1234.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
