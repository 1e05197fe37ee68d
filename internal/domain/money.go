package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money pairs an amount with its currency. Amounts are int64 micros
// (10^-6 units) everywhere inside the service; decimals exist only at
// the API and provider boundaries.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney builds a Money value from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal renders the amount as a decimal for external consumers.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(1_000_000))
}

// FromDecimal converts a decimal amount to micros, truncating any
// precision below 10^-6.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(1_000_000)).IntPart()
}

// MicrosToDecimal converts raw micros to their decimal representation.
func MicrosToDecimal(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Div(decimal.NewFromInt(1_000_000))
}


func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
