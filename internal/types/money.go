// README: Money value object in minor currency units.
package types

import "math"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// MulRate multiplies by a fractional rate, rounding half away from zero to the minor unit.
func (m Money) MulRate(rate float64) Money {
	return Money{Amount: int64(math.Round(float64(m.Amount) * rate)), Currency: m.Currency}
}
