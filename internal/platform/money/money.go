// Package money centralizes the decimal arithmetic rules for toll and
// payment amounts. Amounts are never computed in binary floating-point:
// a 1.5 km sojourn at 0.15 $/km rounds to 0.23 under half-up decimal
// rounding, not the 0.22 that float64 multiplication produces.
package money

import "github.com/shopspring/decimal"

// TollAmount returns round_half_up(distanceKm * ratePerKm, 2).
func TollAmount(distanceKm, ratePerKm float64) decimal.Decimal {
	d := decimal.NewFromFloat(distanceKm).Mul(decimal.NewFromFloat(ratePerKm))
	return d.Round(2)
}

// RoundHalfUp2 rounds an arbitrary decimal amount to two fractional digits
// using half-up rounding, matching the storage layer's NUMERIC(10,2)
// column.
func RoundHalfUp2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
