package domain

import "github.com/shopspring/decimal"

// Tolerance is the largest difference between two amounts that is still
// treated as equal: one minor unit.
var Tolerance = decimal.New(1, -2)

// FromMinor converts stored minor units (cents) to a decimal amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// ToMinor converts an amount to minor units, rounding half away from zero.
func ToMinor(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// IsWholeMinor reports whether d is an exact number of minor units, so it
// survives ToMinor unchanged.
func IsWholeMinor(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// WithinTolerance reports whether a and b differ by at most Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
