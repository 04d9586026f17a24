package payment

import "github.com/shopspring/decimal"

// ToMinorUnits converts a major-unit amount (e.g. 500.25 NGN) to the
// integer minor units some providers expect (50025 kobo).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor decimal.Decimal) decimal.Decimal {
	return minor.Shift(-2)
}
