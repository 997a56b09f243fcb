// Package units converts between human-scale decimal amounts and integer
// smallest-unit amounts at a given decimal precision.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DivisionPlaces is the number of fractional digits kept by divisions on amounts.
const DivisionPlaces int32 = 36

// ErrInvalidPrecision is returned for negative precisions.
var ErrInvalidPrecision = errors.New("units: invalid precision")

// ToSmallestUnit renders amount × 10^precision truncated toward zero as a base-10 integer string.
func ToSmallestUnit(amount decimal.Decimal, precision int32) (string, error) {
	if precision < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidPrecision, precision)
	}
	return amount.Shift(precision).Truncate(0).BigInt().String(), nil
}

// FromSmallestUnit returns value ÷ 10^precision. The shift is exact.
func FromSmallestUnit(value decimal.Decimal, precision int32) (decimal.Decimal, error) {
	if precision < 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %d", ErrInvalidPrecision, precision)
	}
	return value.Shift(-precision), nil
}

// ParseSmallestUnit parses an integer string and converts it with FromSmallestUnit.
func ParseSmallestUnit(raw string, precision int32) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse smallest unit %q: %w", raw, err)
	}
	return FromSmallestUnit(value, precision)
}

// Percent returns part / whole × 100, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.DivRound(whole, DivisionPlaces).Mul(decimal.NewFromInt(100))
}
