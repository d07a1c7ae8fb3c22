// Package amount converts between the ledger's base-unit uint64 amounts
// and the decimal strings used on the API surface. All ledger arithmetic
// stays in base units; decimals exist only at the edges.
package amount

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in the custody asset's
// display unit (USDT-style six-decimal tokens).
const Decimals int32 = 6

func fromUint64(u uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0)
}

// ToDecimal renders a base-unit amount in display units.
func ToDecimal(baseUnits uint64) decimal.Decimal {
	return fromUint64(baseUnits).Shift(-Decimals)
}

// Format renders a base-unit amount as a display-unit string.
func Format(baseUnits uint64) string {
	return ToDecimal(baseUnits).StringFixed(Decimals)
}

// Parse converts a display-unit decimal string to base units. Negative,
// over-precise or out-of-range values are rejected; the ledger never
// sees an amount it cannot represent exactly.
func Parse(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %q: negative", s)
	}

	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, Decimals)
	}
	if scaled.Cmp(fromUint64(math.MaxUint64)) > 0 {
		return 0, fmt.Errorf("invalid amount %q: exceeds maximum", s)
	}
	return scaled.BigInt().Uint64(), nil
}
