// Package money converts between minor-unit integers and display amounts.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

const minorPerMajor = 100

var hundred = decimal.NewFromInt(minorPerMajor)

// ToMajor converts minor units (cents) to a decimal major amount.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}

// FromMajor converts a major amount to minor units, rounding half away from zero.
func FromMajor(major decimal.Decimal) int64 {
	return major.Mul(hundred).Round(0).IntPart()
}

// WholeUnits rounds minor units up to whole major units. Providers that only
// accept integer amounts must never be asked for less than is owed.
func WholeUnits(minor int64) int64 {
	return ToMajor(minor).Ceil().IntPart()
}

// Format renders minor units as "KES 3,500.00".
func Format(minor int64, currency string) string {
	fixed := ToMajor(minor).StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := sign + b.String() + "." + frac
	if currency = strings.TrimSpace(currency); currency != "" {
		out = strings.ToUpper(currency) + " " + out
	}
	return out
}
