package money

import "github.com/shopspring/decimal"

// Places is the number of minor-unit digits used for every stored amount.
const Places = 2

// Tolerance is one minor unit. Completed payments within this distance of an
// order total are treated as covering it.
var Tolerance = decimal.New(1, -Places)

// Round rounds half away from zero to the currency's minor unit.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Sum adds the amounts without intermediate rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Covers reports whether paid settles total within Tolerance.
func Covers(paid, total decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(total.Sub(Tolerance))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FromCents builds an amount from an integer number of minor units.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}

// MustParse parses s or panics. Intended for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
