package valuation

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Display formats amount in currency, rounded to the currency's minor unit,
// e.g. "$1,234.50".
func Display(amount decimal.Decimal, currency string) string {
	// money.New never yields a nil currency
	cur := *money.New(0, currency).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

// Float rounds amount to places and converts it for chart rendering.
func Float(amount decimal.Decimal, places int32) float64 {
	return amount.Round(places).InexactFloat64()
}

// Percent renders a ratio as a percentage with two decimals.
func Percent(ratio decimal.Decimal) string {
	return ratio.Shift(2).StringFixed(2) + "%"
}
