/**
 * @description
 * Monetary arithmetic helpers. All amounts in the service are carried as
 * decimal.Decimal at a fixed scale of 4 fractional digits. Request amounts
 * are never rounded, only normalized to the fixed scale when they already
 * fit; derived values (aggregated totals) round half-up.
 */

package domain

import "github.com/shopspring/decimal"

// MoneyScale is the fixed number of fractional digits for all amounts.
const MoneyScale = 4

// RoundMoney applies the service-wide rounding rule (half-up at 4 digits)
// to a derived value. Request amounts must not pass through here; they are
// validated with FitsMoneyScale instead.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// FitsMoneyScale reports whether d can be represented at the fixed scale
// without loss. Amounts that do not fit are a validation error, never a
// silent rounding.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// SumAmounts adds a list of amounts and rounds the aggregate half-up.
func SumAmounts(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return RoundMoney(total)
}
