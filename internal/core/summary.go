package core

import "github.com/shopspring/decimal"

// Summary is a rollup of registry totals over a period. The zero value is
// the result for a period without registries.
type Summary struct {
	Income        decimal.Decimal
	Commission    decimal.Decimal
	PaymentsCount int64
	IncomeDays    int64 // registries with non-zero income
	Registries    int64
}

// MonthSummary is a Summary for a specific year+month.
type MonthSummary struct {
	Year  int
	Month int // 1-12
	Summary
}

// YearSummary is a Summary for a calendar year with the remaining room
// under the annual income limit. Commission is not deducted.
type YearSummary struct {
	Year           int
	Limit          decimal.Decimal
	LimitRemaining decimal.Decimal
	Summary
}

// RemainingLimit returns limit minus income, floored at zero.
func RemainingLimit(limit, income decimal.Decimal) decimal.Decimal {
	rest := limit.Sub(income)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}
