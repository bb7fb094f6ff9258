// Package core provides money parsing and handling utilities.
//
// Registry exports write amounts the Russian way: a decimal comma and an
// optional space (often a no-break space) between thousands, e.g. "1 234,56".
// Amounts are kept as decimals in memory and as integer kopecks in storage.
package core

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of fractional digits stored for an amount.
const MinorUnits = 2

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountPrecision = errors.New("amount has more than 2 fractional digits")
	ErrAmountRange     = errors.New("amount out of range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// amountSpaces are the separators exports put between thousands.
var amountSpaces = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	"\t", "",
)

// NormalizeAmount turns locale text into a dot-decimal string.
//
// Examples:
//
//	NormalizeAmount("1 234,56") -> "1234.56"
//	NormalizeAmount("100,00")   -> "100.00"
func NormalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	s = amountSpaces.Replace(s)
	return strings.ReplaceAll(s, ",", ".")
}

// ParseAmount parses a locale formatted amount. Empty input is an error;
// callers that treat a missing column as zero substitute "0" first.
func ParseAmount(s string) (decimal.Decimal, error) {
	n := NormalizeAmount(s)
	if n == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(n)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// CheckAmount reports whether d is representable in kopecks without
// rounding or overflow.
func CheckAmount(d decimal.Decimal) error {
	minor := d.Shift(MinorUnits)
	if !minor.Equal(minor.Truncate(0)) {
		return ErrAmountPrecision
	}
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return ErrAmountRange
	}
	return nil
}

// ToMinor converts an amount to kopecks. It never rounds: amounts with
// sub-kopeck fractions or outside the int64 range are an error.
func ToMinor(d decimal.Decimal) (int64, error) {
	if err := CheckAmount(d); err != nil {
		return 0, fmt.Errorf("%w: %s", err, d.String())
	}
	return d.Shift(MinorUnits).IntPart(), nil
}

// FromMinor converts kopecks back to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnits)
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(MinorUnits)
}
