package google

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"npdbot/internal/core"
	ports "npdbot/internal/sheets"
)

// parseLedger converts a values matrix (as returned by Sheets API) into
// ledger entries. Columns are Date, Income, Commission, Payments,
// Description, MessageID. Rows without a date, such as a header row or
// blank lines, are skipped. Unparsable numbers read as zero.
func parseLedger(values [][]interface{}) []ports.LedgerEntry {
	var out []ports.LedgerEntry
	for _, row := range values {
		cols := toStrings(row)
		date := safeGet(cols, 0)
		if !looksLikeDate(date) {
			continue
		}
		count, _ := strconv.Atoi(safeGet(cols, 3))
		out = append(out, ports.LedgerEntry{
			Date:          date,
			Income:        parseCell(safeGet(cols, 1)),
			Commission:    parseCell(safeGet(cols, 2)),
			PaymentsCount: count,
			Description:   safeGet(cols, 4),
			MessageID:     safeGet(cols, 5),
		})
	}
	return out
}

// looksLikeDate accepts ISO dates and the undated marker.
func looksLikeDate(s string) bool {
	if s == core.UnknownDate {
		return true
	}
	if len(s) < 4 {
		return false
	}
	_, err := strconv.Atoi(s[:4])
	return err == nil && strings.Count(s, "-") >= 1
}

func parseCell(s string) decimal.Decimal {
	d, err := core.ParseAmount(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
