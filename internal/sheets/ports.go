package sheets

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one row of the yearly tax ledger: the income declared for
// a registry date.
type LedgerEntry struct {
	Date          string
	Income        decimal.Decimal
	Commission    decimal.Decimal
	PaymentsCount int
	Description   string
	MessageID     string
}

// Ports for outbound adapters.
type (
	LedgerWriter interface {
		AppendEntry(ctx context.Context, e LedgerEntry) (rowRef string, err error)
	}

	// LedgerReader answers whether a registry date was already recorded.
	LedgerReader interface {
		HasEntry(ctx context.Context, date string) (bool, error)
	}

	Ledger interface {
		LedgerWriter
		LedgerReader
	}
)
