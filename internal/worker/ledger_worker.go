// Package worker relays ingested registries to the operator's tax ledger.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"npdbot/internal/amqp"
	"npdbot/internal/core"
	"npdbot/internal/sheets"
)

// DefaultBackfillLimit is how many recent registries Backfill inspects.
const DefaultBackfillLimit = 50

// HistoryReader lists stored registries, newest date first.
type HistoryReader interface {
	GetHistory(ctx context.Context, limit int) ([]*core.Registry, error)
}

// LedgerWorker appends one ledger row per registry date. Handling is
// idempotent: a date already present in the ledger is skipped, so
// redelivered messages do not duplicate rows.
type LedgerWorker struct {
	ledger      sheets.Ledger
	history     HistoryReader
	description string
}

func NewLedgerWorker(ledger sheets.Ledger, history HistoryReader, description string) *LedgerWorker {
	return &LedgerWorker{
		ledger:      ledger,
		history:     history,
		description: description,
	}
}

// HandleRegistryIngested processes one registry.ingested message. A
// returned error asks the consumer to requeue the message.
func (w *LedgerWorker) HandleRegistryIngested(ctx context.Context, msg *amqp.RegistryIngestedMessage) error {
	if strings.TrimSpace(msg.Date) == "" {
		slog.WarnContext(ctx, "Dropping registry message without date", "message_id", msg.MessageID)
		return nil
	}

	slog.InfoContext(ctx, "Processing registry message",
		"message_id", msg.MessageID,
		"cycle_id", msg.CycleID,
		"date", msg.Date)

	description := msg.Description
	if description == "" {
		description = w.description
	}
	entry := sheets.LedgerEntry{
		Date:          msg.Date,
		Income:        msg.TotalAmount,
		Commission:    msg.Commission,
		PaymentsCount: msg.PaymentsCount,
		Description:   description,
		MessageID:     msg.MessageID,
	}
	_, err := w.appendOnce(ctx, entry)
	return err
}

// Backfill appends stored registries the ledger is missing. It recovers
// from messages lost while the broker or the worker was down.
func (w *LedgerWorker) Backfill(ctx context.Context, limit int) (int, error) {
	if w.history == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	regs, err := w.history.GetHistory(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get history for backfill: %w", err)
	}

	appended, failed := 0, 0
	for _, reg := range regs {
		if !reg.HasKnownDate() {
			continue
		}
		ok, err := w.appendOnce(ctx, sheets.LedgerEntry{
			Date:          reg.Date,
			Income:        reg.TotalAmount,
			Commission:    reg.Commission,
			PaymentsCount: reg.PaymentsCount,
			Description:   w.description,
		})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to backfill registry", "date", reg.Date, "error", err)
			failed++
			continue
		}
		if ok {
			appended++
		}
	}

	slog.InfoContext(ctx, "Ledger backfill completed",
		"inspected", len(regs),
		"appended", appended,
		"errors", failed)
	return appended, nil
}

// appendOnce reports whether a row was written.
func (w *LedgerWorker) appendOnce(ctx context.Context, e sheets.LedgerEntry) (bool, error) {
	exists, err := w.ledger.HasEntry(ctx, e.Date)
	if err != nil {
		return false, fmt.Errorf("check ledger entry %s: %w", e.Date, err)
	}
	if exists {
		slog.InfoContext(ctx, "Ledger already has registry date, skipping", "date", e.Date)
		return false, nil
	}

	ref, err := w.ledger.AppendEntry(ctx, e)
	if err != nil {
		return false, fmt.Errorf("append ledger entry %s: %w", e.Date, err)
	}
	slog.InfoContext(ctx, "Registry appended to ledger",
		"date", e.Date,
		"ledger_ref", ref,
		"income", core.FormatAmount(e.Income))
	return true, nil
}
