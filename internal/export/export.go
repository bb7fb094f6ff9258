// Package export writes the files derived from a registry: the one-line
// summary ready to paste into the tax app and the list of payments.
package export

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"

	"npdbot/internal/core"
)

// DefaultTaxDescription is used when no description is configured.
const DefaultTaxDescription = "Доступ к IT-сервису"

type taxRow struct {
	Date          string `csv:"date"`
	TotalRub      string `csv:"total_rub"`
	PaymentsCount int    `csv:"payments_count"`
	Description   string `csv:"description"`
}

type paymentRow struct {
	PaymentID   string `csv:"payment_id"`
	Time        string `csv:"time"`
	Amount      string `csv:"amount"`
	Description string `csv:"description"`
	Type        string `csv:"type"`
}

// Files are the absolute paths of the written exports.
type Files struct {
	TaxFile      string
	PaymentsFile string
}

type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write creates tax_ready_<date>.csv and payments_<date>.csv for reg,
// replacing earlier exports of the same date.
func (w *Writer) Write(reg *core.Registry, description string) (Files, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return Files{}, fmt.Errorf("create export directory: %w", err)
	}
	if strings.TrimSpace(description) == "" {
		description = DefaultTaxDescription
	}

	name := safeName(reg.Date)
	files := Files{
		TaxFile:      filepath.Join(w.dir, "tax_ready_"+name+".csv"),
		PaymentsFile: filepath.Join(w.dir, "payments_"+name+".csv"),
	}

	tax := []taxRow{{
		Date:          reg.Date,
		TotalRub:      core.FormatAmount(reg.TotalAmount),
		PaymentsCount: reg.PaymentsCount,
		Description:   description,
	}}
	if err := writeCSV(files.TaxFile, tax); err != nil {
		return Files{}, fmt.Errorf("write tax file: %w", err)
	}

	payments := make([]paymentRow, len(reg.Payments))
	for i, p := range reg.Payments {
		payments[i] = paymentRow{
			PaymentID:   p.PaymentID,
			Time:        p.PaymentTime,
			Amount:      core.FormatAmount(p.Amount),
			Description: p.Description,
			Type:        p.PaymentType,
		}
	}
	if err := writeCSV(files.PaymentsFile, payments); err != nil {
		return Files{}, fmt.Errorf("write payments file: %w", err)
	}

	slog.Info("Registry exported",
		"date", reg.Date,
		"tax_file", files.TaxFile,
		"payments_file", files.PaymentsFile,
		"payments", len(payments))
	return files, nil
}

func writeCSV[T any](path string, rows []T) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(csv.NewWriter(tmp))); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// safeName keeps a registry date usable as part of a file name.
func safeName(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return core.UnknownDate
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '.':
			return '-'
		}
		return r
	}, date)
}
