// Package registry parses the semicolon-delimited payment registry that
// arrives as an e-mail attachment.
//
// Layout of an export:
//
//	Реестр принятых платежей ...            metadata
//	Дата платежей: 2026-01-15               metadata with the date label
//	Идентификатор платежа;Сумма платежа;... header (position varies)
//	2d1a...;1 234,56;...                    data rows
//	Сумма принятых платежей;1 334,56        summary section, ends the data
//	Число платежей;2
package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"npdbot/internal/core"
)

const (
	DateLabel      = "Дата платежей"
	HeaderMarker   = "Идентификатор платежа"
	TotalMarker    = "Сумма принятых платежей"
	CountMarker    = "Число платежей"
	Delimiter      = ';'
	MinLines       = 4
	DateScanWindow = 5
)

// Columns that fall back to zero when the export omits them.
const (
	colAmount     = "Сумма платежа"
	colCommission = "Сумма комиссии без НДС"
)

// paymentRow is one data row mapped by column name. Columns missing from
// the export leave their field empty.
type paymentRow struct {
	PaymentID   string `csv:"Идентификатор платежа"`
	Amount      string `csv:"Сумма платежа"`
	Commission  string `csv:"Сумма комиссии без НДС"`
	Currency    string `csv:"Валюта платежа"`
	PaymentTime string `csv:"Время платежа"`
	Description string `csv:"Описание"`
	PaymentType string `csv:"Тип платежа"`
}

// Parser turns registry text into a core.Registry.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser that reports skipped rows to logger.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse parses text with a parser logging to the default logger.
func Parse(text string) (*core.Registry, error) {
	return NewParser(nil).Parse(text)
}

// Parse extracts the registry from decoded attachment text.
//
// A missing date label yields core.UnknownDate rather than an error, rows
// with malformed amounts are skipped, and a registry without payment rows
// is returned with zero totals. Only structural problems fail the parse.
func (p *Parser) Parse(text string) (reg *core.Registry, err error) {
	defer func() {
		if r := recover(); r != nil {
			reg = nil
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	lines := splitLines(text)
	if len(lines) < MinLines {
		p.logger.Warn("Registry too short", "lines", len(lines))
		return nil, ErrTooShort
	}

	date := findDate(lines)
	if date == core.UnknownDate {
		p.logger.Warn("Registry date label not found", "label", DateLabel)
	}

	headerIdx := findHeader(lines)
	if headerIdx < 0 {
		p.logger.Warn("Registry header not found", "marker", HeaderMarker)
		return nil, ErrHeaderNotFound
	}

	records, lineNos, err := p.readRecords(lines[headerIdx:], headerIdx)
	if err != nil {
		return nil, err
	}

	var rows []paymentRow
	if err := gocsv.UnmarshalCSV(&recordReader{records: records}, &rows); err != nil {
		return nil, fmt.Errorf("%w: map rows: %v", ErrMalformed, err)
	}

	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}

	reg = &core.Registry{
		Date:        date,
		TotalAmount: decimal.Zero,
		Commission:  decimal.Zero,
		Status:      core.StatusPending,
		Payments:    []core.Payment{},
	}
	for i, row := range rows {
		if strings.TrimSpace(row.PaymentID) == "" {
			continue
		}
		payment, commission, rowErr := convertRow(row, columns, len(records[i+1]), lineNos[i])
		if rowErr == nil {
			rowErr = checkTotals(reg, payment, commission, lineNos[i])
		}
		if rowErr != nil {
			p.logger.Warn("Skipping registry row", "error", rowErr, "line", lineNos[i])
			continue
		}
		reg.Payments = append(reg.Payments, payment)
		reg.TotalAmount = reg.TotalAmount.Add(payment.Amount)
		reg.Commission = reg.Commission.Add(commission)
	}
	reg.PaymentsCount = len(reg.Payments)

	if reg.PaymentsCount == 0 {
		p.logger.Info("Registry has no payments", "date", reg.Date)
	}
	return reg, nil
}

// readRecords reads the header and the data rows up to the summary
// section. lineNos holds the 1-based source line of every data row.
func (p *Parser) readRecords(lines []string, offset int) ([][]string, []int, error) {
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.Comma = Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read header: %v", ErrMalformed, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records := [][]string{header}
	var lineNos []int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			p.logger.Warn("Skipping unreadable registry line", "line", offset+perr.StartLine, "error", perr.Err)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read rows: %v", ErrMalformed, err)
		}
		if len(rec) > 0 && isSummary(rec[0]) {
			break
		}
		line, _ := r.FieldPos(0)
		records = append(records, rec)
		lineNos = append(lineNos, offset+line)
	}
	return records, lineNos, nil
}

// convertRow maps one row. width is the number of cells the row actually
// had. An amount column missing from the export reads as zero, while an
// amount cell cut off by a short row is rejected. A commission cell
// missing for either reason reads as zero.
func convertRow(row paymentRow, columns map[string]int, width, line int) (core.Payment, decimal.Decimal, error) {
	amountText := strings.TrimSpace(row.Amount)
	if _, ok := columns[colAmount]; !ok {
		amountText = "0"
	}
	amount, err := parseAmount(colAmount, amountText, line)
	if err != nil {
		return core.Payment{}, decimal.Zero, err
	}

	commissionText := strings.TrimSpace(row.Commission)
	if idx, ok := columns[colCommission]; !ok || idx >= width {
		commissionText = "0"
	}
	commission, err := parseAmount(colCommission, commissionText, line)
	if err != nil {
		return core.Payment{}, decimal.Zero, err
	}

	currency := strings.TrimSpace(row.Currency)
	if currency == "" {
		currency = core.DefaultCurrency
	}

	return core.Payment{
		PaymentID:   strings.TrimSpace(row.PaymentID),
		Amount:      amount,
		Currency:    currency,
		PaymentTime: strings.TrimSpace(row.PaymentTime),
		Description: strings.TrimSpace(row.Description),
		PaymentType: strings.TrimSpace(row.PaymentType),
	}, commission, nil
}

func parseAmount(field, text string, line int) (decimal.Decimal, error) {
	d, err := core.ParseAmount(text)
	if err == nil {
		err = core.CheckAmount(d)
	}
	if err != nil {
		return decimal.Zero, &RowError{Line: line, Field: field, Value: text, Err: err}
	}
	return d, nil
}

// checkTotals rejects a row that would push the running sums out of the
// storable range.
func checkTotals(reg *core.Registry, payment core.Payment, commission decimal.Decimal, line int) error {
	if err := core.CheckAmount(reg.TotalAmount.Add(payment.Amount)); err != nil {
		return &RowError{Line: line, Field: colAmount, Value: payment.Amount.String(), Err: err}
	}
	if err := core.CheckAmount(reg.Commission.Add(commission)); err != nil {
		return &RowError{Line: line, Field: colCommission, Value: commission.String(), Err: err}
	}
	return nil
}

func splitLines(text string) []string {
	text = strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return lines
}

func findDate(lines []string) string {
	n := min(len(lines), DateScanWindow)
	for _, line := range lines[:n] {
		_, value, ok := strings.Cut(line, DateLabel+":")
		if !ok {
			continue
		}
		value = strings.Trim(value, " \t;\"")
		if value != "" {
			return value
		}
	}
	return core.UnknownDate
}

func findHeader(lines []string) int {
	for i, line := range lines {
		if strings.Contains(line, HeaderMarker) {
			return i
		}
	}
	return -1
}

func isSummary(cell string) bool {
	return strings.Contains(cell, TotalMarker) || strings.Contains(cell, CountMarker)
}

// recordReader feeds already split records to gocsv.
type recordReader struct {
	records [][]string
	pos     int
}

func (r *recordReader) Read() ([]string, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *recordReader) ReadAll() ([][]string, error) {
	rest := r.records[r.pos:]
	r.pos = len(r.records)
	return rest, nil
}
