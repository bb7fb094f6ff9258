// Package report renders the operator-facing texts.
package report

import (
	"fmt"
	"strings"
	"time"

	"npdbot/internal/core"
)

const (
	NoNewRegistries = "Новых реестров не найдено."
	Never           = "никогда"
	timeLayout      = "2006-01-02 15:04:05"
)

var monthNames = [...]string{
	"январь", "февраль", "март", "апрель", "май", "июнь",
	"июль", "август", "сентябрь", "октябрь", "ноябрь", "декабрь",
}

// TaxLine is the line the operator copies into the tax app.
func TaxLine(reg *core.Registry, description string) string {
	return fmt.Sprintf("%s — %s RUB — %s", reg.Date, core.FormatAmount(reg.TotalAmount), description)
}

// Registry renders the report sent for every ingested registry.
func Registry(reg *core.Registry, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Реестр от %s\n\n", reg.Date)
	fmt.Fprintf(&b, "Доход: %s RUB\n", core.FormatAmount(reg.TotalAmount))
	fmt.Fprintf(&b, "Платежей: %d\n", reg.PaymentsCount)
	fmt.Fprintf(&b, "Комиссия: %s RUB (справочно)\n", core.FormatAmount(reg.Commission))
	if reg.Confirmed() {
		b.WriteString("Статус: подтвержден\n")
	}
	b.WriteString("\nДля «Мой налог»:\n")
	b.WriteString(TaxLine(reg, description))
	return b.String()
}

// Outcome renders the result line of an ingestion cycle.
func Outcome(registries int, err error) string {
	switch {
	case err != nil:
		return "Ошибка: " + err.Error()
	case registries == 0:
		return NoNewRegistries
	default:
		return fmt.Sprintf("Обработано реестров: %d", registries)
	}
}

// Status renders the lifetime counters. loc controls how the last check
// time is shown.
func Status(c core.Counters, loc *time.Location) string {
	last := Never
	if c.Checked() {
		if loc == nil {
			loc = time.UTC
		}
		last = c.LastCheck.In(loc).Format(timeLayout)
	}
	return fmt.Sprintf("Статус бота\n\nПоследняя проверка: %s\nПисем обработано: %d\nРеестров обработано: %d",
		last, c.DeliveriesScanned, c.FilesIngested)
}

// History renders one line per registry, as returned by the store.
func History(regs []*core.Registry) string {
	if len(regs) == 0 {
		return "Реестров пока нет."
	}
	var b strings.Builder
	for i, reg := range regs {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		if reg.Confirmed() {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s %s  %s RUB  (%d)", mark, reg.Date, core.FormatAmount(reg.TotalAmount), reg.PaymentsCount)
	}
	return b.String()
}

func Month(m core.MonthSummary) string {
	name := fmt.Sprintf("%02d", m.Month)
	if m.Month >= 1 && m.Month <= 12 {
		name = monthNames[m.Month-1]
	}
	return fmt.Sprintf("Статистика за %s %d\n\n", name, m.Year) + summaryLines(m.Summary)
}

func Year(y core.YearSummary) string {
	return fmt.Sprintf("Статистика за %d год\n\n", y.Year) +
		summaryLines(y.Summary) +
		fmt.Sprintf("\nЛимит НПД: %s RUB\nОстаток лимита: %s RUB", core.FormatAmount(y.Limit), core.FormatAmount(y.LimitRemaining))
}

func AllTime(s core.Summary) string {
	return "Статистика за все время\n\n" + summaryLines(s)
}

func summaryLines(s core.Summary) string {
	return fmt.Sprintf("Доход: %s RUB\nКомиссия: %s RUB (справочно)\nПлатежей: %d\nДней с доходом: %d\nРеестров: %d",
		core.FormatAmount(s.Income), core.FormatAmount(s.Commission), s.PaymentsCount, s.IncomeDays, s.Registries)
}
