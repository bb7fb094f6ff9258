package report

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"npdbot/internal/core"
)

func TestRegistry(t *testing.T) {
	reg := &core.Registry{
		Date:          "2026-01-15",
		TotalAmount:   decimal.RequireFromString("1334.56"),
		Commission:    decimal.RequireFromString("13.34"),
		PaymentsCount: 2,
	}

	got := Registry(reg, "Услуги")
	assert.Equal(t, "Реестр от 2026-01-15\n\n"+
		"Доход: 1334.56 RUB\n"+
		"Платежей: 2\n"+
		"Комиссия: 13.34 RUB (справочно)\n"+
		"\nДля «Мой налог»:\n"+
		"2026-01-15 — 1334.56 RUB — Услуги", got)

	reg.Status = core.StatusConfirmed
	assert.Contains(t, Registry(reg, "Услуги"), "Статус: подтвержден")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, NoNewRegistries, Outcome(0, nil))
	assert.Equal(t, "Обработано реестров: 3", Outcome(3, nil))
	assert.Equal(t, "Ошибка: imap down", Outcome(2, errors.New("imap down")))
}

func TestStatus(t *testing.T) {
	assert.Contains(t, Status(core.Counters{}, nil), "Последняя проверка: никогда")

	last := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	msk := time.FixedZone("MSK", 3*60*60)
	got := Status(core.Counters{LastCheck: &last, DeliveriesScanned: 5, FilesIngested: 2}, msk)
	assert.Equal(t, "Статус бота\n\nПоследняя проверка: 2026-01-15 09:00:00\nПисем обработано: 5\nРеестров обработано: 2", got)
}

func TestHistory(t *testing.T) {
	assert.Equal(t, "Реестров пока нет.", History(nil))

	got := History([]*core.Registry{
		{Date: "2026-01-16", TotalAmount: decimal.NewFromInt(50), PaymentsCount: 1, Status: core.StatusConfirmed},
		{Date: "2026-01-15", TotalAmount: decimal.RequireFromString("1334.56"), PaymentsCount: 2, Status: core.StatusPending},
	})
	assert.Equal(t, "✓ 2026-01-16  50.00 RUB  (1)\n  2026-01-15  1334.56 RUB  (2)", got)
}

func TestStats(t *testing.T) {
	m := core.MonthSummary{Year: 2026, Month: 1, Summary: core.Summary{Income: decimal.NewFromInt(100), PaymentsCount: 2, IncomeDays: 1, Registries: 1}}
	assert.Contains(t, Month(m), "Статистика за январь 2026")
	assert.Contains(t, Month(m), "Доход: 100.00 RUB")

	y := core.YearSummary{Year: 2026, Limit: decimal.NewFromInt(2400000), LimitRemaining: decimal.NewFromInt(2399900)}
	assert.Contains(t, Year(y), "Остаток лимита: 2399900.00 RUB")

	assert.Contains(t, AllTime(core.Summary{}), "Реестров: 0")
}
