package registry

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"npdbot/internal/core"
)

const sampleRegistry = `Реестр принятых платежей
Дата платежей: 2026-01-15
Организация: ИП
Идентификатор платежа;Сумма платежа;Сумма комиссии без НДС;Валюта платежа;Время платежа;Описание;Тип платежа
a1;1 234,56;12,34;RUB;10:15:00;Консультация;Карта
a2;100,00;1,00;;11:00:00;Урок;СБП
Сумма принятых платежей;1 334,56
Число платежей;2
`

func TestParse(t *testing.T) {
	reg, err := Parse(sampleRegistry)
	require.NoError(t, err)

	assert.Equal(t, "2026-01-15", reg.Date)
	assert.Equal(t, core.StatusPending, reg.Status)
	assert.Equal(t, 2, reg.PaymentsCount)
	assert.Equal(t, "1334.56", core.FormatAmount(reg.TotalAmount))
	assert.Equal(t, "13.34", core.FormatAmount(reg.Commission))
	require.Len(t, reg.Payments, 2)

	first := reg.Payments[0]
	assert.Equal(t, "a1", first.PaymentID)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("1234.56")))
	assert.Equal(t, "RUB", first.Currency)
	assert.Equal(t, "10:15:00", first.PaymentTime)
	assert.Equal(t, "Консультация", first.Description)
	assert.Equal(t, "Карта", first.PaymentType)

	assert.Equal(t, core.DefaultCurrency, reg.Payments[1].Currency)
	require.NoError(t, reg.Validate())
}

func TestParseNoPayments(t *testing.T) {
	text := `Реестр принятых платежей
Дата платежей: 2026-02-01
Идентификатор платежа;Сумма платежа;Сумма комиссии без НДС
Сумма принятых платежей;0,00
Число платежей;0`

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", reg.Date)
	assert.Equal(t, 0, reg.PaymentsCount)
	assert.True(t, reg.TotalAmount.IsZero())
	assert.NotNil(t, reg.Payments)
	assert.Empty(t, reg.Payments)
}

func TestParseUnknownDate(t *testing.T) {
	text := `Реестр принятых платежей
Организация: ИП
Идентификатор платежа;Сумма платежа
a1;50,00
Число платежей;1`

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, core.UnknownDate, reg.Date)
	assert.Equal(t, 1, reg.PaymentsCount)
	assert.Equal(t, "50.00", core.FormatAmount(reg.TotalAmount))
}

func TestParseDateOutsideWindow(t *testing.T) {
	text := `line 1
line 2
line 3
line 4
line 5
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа
a1;50,00`

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, core.UnknownDate, reg.Date)
}

func TestParseDateTrimsDelimiters(t *testing.T) {
	text := `Реестр
"Дата платежей: 2026-03-10";;;
Идентификатор платежа;Сумма платежа
a1;10,00`

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", reg.Date)
}

func TestParseSkipsMalformedRow(t *testing.T) {
	text := `Реестр
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа;Сумма комиссии без НДС
a1;100,00;1,00
a2;abc;0
a3;;0
a4;50,00;0
;999,00;0
Сумма принятых платежей;150,00`

	reg, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, 2, reg.PaymentsCount)
	assert.Equal(t, "a1", reg.Payments[0].PaymentID)
	assert.Equal(t, "a4", reg.Payments[1].PaymentID)
	assert.Equal(t, "150.00", core.FormatAmount(reg.TotalAmount))
	assert.Equal(t, "1.00", core.FormatAmount(reg.Commission))
}

func TestParseMissingCommissionColumn(t *testing.T) {
	text := `Реестр
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа
a1;100,00`

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.True(t, reg.Commission.IsZero())
	assert.Equal(t, 1, reg.PaymentsCount)
}

func TestParseShortRowCommissionDefaultsToZero(t *testing.T) {
	text := `Реестр
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа;Сумма комиссии без НДС
a1;100,00
a2;50,00;2,00
a3`

	reg, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, 2, reg.PaymentsCount, "a row cut before the amount is rejected")
	assert.Equal(t, "a1", reg.Payments[0].PaymentID)
	assert.Equal(t, "150.00", core.FormatAmount(reg.TotalAmount))
	assert.Equal(t, "2.00", core.FormatAmount(reg.Commission))
}

func TestParseEmptyCommissionCellIsRejected(t *testing.T) {
	text := `Реестр
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа;Сумма комиссии без НДС;Валюта платежа
a1;100,00;;RUB
a2;50,00;0;RUB`

	reg, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, 1, reg.PaymentsCount)
	assert.Equal(t, "a2", reg.Payments[0].PaymentID)
}

func TestParseRejectsUnstorableAmounts(t *testing.T) {
	text := `Реестр
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа;Сумма комиссии без НДС
a1;99999999999999999999,00;0
a2;0,005;0
a3;0,005;0
a4;10,00;0,001
a5;10,50;0,25`

	reg, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, 1, reg.PaymentsCount)
	assert.Equal(t, "a5", reg.Payments[0].PaymentID)
	assert.Equal(t, "10.50", core.FormatAmount(reg.TotalAmount))
	assert.Equal(t, "0.25", core.FormatAmount(reg.Commission))
	require.NoError(t, reg.Validate())
}

func TestParseRejectsRowOverflowingTotal(t *testing.T) {
	text := `Реестр
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа
a1;90000000000000000,00
a2;90000000000000000,00
a3;1,00`

	reg, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, 2, reg.PaymentsCount)
	assert.Equal(t, "a1", reg.Payments[0].PaymentID)
	assert.Equal(t, "a3", reg.Payments[1].PaymentID)
	_, err = core.ToMinor(reg.TotalAmount)
	assert.NoError(t, err)
}

func TestParseDateLabelNeedsColon(t *testing.T) {
	text := `Реестр
Дата платежей 2026-01-15; сформирован: 10:00
Идентификатор платежа;Сумма платежа
a1;10,00`

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, core.UnknownDate, reg.Date)
}

func TestParseStopsAtSummary(t *testing.T) {
	text := `Реестр
Дата платежей: 2026-01-15
Идентификатор платежа;Сумма платежа
a1;100,00
Число платежей;1
a2;900,00`

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.PaymentsCount)
	assert.Equal(t, "100.00", core.FormatAmount(reg.TotalAmount))
}

func TestParseCRLF(t *testing.T) {
	text := strings.ReplaceAll(sampleRegistry, "\n", "\r\n")

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15", reg.Date)
	assert.Equal(t, 2, reg.PaymentsCount)
	assert.Equal(t, "Карта", reg.Payments[0].PaymentType)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = Parse("one\ntwo\nthree")
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = Parse("Реестр\nДата платежей: 2026-01-15\nfoo;bar\n1;2")
	assert.ErrorIs(t, err, ErrHeaderNotFound)
}

func TestRowError(t *testing.T) {
	err := &RowError{Line: 7, Field: "Сумма платежа", Value: "abc", Err: core.ErrInvalidAmount}
	assert.Equal(t, "line 7: failed to parse Сумма платежа='abc': invalid amount", err.Error())
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestDecode(t *testing.T) {
	text, err := Decode(append([]byte{0xEF, 0xBB, 0xBF}, []byte("Дата платежей")...))
	require.NoError(t, err)
	assert.Equal(t, "Дата платежей", text)

	cp1251, err := charmap.Windows1251.NewEncoder().String(sampleRegistry)
	require.NoError(t, err)
	text, err = Decode([]byte(cp1251))
	require.NoError(t, err)
	assert.Equal(t, sampleRegistry, text)

	reg, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.PaymentsCount)
}
