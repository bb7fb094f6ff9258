package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npdbot/internal/core"
)

func testRegistry() *core.Registry {
	return &core.Registry{
		Date:          "2026-01-15",
		TotalAmount:   decimal.RequireFromString("1334.56"),
		PaymentsCount: 2,
		Payments: []core.Payment{
			{PaymentID: "a1", Amount: decimal.RequireFromString("1234.56"), PaymentTime: "10:15:00", Description: "Консультация", PaymentType: "Карта"},
			{PaymentID: "a2", Amount: decimal.RequireFromString("100"), PaymentTime: "11:00:00", Description: "Урок, групповой", PaymentType: "СБП"},
		},
	}
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	w := NewWriter(dir)

	files, err := w.Write(testRegistry(), "Консультации")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tax_ready_2026-01-15.csv"), files.TaxFile)
	assert.Equal(t, filepath.Join(dir, "payments_2026-01-15.csv"), files.PaymentsFile)

	tax, err := os.ReadFile(files.TaxFile)
	require.NoError(t, err)
	assert.Equal(t, "date,total_rub,payments_count,description\n2026-01-15,1334.56,2,Консультации\n", string(tax))

	payments, err := os.ReadFile(files.PaymentsFile)
	require.NoError(t, err)
	assert.Equal(t,
		"payment_id,time,amount,description,type\n"+
			"a1,10:15:00,1234.56,Консультация,Карта\n"+
			"a2,11:00:00,100.00,\"Урок, групповой\",СБП\n",
		string(payments))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestWriteDefaultsAndEmpty(t *testing.T) {
	w := NewWriter(t.TempDir())
	reg := &core.Registry{Date: core.UnknownDate}

	files, err := w.Write(reg, "  ")
	require.NoError(t, err)

	tax, err := os.ReadFile(files.TaxFile)
	require.NoError(t, err)
	assert.Equal(t, "date,total_rub,payments_count,description\nunknown,0.00,0,Доступ к IT-сервису\n", string(tax))

	payments, err := os.ReadFile(files.PaymentsFile)
	require.NoError(t, err)
	assert.Equal(t, "payment_id,time,amount,description,type\n", string(payments))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "2026-01-15", safeName("2026-01-15"))
	assert.Equal(t, "15-01-2026", safeName("15.01.2026"))
	assert.Equal(t, "2026-01-15", safeName("2026/01/15"))
	assert.Equal(t, core.UnknownDate, safeName(""))
}
