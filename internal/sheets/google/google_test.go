package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	ports "npdbot/internal/sheets"
)

type fakeSheets struct {
	mu       sync.Mutex
	values   [][]interface{}
	appended []string
	paths    []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		body, _ := io.ReadAll(r.Body)
		f.appended = append(f.appended, string(body))
		json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sheet-id",
			"updates":       map[string]any{"updatedRange": "'2026 Ledger'!A2:F2"},
		})
	case r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{"values": f.values})
	default:
		http.Error(w, "unexpected request", http.StatusBadRequest)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	c := NewWithService(svc, Config{SpreadsheetID: "sheet-id"})
	c.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Equal(t, "missing GOOGLE_SPREADSHEET_ID", err.Error())
}

func TestNewSheetsService_MissingCredentials(t *testing.T) {
	for _, key := range []string{"GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS"} {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		if had {
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}

	_, err := newSheetsService(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")
}

func TestAppendEntry(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	ref, err := c.AppendEntry(context.Background(), ports.LedgerEntry{
		Date:          "2026-01-15",
		Income:        decimal.RequireFromString("1334.56"),
		Commission:    decimal.RequireFromString("13.34"),
		PaymentsCount: 2,
		Description:   "Услуги",
		MessageID:     "m-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "'2026 Ledger'!A2:F2", ref)

	require.Len(t, fake.appended, 1)
	assert.Contains(t, fake.appended[0], `"2026-01-15"`)
	assert.Contains(t, fake.appended[0], `1334.56`)
	assert.Contains(t, fake.appended[0], `"Услуги"`)
	assert.Contains(t, fake.paths[0], "2026 Ledger")
}

func TestAppendEntry_RequiresDate(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	_, err := c.AppendEntry(context.Background(), ports.LedgerEntry{})
	assert.Error(t, err)
}

func TestHasEntry(t *testing.T) {
	fake := &fakeSheets{values: [][]interface{}{
		{"Дата", "Доход", "Комиссия", "Платежей", "Описание", "ID"},
		{"2026-01-14", "50", "0", "1", "Услуги", "m-0"},
		{"2026-01-15", "1 334,56", "13,34", "2", "Услуги", "m-1"},
	}}
	c := newTestClient(t, fake)

	ok, err := c.HasEntry(context.Background(), "2026-01-15")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasEntry(context.Background(), "2026-01-16")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseLedger(t *testing.T) {
	entries := parseLedger([][]interface{}{
		{"Date", "Income"},
		{},
		{"2026-01-15", "1 334,56", "13.34", "2", "Услуги", "m-1"},
		{"unknown", "3"},
	})
	require.Len(t, entries, 2)
	assert.Equal(t, "1334.56", entries[0].Income.StringFixed(2))
	assert.Equal(t, 2, entries[0].PaymentsCount)
	assert.Equal(t, "m-1", entries[0].MessageID)
	assert.Equal(t, "unknown", entries[1].Date)
	assert.Equal(t, "3.00", entries[1].Income.StringFixed(2))
}

func TestSheetFor(t *testing.T) {
	c := NewWithService(nil, Config{SpreadsheetID: "x", LedgerSheet: "Налоги"})
	c.now = func() time.Time { return time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, "2026 Налоги", c.sheetFor("2026-12-31"))
	assert.Equal(t, "2027 Налоги", c.sheetFor("unknown"))
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Ledger", 2026, "2026 Ledger"},
		{"2025 Ledger", 2026, "2025 Ledger"},
		{"  Ledger  ", 2026, "2026 Ledger"},
		{"", 2026, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, yearPrefixedName(tt.base, tt.year), tt.base)
	}
}

func TestA1Range(t *testing.T) {
	assert.Equal(t, "'2026 Ledger'!A:F", a1Range("2026 Ledger", "A:F"))
	assert.Equal(t, "'O''Brien'!A:F", a1Range("O'Brien", "A:F"))
}
