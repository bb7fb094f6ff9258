package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npdbot/internal/core"
	"npdbot/internal/report"
	"npdbot/internal/services"
	"npdbot/internal/storage"
)

const testToken = "secret-token"

type testEnv struct {
	server *Server
	repo   *storage.SQLiteRepository
	runs   int
	runErr error
	runRes *services.CycleResult
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "npd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	env := &testEnv{repo: repo}
	run := func(ctx context.Context) (*services.CycleResult, error) {
		env.runs++
		return env.runRes, env.runErr
	}
	if opts.AdminToken == "" {
		opts.AdminToken = testToken
	}
	registries := services.NewRegistryService(repo, decimal.NewFromInt(2400000), time.UTC)
	env.server = NewServer(":0", run, registries, repo, opts)
	t.Cleanup(func() { env.server.Shutdown(context.Background()) })
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, date string, total string) {
	t.Helper()
	amount := decimal.RequireFromString(total)
	reg := &core.Registry{
		Date:          date,
		Status:        core.StatusPending,
		TotalAmount:   amount,
		Commission:    decimal.RequireFromString("1.00"),
		PaymentsCount: 1,
		Payments: []core.Payment{{
			PaymentID:   date + "-1",
			Amount:      amount,
			Currency:    core.DefaultCurrency,
			PaymentTime: "10:00:00",
			Description: "Оплата",
			PaymentType: "Карта",
		}},
	}
	_, err := e.repo.UpsertRegistry(context.Background(), reg)
	require.NoError(t, err)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, env.repo.Close())
	rec = httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, Options{})

	body := decode(t, env.do(t, http.MethodGet, "/api/status", ""))
	assert.Nil(t, body["last_check"])
	assert.Contains(t, body["text"], "никогда")

	require.NoError(t, env.repo.BumpCounters(context.Background(), 3, 1))
	body = decode(t, env.do(t, http.MethodGet, "/api/status", ""))
	assert.NotNil(t, body["last_check"])
	assert.EqualValues(t, 3, body["deliveries_scanned"])
	assert.EqualValues(t, 1, body["files_ingested"])
}

func TestRun(t *testing.T) {
	env := newTestEnv(t, Options{TaxDescription: "Консультации"})
	env.runRes = &services.CycleResult{
		Registries: []*core.Registry{{
			Date:          "2026-01-15",
			TotalAmount:   decimal.RequireFromString("1234.56"),
			PaymentsCount: 2,
			Status:        core.StatusPending,
		}},
		DeliveriesScanned: 1,
		AttachmentsSeen:   1,
	}

	rec := env.do(t, http.MethodPost, "/api/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 1, env.runs)
	assert.Equal(t, "Обработано реестров: 1", body["text"])
	regs := body["registries"].([]any)
	require.Len(t, regs, 1)
	reg := regs[0].(map[string]any)
	assert.Equal(t, "1234.56", reg["total_amount"])
	assert.Contains(t, reg["tax_line"], "Консультации")
}

func TestRunNothingNew(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.runRes = &services.CycleResult{}

	body := decode(t, env.do(t, http.MethodPost, "/api/run", ""))
	assert.Equal(t, report.NoNewRegistries, body["text"])
	assert.Empty(t, body["registries"])
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result *services.CycleResult
		status int
	}{
		{
			name:   "source unavailable",
			err:    fmt.Errorf("%w: dial tcp: refused", services.ErrSourceUnavailable),
			status: http.StatusBadGateway,
		},
		{
			name:   "storage failure keeps partial result",
			err:    fmt.Errorf("%w: disk full", storage.ErrStorage),
			result: &services.CycleResult{DeliveriesScanned: 2, Failed: 1},
			status: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			env.runErr = tt.err
			env.runRes = tt.result

			rec := env.do(t, http.MethodPost, "/api/run", "")
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Contains(t, body["error"], tt.err.Error())
			assert.True(t, strings.HasPrefix(body["text"].(string), "Ошибка: "))
			if tt.result != nil {
				assert.EqualValues(t, tt.result.DeliveriesScanned, body["deliveries_scanned"])
			}
		})
	}
}

func TestRunIsRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RunsPerMinute: 2})
	env.runRes = &services.CycleResult{}

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/run", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/run", "").Code)
	rec := env.do(t, http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, env.runs)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/status", "").Code)
}

func TestHistoryAndPending(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seed(t, "2026-01-10", "10.00")
	env.seed(t, "2026-01-11", "20.00")
	env.seed(t, "2026-01-12", "30.00")

	body := decode(t, env.do(t, http.MethodGet, "/api/history?limit=2", ""))
	regs := body["registries"].([]any)
	require.Len(t, regs, 2)
	assert.Equal(t, "2026-01-12", regs[0].(map[string]any)["date"])

	body = decode(t, env.do(t, http.MethodGet, "/api/history", ""))
	assert.Len(t, body["registries"], 3)

	rec := env.do(t, http.MethodGet, "/api/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := env.repo.Confirm(context.Background(), "2026-01-11")
	require.NoError(t, err)
	body = decode(t, env.do(t, http.MethodGet, "/api/pending", ""))
	pending := body["registries"].([]any)
	require.Len(t, pending, 2)
	for _, p := range pending {
		assert.Equal(t, "pending", p.(map[string]any)["status"])
	}
}

func TestRegistryAndConfirm(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seed(t, "2026-01-15", "1234.56")

	rec := env.do(t, http.MethodGet, "/api/registries/2026-01-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "1234.56", body["total_amount"])
	assert.Len(t, body["payments"], 1)
	assert.Contains(t, body["tax_line"], "Доступ к IT-сервису")
	assert.Contains(t, body["text"], "Реестр от 2026-01-15")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/registries/2030-01-01", "").Code)

	body = decode(t, env.do(t, http.MethodPost, "/api/registries/2026-01-15/confirm", ""))
	assert.Equal(t, true, body["confirmed"])
	body = decode(t, env.do(t, http.MethodPost, "/api/registries/2026-01-15/confirm", ""))
	assert.Equal(t, false, body["confirmed"])

	body = decode(t, env.do(t, http.MethodGet, "/api/registries/2026-01-15", ""))
	assert.Equal(t, "confirmed", body["status"])
	assert.NotNil(t, body["confirmed_at"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/registries/2026%25/confirm", "").Code)
}

func TestStatsAreCachedUntilConfirm(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seed(t, "2026-01-15", "100.00")

	rec := env.do(t, http.MethodGet, "/api/stats/month?year=2026&month=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	body := decode(t, rec)
	assert.Equal(t, "100.00", body["income"])
	assert.EqualValues(t, 1, body["registries"])

	env.seed(t, "2026-01-16", "50.00")
	rec = env.do(t, http.MethodGet, "/api/stats/month?year=2026&month=1", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "100.00", decode(t, rec)["income"])

	env.do(t, http.MethodPost, "/api/registries/2026-01-15/confirm", "")
	rec = env.do(t, http.MethodGet, "/api/stats/month?year=2026&month=1", "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "150.00", decode(t, rec)["income"])
}

func TestStatsYearAndAll(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seed(t, "2026-01-15", "100.00")
	env.seed(t, "2025-12-31", "7.00")
	env.seed(t, core.UnknownDate, "3.00")

	body := decode(t, env.do(t, http.MethodGet, "/api/stats/year?year=2026", ""))
	assert.Equal(t, "100.00", body["income"])
	assert.Equal(t, "2400000.00", body["limit"])
	assert.Equal(t, "2399900.00", body["limit_remaining"])

	body = decode(t, env.do(t, http.MethodGet, "/api/stats/all", ""))
	assert.Equal(t, "110.00", body["income"])
	assert.EqualValues(t, 3, body["registries"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/stats/month?year=2026&month=13", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/stats/year?year=x", "").Code)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t, Options{})

	body := decode(t, env.do(t, http.MethodGet, "/api/settings/tax_description", ""))
	assert.Equal(t, false, body["set"])

	rec := env.do(t, http.MethodPut, "/api/settings/tax_description", `{"value":"  Консультации  "}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body = decode(t, env.do(t, http.MethodGet, "/api/settings/tax_description", ""))
	assert.Equal(t, true, body["set"])
	assert.Equal(t, "Консультации", body["value"])

	rec = env.do(t, http.MethodPut, "/api/settings/tax_description", "value=Уроки")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, env.do(t, http.MethodGet, "/api/settings/tax_description", ""))
	assert.Equal(t, "Уроки", body["value"])

	env.seed(t, "2026-01-15", "10.00")
	body = decode(t, env.do(t, http.MethodGet, "/api/registries/2026-01-15", ""))
	assert.Contains(t, body["tax_line"], "Уроки")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/settings/unknown", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/settings/unknown", `{"value":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/settings/tax_description", `{}`).Code)
}

func TestParseSettingValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("{\"value\":\"a\\u0007b\"}"))
	v, err := ParseSettingValue(req)
	require.NoError(t, err)
	assert.Equal(t, "ab", v)

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader("{bad"))
	_, err = ParseSettingValue(req)
	assert.True(t, errors.Is(err, errBadParam))
}
