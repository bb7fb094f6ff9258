package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"npdbot/internal/core"
	"npdbot/internal/export"
	applog "npdbot/internal/log"
	"npdbot/internal/report"
	"npdbot/internal/services"
	"npdbot/internal/storage"
)

type registryDTO struct {
	ID            int64        `json:"id"`
	Date          string       `json:"date"`
	TotalAmount   string       `json:"total_amount"`
	Commission    string       `json:"commission"`
	PaymentsCount int          `json:"payments_count"`
	Status        string       `json:"status"`
	TaxFile       string       `json:"tax_file,omitempty"`
	PaymentsFile  string       `json:"payments_file,omitempty"`
	ConfirmedAt   *time.Time   `json:"confirmed_at,omitempty"`
	TaxLine       string       `json:"tax_line,omitempty"`
	Payments      []paymentDTO `json:"payments,omitempty"`
}

type paymentDTO struct {
	PaymentID   string `json:"payment_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PaymentTime string `json:"time"`
	Description string `json:"description"`
	PaymentType string `json:"type"`
}

type summaryDTO struct {
	Year           int    `json:"year,omitempty"`
	Month          int    `json:"month,omitempty"`
	Income         string `json:"income"`
	Commission     string `json:"commission"`
	PaymentsCount  int64  `json:"payments_count"`
	IncomeDays     int64  `json:"income_days"`
	Registries     int64  `json:"registries"`
	Limit          string `json:"limit,omitempty"`
	LimitRemaining string `json:"limit_remaining,omitempty"`
	Text           string `json:"text"`
}

func toRegistryDTO(reg *core.Registry, description string) registryDTO {
	dto := registryDTO{
		ID:            reg.ID,
		Date:          reg.Date,
		TotalAmount:   core.FormatAmount(reg.TotalAmount),
		Commission:    core.FormatAmount(reg.Commission),
		PaymentsCount: reg.PaymentsCount,
		Status:        string(reg.Status),
		TaxFile:       reg.TaxFile,
		PaymentsFile:  reg.PaymentsFile,
		ConfirmedAt:   reg.ConfirmedAt,
	}
	if description != "" {
		dto.TaxLine = report.TaxLine(reg, description)
	}
	for _, p := range reg.Payments {
		dto.Payments = append(dto.Payments, paymentDTO{
			PaymentID:   p.PaymentID,
			Amount:      core.FormatAmount(p.Amount),
			Currency:    p.Currency,
			PaymentTime: p.PaymentTime,
			Description: p.Description,
			PaymentType: p.PaymentType,
		})
	}
	return dto
}

func toRegistryDTOs(regs []*core.Registry) []registryDTO {
	out := make([]registryDTO, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toRegistryDTO(reg, ""))
	}
	return out
}

func toSummaryDTO(s core.Summary, text string) summaryDTO {
	return summaryDTO{
		Income:        core.FormatAmount(s.Income),
		Commission:    core.FormatAmount(s.Commission),
		PaymentsCount: s.PaymentsCount,
		IncomeDays:    s.IncomeDays,
		Registries:    s.Registries,
		Text:          text,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(ctx, "Readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("storage unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type runResponse struct {
	CycleID           string        `json:"cycle_id,omitempty"`
	Registries        []registryDTO `json:"registries"`
	DeliveriesScanned int           `json:"deliveries_scanned"`
	AttachmentsSeen   int           `json:"attachments_seen"`
	Skipped           int           `json:"skipped"`
	Failed            int           `json:"failed"`
	Reports           []string      `json:"reports,omitempty"`
	Text              string        `json:"text"`
	Error             string        `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)
	if s.run == nil {
		ErrorResponse(http.StatusServiceUnavailable, "ingestion is not configured").Write(w)
		return
	}

	logger.InfoContext(ctx, "Manual ingestion requested")
	res, err := s.run(ctx)
	s.InvalidateSummaries()

	description := s.currentTaxDescription(ctx)
	resp := runResponse{Registries: []registryDTO{}, Text: res.Report(err)}
	if res != nil {
		resp.CycleID = res.ID.String()
		resp.DeliveriesScanned = res.DeliveriesScanned
		resp.AttachmentsSeen = res.AttachmentsSeen
		resp.Skipped = res.Skipped
		resp.Failed = res.Failed
		for _, reg := range res.Registries {
			resp.Registries = append(resp.Registries, toRegistryDTO(reg, description))
			resp.Reports = append(resp.Reports, report.Registry(reg, description))
		}
	}

	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
		if errors.Is(err, services.ErrSourceUnavailable) {
			status = http.StatusBadGateway
		}
		logger.ErrorContext(ctx, "Manual ingestion failed", "error", err)
	}
	NewResponse().Status(status).JSON(resp).Write(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	c, err := s.registries.Counters(r.Context())
	if err != nil {
		s.internalError(w, r, "Failed to read counters", err)
		return
	}
	var last *time.Time
	if c.Checked() {
		last = c.LastCheck
	}
	NewResponse().JSON(struct {
		LastCheck         *time.Time `json:"last_check"`
		DeliveriesScanned int64      `json:"deliveries_scanned"`
		FilesIngested     int64      `json:"files_ingested"`
		Text              string     `json:"text"`
	}{
		LastCheck:         last,
		DeliveriesScanned: c.DeliveriesScanned,
		FilesIngested:     c.FilesIngested,
		Text:              report.Status(c, s.registries.Location()),
	}).Write(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", services.DefaultHistoryLimit)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	regs, err := s.registries.History(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "Failed to read history", err)
		return
	}
	NewResponse().JSON(struct {
		Registries []registryDTO `json:"registries"`
		Text       string        `json:"text"`
	}{toRegistryDTOs(regs), report.History(regs)}).Write(w)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	regs, err := s.registries.Pending(r.Context())
	if err != nil {
		s.internalError(w, r, "Failed to read pending registries", err)
		return
	}
	NewResponse().JSON(struct {
		Registries []registryDTO `json:"registries"`
		Text       string        `json:"text"`
	}{toRegistryDTOs(regs), report.History(regs)}).Write(w)
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reg, err := s.registries.Registry(ctx, r.PathValue("date"))
	switch {
	case errors.Is(err, services.ErrInvalidDate):
		BadRequestError(err.Error()).Write(w)
		return
	case errors.Is(err, storage.ErrNotFound):
		NotFoundError("registry not found").Write(w)
		return
	case err != nil:
		s.internalError(w, r, "Failed to read registry", err)
		return
	}
	description := s.currentTaxDescription(ctx)
	NewResponse().JSON(struct {
		registryDTO
		Text string `json:"text"`
	}{toRegistryDTO(reg, description), report.Registry(reg, description)}).Write(w)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	changed, err := s.registries.Confirm(r.Context(), date)
	if errors.Is(err, services.ErrInvalidDate) {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err != nil {
		s.internalError(w, r, "Failed to confirm registry", err)
		return
	}
	if changed {
		s.InvalidateSummaries()
		applog.FromContext(r.Context()).InfoContext(r.Context(), "Registry confirmed", "date", date)
	}
	NewResponse().JSON(struct {
		Date      string `json:"date"`
		Confirmed bool   `json:"confirmed"`
	}{strings.TrimSpace(date), changed}).Write(w)
}

func (s *Server) handleMonthStats(w http.ResponseWriter, r *http.Request) {
	year, month := s.registries.Today()
	params, err := ParseMonthParams(r.URL.Query(), year, month)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	key := "month:" + strconv.Itoa(params.Year) + "-" + strconv.Itoa(params.Month)
	s.cachedSummary(w, r, key, func(ctx context.Context) (any, error) {
		m, err := s.registries.Month(ctx, params.Year, params.Month)
		if err != nil {
			return nil, err
		}
		dto := toSummaryDTO(m.Summary, report.Month(m))
		dto.Year, dto.Month = m.Year, m.Month
		return dto, nil
	})
}

func (s *Server) handleYearStats(w http.ResponseWriter, r *http.Request) {
	year, _ := s.registries.Today()
	year, err := intParam(r.URL.Query(), "year", year)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.cachedSummary(w, r, "year:"+strconv.Itoa(year), func(ctx context.Context) (any, error) {
		y, err := s.registries.Year(ctx, year)
		if err != nil {
			return nil, err
		}
		dto := toSummaryDTO(y.Summary, report.Year(y))
		dto.Year = y.Year
		dto.Limit = core.FormatAmount(y.Limit)
		dto.LimitRemaining = core.FormatAmount(y.LimitRemaining)
		return dto, nil
	})
}

func (s *Server) handleAllStats(w http.ResponseWriter, r *http.Request) {
	s.cachedSummary(w, r, "all", func(ctx context.Context) (any, error) {
		sum, err := s.registries.AllTime(ctx)
		if err != nil {
			return nil, err
		}
		return toSummaryDTO(sum, report.AllTime(sum)), nil
	})
}

// cachedSummary serves key from the summary cache, computing and storing
// it on a miss. Failures are not cached.
func (s *Server) cachedSummary(w http.ResponseWriter, r *http.Request, key string, compute func(ctx context.Context) (any, error)) {
	if payload, ok := s.summaryCache.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSONBytes(w, http.StatusOK, payload)
		return
	}

	v, err := compute(r.Context())
	if errors.Is(err, services.ErrInvalidPeriod) {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err != nil {
		s.internalError(w, r, "Failed to compute summary", err)
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.internalError(w, r, "Failed to encode summary", err)
		return
	}
	s.summaryCache.Set(key, payload)
	w.Header().Set("X-Cache", "MISS")
	writeJSONBytes(w, http.StatusOK, payload)
}

type settingDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Set   bool   `json:"set"`
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok, err := s.registries.Setting(r.Context(), key)
	if errors.Is(err, services.ErrUnknownSetting) {
		NotFoundError(err.Error()).Write(w)
		return
	}
	if err != nil {
		s.internalError(w, r, "Failed to read setting", err)
		return
	}
	NewResponse().JSON(settingDTO{Key: key, Value: value, Set: ok}).Write(w)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := ParseSettingValue(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	err = s.registries.SetSetting(r.Context(), key, value)
	if errors.Is(err, services.ErrUnknownSetting) {
		NotFoundError(err.Error()).Write(w)
		return
	}
	if err != nil {
		s.internalError(w, r, "Failed to save setting", err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Setting updated", "key", key)
	NewResponse().JSON(settingDTO{Key: key, Value: value, Set: true}).Write(w)
}

// currentTaxDescription mirrors the ingestion rule: the stored setting
// wins over the configured value.
func (s *Server) currentTaxDescription(ctx context.Context) string {
	if value, ok, err := s.registries.Setting(ctx, services.SettingTaxDescription); err == nil && ok && value != "" {
		return value
	}
	if s.taxDescription != "" {
		return s.taxDescription
	}
	return export.DefaultTaxDescription
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	applog.FromContext(r.Context()).ErrorContext(r.Context(), msg, "error", err)
	InternalServerError("internal error").Write(w)
}
