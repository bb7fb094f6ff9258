package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"npdbot/internal/core"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

var (
	ErrInvalidPeriod  = errors.New("invalid period")
	ErrInvalidDate    = errors.New("invalid registry date")
	ErrUnknownSetting = errors.New("unknown setting")
)

// KnownSettings are the keys operators may change at runtime.
var KnownSettings = []string{SettingTaxDescription}

// RegistryStore is the read and confirm side of the record store.
type RegistryStore interface {
	GetRegistry(ctx context.Context, date string) (*core.Registry, error)
	GetHistory(ctx context.Context, limit int) ([]*core.Registry, error)
	GetPending(ctx context.Context) ([]*core.Registry, error)
	Confirm(ctx context.Context, date string) (bool, error)
	MonthSummary(ctx context.Context, year, month int) (core.Summary, error)
	YearSummary(ctx context.Context, year int) (core.Summary, error)
	AllTimeSummary(ctx context.Context) (core.Summary, error)
	GetCounters(ctx context.Context) (core.Counters, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// RegistryService answers operator queries and records confirmations.
type RegistryService struct {
	store       RegistryStore
	annualLimit decimal.Decimal
	loc         *time.Location
	now         func() time.Time
}

func NewRegistryService(store RegistryStore, annualLimit decimal.Decimal, loc *time.Location) *RegistryService {
	if loc == nil {
		loc = time.UTC
	}
	return &RegistryService{
		store:       store,
		annualLimit: annualLimit,
		loc:         loc,
		now:         time.Now,
	}
}

// Location is the zone used for "current" periods.
func (s *RegistryService) Location() *time.Location {
	return s.loc
}

// Today returns the current year and month in the service time zone.
func (s *RegistryService) Today() (year, month int) {
	now := s.now().In(s.loc)
	return now.Year(), int(now.Month())
}

// History returns the newest registries first. limit <= 0 uses the
// default; larger values are capped.
func (s *RegistryService) History(ctx context.Context, limit int) ([]*core.Registry, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	regs, err := s.store.GetHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return regs, nil
}

func (s *RegistryService) Pending(ctx context.Context) ([]*core.Registry, error) {
	regs, err := s.store.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return regs, nil
}

// Registry returns one registry with its payments. Absence is reported
// through storage.ErrNotFound.
func (s *RegistryService) Registry(ctx context.Context, date string) (*core.Registry, error) {
	date, err := cleanDate(date)
	if err != nil {
		return nil, err
	}
	reg, err := s.store.GetRegistry(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("get registry %s: %w", date, err)
	}
	return reg, nil
}

// Confirm marks the registry income as declared. It reports false when
// the registry is absent or already confirmed.
func (s *RegistryService) Confirm(ctx context.Context, date string) (bool, error) {
	date, err := cleanDate(date)
	if err != nil {
		return false, err
	}
	changed, err := s.store.Confirm(ctx, date)
	if err != nil {
		return false, fmt.Errorf("confirm registry %s: %w", date, err)
	}
	return changed, nil
}

func (s *RegistryService) Month(ctx context.Context, year, month int) (core.MonthSummary, error) {
	if month < 1 || month > 12 || year < 1 || year > 9999 {
		return core.MonthSummary{}, fmt.Errorf("%w: %d-%d", ErrInvalidPeriod, year, month)
	}
	sum, err := s.store.MonthSummary(ctx, year, month)
	if err != nil {
		return core.MonthSummary{}, fmt.Errorf("month summary: %w", err)
	}
	return core.MonthSummary{Year: year, Month: month, Summary: sum}, nil
}

// Year returns the yearly rollup with the room left under the annual
// income limit.
func (s *RegistryService) Year(ctx context.Context, year int) (core.YearSummary, error) {
	if year < 1 || year > 9999 {
		return core.YearSummary{}, fmt.Errorf("%w: %d", ErrInvalidPeriod, year)
	}
	sum, err := s.store.YearSummary(ctx, year)
	if err != nil {
		return core.YearSummary{}, fmt.Errorf("year summary: %w", err)
	}
	return core.YearSummary{
		Year:           year,
		Limit:          s.annualLimit,
		LimitRemaining: core.RemainingLimit(s.annualLimit, sum.Income),
		Summary:        sum,
	}, nil
}

func (s *RegistryService) AllTime(ctx context.Context) (core.Summary, error) {
	sum, err := s.store.AllTimeSummary(ctx)
	if err != nil {
		return core.Summary{}, fmt.Errorf("all-time summary: %w", err)
	}
	return sum, nil
}

func (s *RegistryService) Counters(ctx context.Context) (core.Counters, error) {
	c, err := s.store.GetCounters(ctx)
	if err != nil {
		return core.Counters{}, fmt.Errorf("get counters: %w", err)
	}
	return c, nil
}

// Setting returns the stored value of key and whether it was set.
func (s *RegistryService) Setting(ctx context.Context, key string) (string, bool, error) {
	if !knownSetting(key) {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	value, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, ok, nil
}

func (s *RegistryService) SetSetting(ctx context.Context, key, value string) error {
	if !knownSetting(key) {
		return fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	if err := s.store.SetSetting(ctx, key, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func knownSetting(key string) bool {
	for _, k := range KnownSettings {
		if k == key {
			return true
		}
	}
	return false
}

func cleanDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" || strings.ContainsAny(date, "%_") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return date, nil
}
