package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"npdbot/internal/core"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a registry or setting does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorage wraps every failure of the underlying database.
	ErrStorage = errors.New("storage failure")
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

// dsn enables foreign keys (payments cascade with their registry) and
// makes concurrent writers wait instead of failing with SQLITE_BUSY.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStorage, err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// HasFingerprint reports whether the attachment was already ingested.
func (r *SQLiteRepository) HasFingerprint(ctx context.Context, fp core.Fingerprint) (bool, error) {
	exists, err := r.queries.HasFingerprint(ctx, HasFingerprintParams(fp))
	if err != nil {
		return false, storageErr("check fingerprint", err)
	}
	return exists, nil
}

// RecordFingerprint stores fp. Recording an existing fingerprint is not an error.
func (r *SQLiteRepository) RecordFingerprint(ctx context.Context, fp core.Fingerprint) error {
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}
	if _, err := r.queries.InsertFingerprint(ctx, InsertFingerprintParams(fp)); err != nil {
		return storageErr("record fingerprint", err)
	}
	return nil
}

// UpsertRegistry inserts or replaces the registry for reg.Date and its
// payments. An existing row keeps its id and status.
func (r *SQLiteRepository) UpsertRegistry(ctx context.Context, reg *core.Registry) (int64, error) {
	var id int64
	err := r.withTx(ctx, func(q *Queries) error {
		var err error
		id, err = saveRegistry(ctx, q, reg)
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Registry saved to SQLite",
		"id", id,
		"date", reg.Date,
		"payments_count", reg.PaymentsCount,
		"total", core.FormatAmount(reg.TotalAmount))
	return id, nil
}

// IngestRegistry records fp and upserts reg in one transaction. When fp is
// already present nothing is written and inserted is false.
func (r *SQLiteRepository) IngestRegistry(ctx context.Context, fp core.Fingerprint, reg *core.Registry) (id int64, inserted bool, err error) {
	if err := fp.Validate(); err != nil {
		return 0, false, fmt.Errorf("ingest registry: %w", err)
	}
	err = r.withTx(ctx, func(q *Queries) error {
		n, err := q.InsertFingerprint(ctx, InsertFingerprintParams(fp))
		if err != nil {
			return storageErr("record fingerprint", err)
		}
		if n == 0 {
			return nil
		}
		inserted = true
		id, err = saveRegistry(ctx, q, reg)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	if !inserted {
		slog.InfoContext(ctx, "Fingerprint already recorded, skipping registry",
			"delivery_id", fp.DeliveryID,
			"filename", fp.Filename)
		return 0, false, nil
	}
	slog.InfoContext(ctx, "Registry ingested",
		"id", id,
		"date", reg.Date,
		"payments_count", reg.PaymentsCount,
		"total", core.FormatAmount(reg.TotalAmount))
	return id, true, nil
}

// saveRegistry writes reg and replaces its payments inside the caller's
// transaction. Amounts that do not fit kopecks exactly are rejected.
func saveRegistry(ctx context.Context, q *Queries, reg *core.Registry) (int64, error) {
	if reg == nil || reg.Date == "" {
		return 0, fmt.Errorf("upsert registry: %w", core.ErrEmptyDate)
	}
	total, err := core.ToMinor(reg.TotalAmount)
	if err != nil {
		return 0, fmt.Errorf("upsert registry %s: total: %w", reg.Date, err)
	}
	commission, err := core.ToMinor(reg.Commission)
	if err != nil {
		return 0, fmt.Errorf("upsert registry %s: commission: %w", reg.Date, err)
	}
	amounts := make([]int64, len(reg.Payments))
	for i, p := range reg.Payments {
		if amounts[i], err = core.ToMinor(p.Amount); err != nil {
			return 0, fmt.Errorf("upsert registry %s: payment %s: %w", reg.Date, p.PaymentID, err)
		}
	}
	id, err := q.UpsertRegistry(ctx, UpsertRegistryParams{
		Date:            reg.Date,
		TotalMinor:      total,
		CommissionMinor: commission,
		PaymentsCount:   int64(reg.PaymentsCount),
		TaxFile:         reg.TaxFile,
		PaymentsFile:    reg.PaymentsFile,
	})
	if err != nil {
		return 0, storageErr("upsert registry", err)
	}
	if err := q.DeletePayments(ctx, id); err != nil {
		return 0, storageErr("delete payments", err)
	}
	for i, p := range reg.Payments {
		if err := q.InsertPayment(ctx, InsertPaymentParams{
			RegistryID:  id,
			PaymentID:   p.PaymentID,
			AmountMinor: amounts[i],
			Currency:    p.Currency,
			PaymentTime: p.PaymentTime,
			Description: p.Description,
			PaymentType: p.PaymentType,
		}); err != nil {
			return 0, storageErr("insert payment", err)
		}
	}
	return id, nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// GetRegistry returns the registry for date with its payments.
func (r *SQLiteRepository) GetRegistry(ctx context.Context, date string) (*core.Registry, error) {
	row, err := r.queries.GetRegistryByDate(ctx, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registry %s: %w", date, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get registry", err)
	}

	payments, err := r.queries.ListPayments(ctx, row.ID)
	if err != nil {
		return nil, storageErr("list payments", err)
	}

	reg := toCoreRegistry(row)
	reg.Payments = make([]core.Payment, len(payments))
	for i, p := range payments {
		reg.Payments[i] = core.Payment{
			PaymentID:   p.PaymentID,
			Amount:      core.FromMinor(p.AmountMinor),
			Currency:    p.Currency,
			PaymentTime: p.PaymentTime,
			Description: p.Description,
			PaymentType: p.PaymentType,
		}
	}
	return reg, nil
}

// GetHistory returns up to limit registries, newest date first. Payments
// are not loaded.
func (r *SQLiteRepository) GetHistory(ctx context.Context, limit int) ([]*core.Registry, error) {
	if limit <= 0 {
		return []*core.Registry{}, nil
	}
	rows, err := r.queries.ListHistory(ctx, int64(limit))
	if err != nil {
		return nil, storageErr("list history", err)
	}
	return toCoreRegistries(rows), nil
}

// GetPending returns all unconfirmed registries, newest date first.
func (r *SQLiteRepository) GetPending(ctx context.Context) ([]*core.Registry, error) {
	rows, err := r.queries.ListPending(ctx)
	if err != nil {
		return nil, storageErr("list pending", err)
	}
	return toCoreRegistries(rows), nil
}

// Confirm marks the registry for date as declared. It reports whether a
// pending registry was changed; absent or already confirmed dates are a no-op.
func (r *SQLiteRepository) Confirm(ctx context.Context, date string) (bool, error) {
	n, err := r.queries.ConfirmRegistry(ctx, r.now(), date)
	if err != nil {
		return false, storageErr("confirm registry", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Registry confirmed", "date", date)
	}
	return n > 0, nil
}

// MonthSummary aggregates registries dated in the given month.
func (r *SQLiteRepository) MonthSummary(ctx context.Context, year, month int) (core.Summary, error) {
	t, err := r.queries.TotalsByPrefix(ctx, fmt.Sprintf("%04d-%02d-", year, month))
	if err != nil {
		return core.Summary{}, storageErr("month summary", err)
	}
	return toSummary(t), nil
}

// YearSummary aggregates registries dated in the given year.
func (r *SQLiteRepository) YearSummary(ctx context.Context, year int) (core.Summary, error) {
	t, err := r.queries.TotalsByPrefix(ctx, fmt.Sprintf("%04d-", year))
	if err != nil {
		return core.Summary{}, storageErr("year summary", err)
	}
	return toSummary(t), nil
}

// AllTimeSummary aggregates every registry, including undated ones.
func (r *SQLiteRepository) AllTimeSummary(ctx context.Context) (core.Summary, error) {
	t, err := r.queries.TotalsAll(ctx)
	if err != nil {
		return core.Summary{}, storageErr("all-time summary", err)
	}
	return toSummary(t), nil
}

// BumpCounters adds to the lifetime counters and stamps the check time.
func (r *SQLiteRepository) BumpCounters(ctx context.Context, deliveries, files int) error {
	err := r.queries.BumpCounters(ctx, BumpCountersParams{
		LastCheck:  r.now(),
		Deliveries: int64(deliveries),
		Files:      int64(files),
	})
	if err != nil {
		return storageErr("bump counters", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCounters(ctx context.Context) (core.Counters, error) {
	c, err := r.queries.GetCounters(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Counters{}, nil
	}
	if err != nil {
		return core.Counters{}, storageErr("get counters", err)
	}
	out := core.Counters{
		DeliveriesScanned: c.DeliveriesScanned,
		FilesIngested:     c.FilesIngested,
	}
	if c.LastCheck.Valid {
		t := c.LastCheck.Time
		out.LastCheck = &t
	}
	return out, nil
}

// GetSetting returns the value stored under key and whether it exists.
func (r *SQLiteRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	value, err := r.queries.GetSetting(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get setting", err)
	}
	return value, true, nil
}

func (r *SQLiteRepository) SetSetting(ctx context.Context, key, value string) error {
	if err := r.queries.SetSetting(ctx, key, value); err != nil {
		return storageErr("set setting", err)
	}
	slog.InfoContext(ctx, "Setting updated", "key", key)
	return nil
}

func toCoreRegistry(row Registry) *core.Registry {
	reg := &core.Registry{
		ID:            row.ID,
		Date:          row.Date,
		TotalAmount:   core.FromMinor(row.TotalMinor),
		Commission:    core.FromMinor(row.CommissionMinor),
		PaymentsCount: int(row.PaymentsCount),
		Status:        core.Status(row.Status),
		TaxFile:       row.TaxFile,
		PaymentsFile:  row.PaymentsFile,
		CreatedAt:     row.CreatedAt,
	}
	if row.ConfirmedAt.Valid {
		t := row.ConfirmedAt.Time
		reg.ConfirmedAt = &t
	}
	return reg
}

func toCoreRegistries(rows []Registry) []*core.Registry {
	out := make([]*core.Registry, len(rows))
	for i, row := range rows {
		out[i] = toCoreRegistry(row)
	}
	return out
}

func toSummary(t Totals) core.Summary {
	return core.Summary{
		Income:        core.FromMinor(t.IncomeMinor),
		Commission:    core.FromMinor(t.CommissionMinor),
		PaymentsCount: t.PaymentsCount,
		IncomeDays:    t.IncomeDays,
		Registries:    t.Registries,
	}
}
