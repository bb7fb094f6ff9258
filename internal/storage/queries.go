package storage

import (
	"context"
	"database/sql"
	"time"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Registry struct {
	ID              int64
	Date            string
	TotalMinor      int64
	CommissionMinor int64
	PaymentsCount   int64
	Status          string
	TaxFile         string
	PaymentsFile    string
	CreatedAt       time.Time
	ConfirmedAt     sql.NullTime
}

type Payment struct {
	ID          int64
	RegistryID  int64
	PaymentID   string
	AmountMinor int64
	Currency    string
	PaymentTime string
	Description string
	PaymentType string
}

type Counter struct {
	LastCheck         sql.NullTime
	DeliveriesScanned int64
	FilesIngested     int64
}

type Totals struct {
	IncomeMinor     int64
	CommissionMinor int64
	PaymentsCount   int64
	IncomeDays      int64
	Registries      int64
}

const hasFingerprint = `-- name: HasFingerprint :one
SELECT EXISTS (
    SELECT 1 FROM fingerprints WHERE delivery_id = ? AND filename = ? AND hash = ?
)
`

type HasFingerprintParams struct {
	DeliveryID string
	Filename   string
	Hash       string
}

func (q *Queries) HasFingerprint(ctx context.Context, arg HasFingerprintParams) (bool, error) {
	row := q.db.QueryRowContext(ctx, hasFingerprint, arg.DeliveryID, arg.Filename, arg.Hash)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const insertFingerprint = `-- name: InsertFingerprint :execrows
INSERT OR IGNORE INTO fingerprints (delivery_id, filename, hash) VALUES (?, ?, ?)
`

type InsertFingerprintParams struct {
	DeliveryID string
	Filename   string
	Hash       string
}

func (q *Queries) InsertFingerprint(ctx context.Context, arg InsertFingerprintParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertFingerprint, arg.DeliveryID, arg.Filename, arg.Hash)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const upsertRegistry = `-- name: UpsertRegistry :one
INSERT INTO registries (
    date, total_minor, commission_minor, payments_count, status, tax_file, payments_file
) VALUES (?, ?, ?, ?, 'pending', ?, ?)
ON CONFLICT (date) DO UPDATE SET
    total_minor      = excluded.total_minor,
    commission_minor = excluded.commission_minor,
    payments_count   = excluded.payments_count,
    tax_file         = excluded.tax_file,
    payments_file    = excluded.payments_file,
    updated_at       = CURRENT_TIMESTAMP
RETURNING id
`

type UpsertRegistryParams struct {
	Date            string
	TotalMinor      int64
	CommissionMinor int64
	PaymentsCount   int64
	TaxFile         string
	PaymentsFile    string
}

func (q *Queries) UpsertRegistry(ctx context.Context, arg UpsertRegistryParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertRegistry,
		arg.Date,
		arg.TotalMinor,
		arg.CommissionMinor,
		arg.PaymentsCount,
		arg.TaxFile,
		arg.PaymentsFile,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const deletePayments = `-- name: DeletePayments :exec
DELETE FROM payments WHERE registry_id = ?
`

func (q *Queries) DeletePayments(ctx context.Context, registryID int64) error {
	_, err := q.db.ExecContext(ctx, deletePayments, registryID)
	return err
}

const insertPayment = `-- name: InsertPayment :exec
INSERT INTO payments (
    registry_id, payment_id, amount_minor, currency, payment_time, description, payment_type
) VALUES (?, ?, ?, ?, ?, ?, ?)
`

type InsertPaymentParams struct {
	RegistryID  int64
	PaymentID   string
	AmountMinor int64
	Currency    string
	PaymentTime string
	Description string
	PaymentType string
}

func (q *Queries) InsertPayment(ctx context.Context, arg InsertPaymentParams) error {
	_, err := q.db.ExecContext(ctx, insertPayment,
		arg.RegistryID,
		arg.PaymentID,
		arg.AmountMinor,
		arg.Currency,
		arg.PaymentTime,
		arg.Description,
		arg.PaymentType,
	)
	return err
}

const registryColumns = `id, date, total_minor, commission_minor, payments_count, status,
    tax_file, payments_file, created_at, confirmed_at`

func scanRegistry(scanner interface{ Scan(...any) error }) (Registry, error) {
	var i Registry
	err := scanner.Scan(
		&i.ID,
		&i.Date,
		&i.TotalMinor,
		&i.CommissionMinor,
		&i.PaymentsCount,
		&i.Status,
		&i.TaxFile,
		&i.PaymentsFile,
		&i.CreatedAt,
		&i.ConfirmedAt,
	)
	return i, err
}

func (q *Queries) listRegistries(ctx context.Context, query string, args ...interface{}) ([]Registry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Registry
	for rows.Next() {
		i, err := scanRegistry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getRegistryByDate = `-- name: GetRegistryByDate :one
SELECT ` + registryColumns + `
FROM registries WHERE date = ?
`

func (q *Queries) GetRegistryByDate(ctx context.Context, date string) (Registry, error) {
	return scanRegistry(q.db.QueryRowContext(ctx, getRegistryByDate, date))
}

const listHistory = `-- name: ListHistory :many
SELECT ` + registryColumns + `
FROM registries ORDER BY date DESC LIMIT ?
`

func (q *Queries) ListHistory(ctx context.Context, limit int64) ([]Registry, error) {
	return q.listRegistries(ctx, listHistory, limit)
}

const listPending = `-- name: ListPending :many
SELECT ` + registryColumns + `
FROM registries WHERE status = 'pending' ORDER BY date DESC
`

func (q *Queries) ListPending(ctx context.Context) ([]Registry, error) {
	return q.listRegistries(ctx, listPending)
}

const listPayments = `-- name: ListPayments :many
SELECT id, registry_id, payment_id, amount_minor, currency, payment_time, description, payment_type
FROM payments WHERE registry_id = ? ORDER BY id
`

func (q *Queries) ListPayments(ctx context.Context, registryID int64) ([]Payment, error) {
	rows, err := q.db.QueryContext(ctx, listPayments, registryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		var i Payment
		if err := rows.Scan(
			&i.ID,
			&i.RegistryID,
			&i.PaymentID,
			&i.AmountMinor,
			&i.Currency,
			&i.PaymentTime,
			&i.Description,
			&i.PaymentType,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const confirmRegistry = `-- name: ConfirmRegistry :execrows
UPDATE registries
SET status = 'confirmed', confirmed_at = ?, updated_at = CURRENT_TIMESTAMP
WHERE date = ? AND status = 'pending'
`

func (q *Queries) ConfirmRegistry(ctx context.Context, confirmedAt time.Time, date string) (int64, error) {
	result, err := q.db.ExecContext(ctx, confirmRegistry, confirmedAt, date)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Totals queries aggregate registries only; payments are never summed.
const totalsColumns = `COALESCE(SUM(total_minor), 0),
    COALESCE(SUM(commission_minor), 0),
    COALESCE(SUM(payments_count), 0),
    COUNT(CASE WHEN total_minor > 0 THEN 1 END),
    COUNT(*)`

const totalsByPrefix = `-- name: TotalsByPrefix :one
SELECT ` + totalsColumns + `
FROM registries WHERE date LIKE ? || '%'
`

func (q *Queries) TotalsByPrefix(ctx context.Context, prefix string) (Totals, error) {
	return scanTotals(q.db.QueryRowContext(ctx, totalsByPrefix, prefix))
}

const totalsAll = `-- name: TotalsAll :one
SELECT ` + totalsColumns + `
FROM registries
`

func (q *Queries) TotalsAll(ctx context.Context) (Totals, error) {
	return scanTotals(q.db.QueryRowContext(ctx, totalsAll))
}

func scanTotals(row *sql.Row) (Totals, error) {
	var i Totals
	err := row.Scan(
		&i.IncomeMinor,
		&i.CommissionMinor,
		&i.PaymentsCount,
		&i.IncomeDays,
		&i.Registries,
	)
	return i, err
}

const bumpCounters = `-- name: BumpCounters :exec
UPDATE counters
SET last_check = ?,
    deliveries_scanned = deliveries_scanned + ?,
    files_ingested = files_ingested + ?
WHERE id = 1
`

type BumpCountersParams struct {
	LastCheck  time.Time
	Deliveries int64
	Files      int64
}

func (q *Queries) BumpCounters(ctx context.Context, arg BumpCountersParams) error {
	_, err := q.db.ExecContext(ctx, bumpCounters, arg.LastCheck, arg.Deliveries, arg.Files)
	return err
}

const getCounters = `-- name: GetCounters :one
SELECT last_check, deliveries_scanned, files_ingested FROM counters WHERE id = 1
`

func (q *Queries) GetCounters(ctx context.Context) (Counter, error) {
	row := q.db.QueryRowContext(ctx, getCounters)
	var i Counter
	err := row.Scan(&i.LastCheck, &i.DeliveriesScanned, &i.FilesIngested)
	return i, err
}

const getSetting = `-- name: GetSetting :one
SELECT value FROM settings WHERE key = ?
`

func (q *Queries) GetSetting(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRowContext(ctx, getSetting, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

const setSetting = `-- name: SetSetting :exec
INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
`

func (q *Queries) SetSetting(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, setSetting, key, value)
	return err
}
