package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

const (
	// UnknownDate marks a registry whose payment date label was not found.
	UnknownDate = "unknown"

	// DefaultCurrency is used when a payment row carries no currency.
	DefaultCurrency = "RUB"
)

type (
	Status string

	Payment struct {
		PaymentID   string
		Amount      decimal.Decimal
		Currency    string
		PaymentTime string // as given by the source, no time zone normalization
		Description string
		PaymentType string
	}

	// Registry is one date's payment batch. Date is the business key.
	Registry struct {
		ID            int64
		Date          string
		TotalAmount   decimal.Decimal
		Commission    decimal.Decimal // informational, never subtracted from TotalAmount
		PaymentsCount int
		Status        Status
		TaxFile       string
		PaymentsFile  string
		Payments      []Payment
		CreatedAt     time.Time
		ConfirmedAt   *time.Time
	}

	// Fingerprint identifies one ingestible attachment.
	Fingerprint struct {
		DeliveryID string
		Filename   string
		Hash       string
	}

	Counters struct {
		LastCheck         *time.Time
		DeliveriesScanned int64
		FilesIngested     int64
	}
)

var (
	ErrEmptyDate        = errors.New("empty registry date")
	ErrCountMismatch    = errors.New("payments count does not match payments")
	ErrTotalMismatch    = errors.New("total amount does not match payments")
	ErrEmptyFingerprint = errors.New("incomplete fingerprint")
	ErrInvalidStatus    = errors.New("invalid registry status")
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed:
		return true
	default:
		return false
	}
}

// Confirmed reports whether the registry income was declared.
func (r Registry) Confirmed() bool {
	return r.Status == StatusConfirmed
}

// HasKnownDate reports whether the payment date was found in the source.
func (r Registry) HasKnownDate() bool {
	return r.Date != "" && r.Date != UnknownDate
}

// Validate checks the aggregate invariants of a freshly parsed registry.
// Registries loaded as summaries (without payments) are not validated.
func (r Registry) Validate() error {
	if strings.TrimSpace(r.Date) == "" {
		return ErrEmptyDate
	}
	if r.Status != "" && !r.Status.Valid() {
		return ErrInvalidStatus
	}
	if r.PaymentsCount != len(r.Payments) {
		return ErrCountMismatch
	}
	sum := decimal.Zero
	for _, p := range r.Payments {
		sum = sum.Add(p.Amount)
	}
	if !sum.Equal(r.TotalAmount) {
		return ErrTotalMismatch
	}
	return nil
}

func (f Fingerprint) Validate() error {
	if f.DeliveryID == "" || f.Filename == "" || f.Hash == "" {
		return ErrEmptyFingerprint
	}
	return nil
}

// Checked reports whether an ingestion cycle ever completed.
func (c Counters) Checked() bool {
	return c.LastCheck != nil && !c.LastCheck.IsZero()
}
