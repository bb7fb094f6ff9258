// Package services provides the orchestration behind every operator
// surface: the ingestion cycle and the read/confirm side of the store.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"npdbot/internal/amqp"
	"npdbot/internal/core"
	"npdbot/internal/export"
	applog "npdbot/internal/log"
	"npdbot/internal/mail"
	"npdbot/internal/registry"
	"npdbot/internal/report"
	"npdbot/internal/storage"
)

// SettingTaxDescription overrides the configured tax description.
const SettingTaxDescription = "tax_description"

var (
	// ErrSourceUnavailable means the cycle could not look for deliveries.
	ErrSourceUnavailable = errors.New("delivery source unavailable")
)

type (
	// IngestStore is the part of the record store the cycle writes to.
	IngestStore interface {
		HasFingerprint(ctx context.Context, fp core.Fingerprint) (bool, error)
		IngestRegistry(ctx context.Context, fp core.Fingerprint, reg *core.Registry) (int64, bool, error)
		BumpCounters(ctx context.Context, deliveries, files int) error
		GetSetting(ctx context.Context, key string) (string, bool, error)
	}

	Exporter interface {
		Write(reg *core.Registry, description string) (export.Files, error)
	}

	// Publisher announces ingested registries. Nil disables publishing.
	Publisher interface {
		PublishRegistryIngested(ctx context.Context, msg *amqp.RegistryIngestedMessage) error
	}
)

// IngestConfig holds the cycle settings taken from the app config.
type IngestConfig struct {
	TaxDescription string
	Recipients     []int64
}

// CycleResult summarizes one ingestion cycle. Registries holds the newly
// stored registries in delivery order.
type CycleResult struct {
	ID                uuid.UUID
	Registries        []*core.Registry
	DeliveriesScanned int
	AttachmentsSeen   int
	Skipped           int
	Failed            int
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Report renders the outcome line shown to the operator.
func (r *CycleResult) Report(err error) string {
	n := 0
	if r != nil {
		n = len(r.Registries)
	}
	return report.Outcome(n, err)
}

// IngestService runs ingestion cycles. Concurrent cycles are safe: the
// fingerprint unique key decides which one stores a given attachment.
type IngestService struct {
	store     IngestStore
	parser    *registry.Parser
	exporter  Exporter
	publisher Publisher
	config    IngestConfig
	now       func() time.Time
}

func NewIngestService(store IngestStore, exporter Exporter, publisher Publisher, config IngestConfig) *IngestService {
	return &IngestService{
		store:     store,
		parser:    registry.NewParser(applog.ForComponent(applog.ComponentParser)),
		exporter:  exporter,
		publisher: publisher,
		config:    config,
		now:       time.Now,
	}
}

type attachmentOutcome int

const (
	outcomeIngested attachmentOutcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeStorageError
)

// RunCycle fetches deliveries from source and ingests every attachment
// not seen before. A source failure fails the cycle and leaves the
// counters untouched. Storage failures do not stop the cycle; they are
// reported through an error wrapping storage.ErrStorage alongside the
// partial result.
func (s *IngestService) RunCycle(ctx context.Context, source mail.Source) (*CycleResult, error) {
	res := &CycleResult{ID: uuid.New(), StartedAt: s.now()}
	logger := applog.FromContext(ctx).With(applog.FieldCycleID, res.ID.String())

	deliveries, err := source.Fetch(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to fetch deliveries", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	logger.InfoContext(ctx, "Ingestion cycle started", "deliveries", len(deliveries))

	description := s.taxDescription(ctx)
	var storageErrs []error

	for _, d := range deliveries {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("run cycle: %w", err)
		}
		res.DeliveriesScanned++
		for _, a := range d.Attachments {
			res.AttachmentsSeen++
			reg, outcome, err := s.ingestAttachment(ctx, logger, d, a, description, res.ID)
			switch outcome {
			case outcomeIngested:
				res.Registries = append(res.Registries, reg)
			case outcomeSkipped:
				res.Skipped++
			case outcomeFailed:
				res.Failed++
			case outcomeStorageError:
				res.Failed++
				storageErrs = append(storageErrs, err)
			}
		}
	}

	if err := s.store.BumpCounters(ctx, res.DeliveriesScanned, len(res.Registries)); err != nil {
		logger.ErrorContext(ctx, "Failed to update counters", "error", err)
		storageErrs = append(storageErrs, err)
	}
	res.FinishedAt = s.now()

	logger.InfoContext(ctx, "Ingestion cycle finished",
		"deliveries", res.DeliveriesScanned,
		"attachments", res.AttachmentsSeen,
		"registries", len(res.Registries),
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", res.FinishedAt.Sub(res.StartedAt).String())

	if len(storageErrs) > 0 {
		return res, fmt.Errorf("%w: %d operation(s) failed: %w", storage.ErrStorage, len(storageErrs), errors.Join(storageErrs...))
	}
	return res, nil
}

func (s *IngestService) ingestAttachment(ctx context.Context, logger *slog.Logger, d mail.Delivery, a mail.Attachment, description string, cycleID uuid.UUID) (*core.Registry, attachmentOutcome, error) {
	fp := core.Fingerprint{DeliveryID: d.ID, Filename: a.Filename, Hash: Hash(a.Content)}
	logger = logger.With(applog.NewFields().WithAttachment(fp.DeliveryID, fp.Filename, fp.Hash).ToSlice()...)

	seen, err := s.store.HasFingerprint(ctx, fp)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to check fingerprint", "error", err)
		return nil, outcomeStorageError, err
	}
	if seen {
		logger.DebugContext(ctx, "Attachment already ingested")
		return nil, outcomeSkipped, nil
	}

	text, err := registry.Decode(a.Content)
	if err != nil {
		logger.WarnContext(ctx, "Attachment is not readable text", "error", err)
		return nil, outcomeFailed, err
	}
	reg, err := s.parser.Parse(text)
	if err != nil {
		logger.WarnContext(ctx, "Attachment is not a registry", "error", err)
		return nil, outcomeFailed, err
	}

	if s.exporter != nil {
		files, err := s.exporter.Write(reg, description)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to export registry files", "date", reg.Date, "error", err)
		} else {
			reg.TaxFile, reg.PaymentsFile = files.TaxFile, files.PaymentsFile
		}
	}

	id, inserted, err := s.store.IngestRegistry(ctx, fp, reg)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to store registry", "date", reg.Date, "error", err)
		return nil, outcomeStorageError, err
	}
	if !inserted {
		return nil, outcomeSkipped, nil
	}
	reg.ID = id

	s.publish(ctx, logger, reg, description, cycleID)
	return reg, outcomeIngested, nil
}

func (s *IngestService) publish(ctx context.Context, logger *slog.Logger, reg *core.Registry, description string, cycleID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	msg := amqp.NewRegistryIngestedMessage(reg, description, report.Registry(reg, description), s.config.Recipients)
	msg.CycleID = cycleID.String()
	if err := s.publisher.PublishRegistryIngested(ctx, msg); err != nil {
		logger.WarnContext(ctx, "Failed to publish registry event",
			"date", reg.Date,
			applog.FieldMessageID, msg.MessageID,
			"error", err)
	}
}

// taxDescription prefers the stored setting over the configured value.
func (s *IngestService) taxDescription(ctx context.Context) string {
	value, ok, err := s.store.GetSetting(ctx, SettingTaxDescription)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read tax description setting", "error", err)
	}
	if ok && strings.TrimSpace(value) != "" {
		return value
	}
	if strings.TrimSpace(s.config.TaxDescription) != "" {
		return s.config.TaxDescription
	}
	return export.DefaultTaxDescription
}

// Hash is the hex SHA-256 of raw attachment bytes.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
