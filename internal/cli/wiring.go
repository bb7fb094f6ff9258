package cli

import (
	"log/slog"

	"npdbot/internal/amqp"
	"npdbot/internal/config"
	"npdbot/internal/export"
	"npdbot/internal/mail"
	"npdbot/internal/mail/imap"
	"npdbot/internal/services"
	"npdbot/internal/storage"
)

// NewSource returns the spool directory source when SPOOL_DIR is set and
// the IMAP mailbox otherwise.
func NewSource(cfg *config.Config) mail.Source {
	if cfg.UsesSpool() {
		return mail.NewDirSource(cfg.SpoolDir, cfg.AllowedExtensions)
	}
	return imap.NewSource(imap.Config{
		Host:          cfg.IMAPHost,
		Port:          cfg.IMAPPort,
		User:          cfg.IMAPUser,
		Password:      cfg.IMAPPassword,
		FromFilter:    cfg.EmailFromFilter,
		SubjectFilter: cfg.EmailSubjectFilter,
		DaysToCheck:   cfg.DaysToCheck,
		Extensions:    cfg.AllowedExtensions,
	})
}

// InitPublisher connects to the broker when AMQP_URL is set. A nil client
// means registries are stored without being announced.
func InitPublisher(logger *slog.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, registry events will not be published")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// NewIngestService wires the cycle to the record store, the export
// directory and the optional publisher.
func NewIngestService(cfg *config.Config, repo *storage.SQLiteRepository, publisher *amqp.Client) *services.IngestService {
	var pub services.Publisher
	if publisher != nil {
		pub = publisher
	}
	return services.NewIngestService(repo, export.NewWriter(cfg.ExportDir), pub, services.IngestConfig{
		TaxDescription: cfg.TaxDescription,
		Recipients:     cfg.AdminIDs,
	})
}

// NewRegistryService wires the operator queries to the record store.
func NewRegistryService(cfg *config.Config, repo *storage.SQLiteRepository) *services.RegistryService {
	return services.NewRegistryService(repo, cfg.NPDAnnualLimit, cfg.Location())
}
