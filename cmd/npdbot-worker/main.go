package main

import (
	"context"
	"errors"
	"os"
	"time"

	"npdbot/internal/amqp"
	"npdbot/internal/backend"
	"npdbot/internal/cli"
	applog "npdbot/internal/log"
	"npdbot/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting npdbot-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the ledger worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid ledger backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize ledger backend", "error", err, "backend", backendCfg.Type)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Ledger backend cleanup failed", "error", err)
			}
		}()
	}

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ledgerWorker := worker.NewLedgerWorker(result.Ledger, repo, cfg.TaxDescription)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Catch up on registries whose messages were lost while the worker was down.
	appended, err := ledgerWorker.Backfill(ctx, worker.DefaultBackfillLimit)
	if err != nil {
		logger.Error("Startup backfill failed", "error", err)
	} else {
		logger.Info("Startup backfill finished", "appended", appended)
	}

	err = consumer.ConsumeRegistryIngested(ctx, ledgerWorker.HandleRegistryIngested)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}
	<-done
	logger.Info("npdbot-worker stopped")
}
