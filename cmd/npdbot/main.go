package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"npdbot/internal/cli"
	apphttp "npdbot/internal/http"
	applog "npdbot/internal/log"
	"npdbot/internal/scheduler"
	"npdbot/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	logger.Info("Starting npdbot")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	publisher := cli.InitPublisher(logger, cfg)
	if publisher != nil {
		defer publisher.Close()
	}

	source := cli.NewSource(cfg)
	ingest := cli.NewIngestService(cfg, repo, publisher)
	registries := cli.NewRegistryService(cfg, repo)

	daily, err := scheduler.NewDaily(scheduler.Config{
		Hour:       cfg.DailyHour,
		Minute:     cfg.DailyMinute,
		Location:   cfg.Location(),
		RetryDelay: cfg.RetryDelay,
	})
	if err != nil {
		logger.Error("Failed to configure scheduler", "error", err)
		os.Exit(1)
	}

	var srv *apphttp.Server
	run := func(ctx context.Context) (*services.CycleResult, error) {
		res, err := ingest.RunCycle(ctx, source)
		if srv != nil {
			srv.InvalidateSummaries()
		}
		return res, err
	}

	srv = apphttp.NewServer(cfg.HTTPAddr, run, registries, repo, apphttp.Options{
		AdminToken:     cfg.AdminToken,
		TaxDescription: cfg.TaxDescription,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 2 * time.Minute
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is empty, the operator API rejects every request")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := daily.Run(gctx, func(ctx context.Context) error {
			res, err := run(ctx)
			if res != nil {
				logger.InfoContext(ctx, "Scheduled check finished",
					applog.FieldCycleID, res.ID.String(),
					"registries", len(res.Registries),
					"deliveries", res.DeliveriesScanned,
					"skipped", res.Skipped,
					"failed", res.Failed)
			}
			return err
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks ListenAndServe when the scheduler exits on its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("npdbot stopped with error", "error", err)
		os.Exit(1)
	}
	<-done
	logger.Info("npdbot stopped")
}
