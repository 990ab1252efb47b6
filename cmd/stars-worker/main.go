package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"stars/internal/amqp"
	"stars/internal/backend"
	"stars/internal/cli"
	"stars/internal/log"
	"stars/internal/sheets"
	gsheet "stars/internal/sheets/google"
	"stars/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting stars-worker", log.FieldOperation, log.OpStartup)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldOperation, log.OpValidate, log.FieldError, err)
		os.Exit(1)
	}
	if !backendCfg.Type.Durable() {
		logger.Error("The export worker needs a durable backend", "backend", cfg.DataBackend)
		os.Exit(1)
	}
	// The worker consumes; publishing stays with the server's relay.
	backendCfg.AMQPURL = ""

	res, err := backend.NewFactory(nil).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	var writer sheets.LedgerWriter
	if cfg.SheetsConfigured() {
		client, err := gsheet.NewFromConfig(ctx, cfg)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = sheets.NewRecorder()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, recording exports in memory")
	}

	exporter := worker.NewExportWorker(res.Backend, res.Backend, writer, cfg.ExportBatchSize)

	// Catch up on anything missed while the worker was down.
	logger.Info("Performing startup export check...")
	if err := exporter.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup export check", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return exporter.Run(gctx, cfg.ExportInterval)
	})

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()

		g.Go(func() error {
			err := client.ConsumeLedgerExports(gctx, exporter.HandleExportMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Skipping AMQP message consumption - relying on the periodic sweep", "interval", cfg.ExportInterval)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown)
}
