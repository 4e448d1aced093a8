package main

import (
	"context"
	"errors"
	"os"
	"time"

	"cashbook/internal/amqp"
	"cashbook/internal/backend"
	"cashbook/internal/cli"
	"cashbook/internal/journal"
	"cashbook/internal/ledger"
	applog "cashbook/internal/log"
	"cashbook/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).WithComponent(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting cashbook-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	// The in-memory store lives inside the web process and cannot be shared.
	if cfg.DataBackend == string(backend.MemoryBackend) {
		logger.Error("Worker needs a shared backend", "backend", cfg.DataBackend, "supported", "sqlite, supabase")
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer res.Cleanup()

	var journalWriter journal.Writer
	if cfg.JournalEnabled() {
		j, err := journal.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleJournalSheet, journal.Credentials{
			JSON: cfg.GoogleServiceAccountJSON,
			File: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets journal", "error", err)
			os.Exit(1)
		}
		if err := j.EnsureHeader(context.Background()); err != nil {
			// Appends still work; the header is cosmetic.
			logger.Warn("Failed to write journal header", "error", err)
		}
		journalWriter = j
		logger.Info("Google Sheets journal enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleJournalSheet)
	} else {
		logger.Info("Google Sheets journal disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	w := worker.NewLedgerWorker(ledger.NewService(res.Store), journalWriter)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		stats := w.Stats()
		logger.Info("Worker stopping",
			"processed", stats.Processed,
			"dropped", stats.Dropped,
			"drifted", stats.Drifted,
			"journaled", stats.Journaled)
	})

	if err := consumer.ConsumeLedgerEvents(ctx, w.HandleLedgerEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
