// Command ledger-worker consumes ledger events from AMQP and reconciles the
// aggregates each event touched, logging any drift it finds.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"lexledger/internal/amqp"
	"lexledger/internal/cli"
	"lexledger/internal/log"
	"lexledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.MustLoadConfig()

	logger.InfoContext(context.Background(), "Starting ledger-worker", log.FieldOperation, log.OpStartup)

	if cfg.AMQPURL == "" || cfg.AMQPQueue == "" {
		logger.ErrorContext(context.Background(), "AMQP_URL and AMQP_QUEUE are required")
		os.Exit(1)
	}

	b, err := cli.InitBackend(context.Background(), logger, cfg)
	if err != nil {
		logger.ErrorContext(context.Background(), "Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	if b.Publisher == nil {
		logger.ErrorContext(context.Background(), "AMQP client unavailable")
		_ = b.Close()
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, func(ctx context.Context) {
		if err := b.Close(); err != nil {
			logger.ErrorContext(ctx, "Backend close error", log.FieldError, err)
		}
	})

	w := worker.NewAuditWorker(b.Checker, logger)

	// Events published while the worker was down may have been lost.
	if err := w.StartupCheck(ctx); err != nil {
		logger.ErrorContext(ctx, "Startup reconcile failed", log.FieldError, err)
	}

	err = b.Publisher.ConsumeLedgerEvents(ctx, func(msg *amqp.LedgerEventMessage) error {
		return w.HandleLedgerEvent(ctx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Message consumption failed", log.FieldError, err)
		_ = b.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	handled, drifted := w.Stats()
	logger.InfoContext(context.Background(), "ledger-worker stopped",
		"handled", handled, "drifted", drifted)
}
