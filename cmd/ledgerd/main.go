package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"lexledger/internal/cli"
	apphttp "lexledger/internal/http"
	"lexledger/internal/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.MustLoadConfig()

	logger.InfoContext(context.Background(), "Starting ledgerd",
		"port", cfg.Port, log.FieldOperation, log.OpStartup)

	b, err := cli.InitBackend(context.Background(), logger, cfg)
	if err != nil {
		logger.ErrorContext(context.Background(), "Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:             b.Ledger,
		Reports:            b.Reports,
		Checker:            b.Checker,
		DB:                 b.DB,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
	})

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Server shutdown error", log.FieldError, err)
		}
		if b.Processor != nil {
			if err := b.Processor.Stop(ctx); err != nil {
				logger.WarnContext(ctx, "Reconcile processor stop error", log.FieldError, err)
			}
		}
		if err := b.Close(); err != nil {
			logger.ErrorContext(ctx, "Backend close error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	if b.Processor != nil {
		if err := b.Processor.Start(gctx); err != nil {
			logger.ErrorContext(ctx, "Failed to start reconcile processor", log.FieldError, err)
			_ = b.Close()
			os.Exit(1)
		}
	}
	g.Go(func() error {
		logger.InfoContext(ctx, "Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "Server error", log.FieldError, err, "port", cfg.Port)
		_ = b.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.InfoContext(context.Background(), "Server stopped gracefully")
}
