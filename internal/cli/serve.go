package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bravapress/bravapress/internal/adapter/amqp"
	httpAdapter "github.com/bravapress/bravapress/internal/adapter/http"
	"github.com/bravapress/bravapress/internal/processor"
)

func NewServeCmd(app *App) *cobra.Command {
	var noRunner bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the in-process scheduler and the optional AMQP consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.open(ctx, cmd.OutOrStdout()); err != nil {
				return err
			}
			defer app.Close()
			return serve(ctx, app, !noRunner)
		},
	}
	cmd.Flags().BoolVar(&noRunner, "no-runner", false, "do not tick on timers; rely on /process or AMQP")
	return cmd
}

func serve(ctx context.Context, app *App, withRunner bool) error {
	cfg, logger := app.cfg, app.logger

	logger.Info("starting bravapress",
		"port", cfg.Server.Port,
		"database", cfg.Database.Driver,
		"notify", cfg.Notify.Driver,
		"payment_mode", cfg.Newswire.PaymentMode,
	)

	proc, err := app.processor(ctx)
	if err != nil {
		return err
	}

	if cfg.Queue.RecoverOnStart {
		if recovered, err := proc.RecoverStale(ctx); err != nil {
			logger.Warn("failed to recover stale jobs", "error", err)
		} else if recovered.Requeued > 0 || len(recovered.Failed) > 0 {
			logger.Info("recovered stale jobs", "requeued", recovered.Requeued, "failed", len(recovered.Failed))
		}
	}

	// Background loops stop on any return and finish before the store closes.
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if withRunner {
		runner := processor.NewRunner(proc, app.queue, processor.RunnerOptions{
			TickInterval:    cfg.Queue.TickInterval,
			MonitorInterval: cfg.Queue.MonitorInterval,
			CleanupInterval: cfg.Queue.CleanupInterval,
			Retention:       cfg.Queue.Retention,
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	if cfg.AMQP.URL != "" {
		client, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer client.Close()
			err := client.Consume(ctx, func(ctx context.Context) error {
				_, err := proc.Tick(ctx)
				return err
			}, logger)
			if err != nil && ctx.Err() == nil {
				logger.Error("amqp consumer stopped", "error", err)
			}
		}()
	}

	srv := httpAdapter.NewServer(app.queue, app.subs, proc, httpAdapter.Options{
		Addr:          fmt.Sprintf(":%d", cfg.Server.Port),
		AdminToken:    cfg.Server.AdminToken,
		WebhookSecret: cfg.Server.WebhookSecret,
		Logger:        logger,
	})
	if cfg.Server.WebhookSecret == "" {
		logger.Warn("webhook signature verification disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
