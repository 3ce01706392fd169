package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bravapress/bravapress/internal/adapter/browser"
	"github.com/bravapress/bravapress/internal/adapter/newswire"
	"github.com/bravapress/bravapress/internal/adapter/notify"
	"github.com/bravapress/bravapress/internal/adapter/postgres"
	"github.com/bravapress/bravapress/internal/adapter/sqlite"
	"github.com/bravapress/bravapress/internal/config"
	"github.com/bravapress/bravapress/internal/domain"
	"github.com/bravapress/bravapress/internal/handler"
	"github.com/bravapress/bravapress/internal/observability"
	"github.com/bravapress/bravapress/internal/processor"
)

// App holds the resources shared by subcommands. open populates it.
type App struct {
	ConfigPath string

	cfg     *config.Config
	logger  *slog.Logger
	queue   *domain.QueueService
	subs    domain.SubmissionRepository
	closers []func() error
}

// open loads config, builds the logger on logOut and connects the store.
func (a *App) open(ctx context.Context, logOut io.Writer) error {
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = observability.NewLoggerTo(logOut, cfg.LogLevel)

	switch cfg.Database.Driver {
	case "postgres":
		store, err := postgres.New(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		a.queue = domain.NewQueueService(store, cfg.QueueOptions())
		a.subs = store.Submissions()
	default:
		repo, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.queue = domain.NewQueueService(repo, cfg.QueueOptions())
		a.subs = repo.Submissions()
	}
	return nil
}

// Close releases everything open acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) notifier(ctx context.Context) (domain.Notifier, error) {
	n := a.cfg.Notify
	if n.Driver != "redis" {
		return notify.NewLog(a.logger), nil
	}
	rn, err := notify.NewRedis(ctx, n.RedisAddr, n.RedisPassword, n.RedisList, n.From)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rn.Close)
	return rn, nil
}

// processor wires every job type to its handler.
func (a *App) processor(ctx context.Context) (*processor.Processor, error) {
	notifier, err := a.notifier(ctx)
	if err != nil {
		return nil, err
	}

	launcher := browser.NewLauncher(browser.Options{
		ExecPath: a.cfg.Browser.ExecPath,
		Timeout:  a.cfg.Browser.Timeout,
	})
	workflow := newswire.New(launcher, newswire.Config{
		BaseURL:      a.cfg.Newswire.BaseURL,
		Email:        a.cfg.Newswire.Email,
		Password:     a.cfg.Newswire.Password,
		PackageTier:  a.cfg.Newswire.PackageTier,
		StageTimeout: a.cfg.Browser.Timeout,
	}, a.logger.With("component", "newswire"))

	// validated by config.Load
	mode, _ := domain.ParsePaymentMode(a.cfg.Newswire.PaymentMode)

	registry := processor.NewRegistry()
	registry.Register(domain.TypeSubmission, handler.NewSubmission(a.subs, a.queue, workflow, handler.SubmissionOptions{
		PaymentMode: mode,
		Headless:    a.cfg.Browser.Headless,
		PackageTier: a.cfg.Newswire.PackageTier,
	}, a.logger))
	registry.Register(domain.TypeNotification, handler.NewNotification(notifier, a.logger))
	registry.Register(domain.TypeCleanup, handler.NewCleanup(a.queue, a.logger))
	proc := processor.New(a.queue, registry, a.logger)
	registry.Register(domain.TypeMonitoring, handler.NewMonitoring(a.queue, proc, a.logger))
	return proc, nil
}
