package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"budgetsync/internal/backend"
	"budgetsync/internal/cli"
	"budgetsync/internal/config"
	applog "budgetsync/internal/log"
	"budgetsync/internal/services"
	"budgetsync/internal/sheets"
	"budgetsync/internal/storage"
)

// app holds everything one command invocation needs.
type app struct {
	cfg     *config.Config
	logger  *applog.Logger
	backend backend.Config
	factory backend.Factory

	repo      *storage.SQLiteRepository
	events    *services.EventBus
	processor *services.SyncProcessor
	service   *services.SyncService

	closeDispatcher backend.CleanupFunc
}

func newApp(ctx context.Context, cfg *config.Config, logger *applog.Logger) (*app, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger)

	remoteStore, err := factory.CreateRemote(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	ident, err := factory.CreateIdentity(bcfg)
	if err != nil {
		return nil, err
	}

	repo, err := cli.InitSQLite(logger, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	events := services.NewEventBus()
	syncLog := logger.WithComponent(applog.ComponentSync)
	events.Subscribe(func(e services.SyncEvent) {
		args := []any{
			applog.FieldKind, e.Kind,
			applog.FieldEntityID, e.EntityID,
			applog.FieldOperation, e.Operation,
		}
		if e.Stage == services.StageRemoteFailed {
			syncLog.Warn("Remote push failed", append(args, applog.FieldAttempt, e.Attempt, "will_retry", e.WillRetry, applog.FieldError, e.Err)...)
			return
		}
		syncLog.Debug("Sync "+string(e.Stage), args...)
	})

	pcfg := services.DefaultSyncProcessorConfig()
	pcfg.BatchSize = cfg.SyncBatchSize
	pcfg.PollInterval = cfg.SyncInterval
	pcfg.MaxRetries = cfg.SyncMaxRetries
	processor := services.NewSyncProcessor(repo, remoteStore, events, pcfg)

	dispatcher, closeDispatcher := factory.CreateDispatcher(bcfg, processor)

	return &app{
		cfg:             cfg,
		logger:          logger,
		backend:         bcfg,
		factory:         factory,
		repo:            repo,
		events:          events,
		processor:       processor,
		service:         services.NewSyncService(repo, remoteStore, ident, processor, dispatcher, events),
		closeDispatcher: closeDispatcher,
	}, nil
}

// exporter is built on demand so commands that never export do not need
// spreadsheet credentials.
func (a *app) exporter(ctx context.Context) (sheets.ExportReader, error) {
	return a.factory.CreateExporter(ctx, a.backend)
}

// Close waits for in-flight pushes before releasing the store.
func (a *app) Close() error {
	var errs []error
	if a.closeDispatcher != nil {
		errs = append(errs, a.closeDispatcher())
	}
	a.events.Close()
	errs = append(errs, a.repo.Close())
	return errors.Join(errs...)
}

// withApp adapts a command body to cobra, building the app around it.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer func() {
			if err := a.Close(); err != nil {
				a.logger.Error("Failed to close cleanly", applog.FieldError, err)
			}
		}()
		return fn(ctx, a, cmd, args)
	}
}
